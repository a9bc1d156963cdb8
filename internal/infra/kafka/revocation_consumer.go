package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
)

// RevocationGroupID gives every instance its own group so each one sees every revocation.
func RevocationGroupID(prefix, instanceID string) string {
	if prefix == "" {
		return "revocation." + instanceID
	}
	return prefix + ".revocation." + instanceID
}

// RevocationConsumer copies token.revoked events from other instances into the local registry.
type RevocationConsumer struct {
	registry   port.RevocationRegistry
	logger     *zap.Logger
	instanceID string
	now        func() time.Time
}

func NewRevocationConsumer(registry port.RevocationRegistry, instanceID string, logger *zap.Logger) *RevocationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationConsumer{
		registry:   registry,
		logger:     logger,
		instanceID: instanceID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes the envelope and applies the revocation.
func (c *RevocationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	env, err := DecodeEnvelope(msg.Value)
	if err != nil {
		return err
	}
	if env.EventType != string(domain.EventTokenRevoked) {
		return nil
	}
	// Our own revocations were applied before publishing.
	if c.instanceID != "" && env.Metadata[metaInstanceID] == c.instanceID {
		return nil
	}

	var event domain.TokenRevokedEvent
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		return fmt.Errorf("decode token revoked event: %w", err)
	}
	return c.HandleEvent(ctx, event)
}

// HandleEvent skips revocations whose token has already expired.
func (c *RevocationConsumer) HandleEvent(ctx context.Context, event domain.TokenRevokedEvent) error {
	if event.JTI == "" {
		return fmt.Errorf("token revoked event without jti")
	}

	revocation := event.Revocation()
	now := c.now()
	if revocation.IsExpired(now) {
		c.logger.Debug("skip expired revocation", zap.String("jti", event.JTI))
		return nil
	}

	if !event.RevokedAt.IsZero() {
		if lag := now.Sub(event.RevokedAt); lag > time.Minute {
			c.logger.Warn("token revocation event lag", zap.Duration("lag", lag), zap.String("jti", event.JTI))
		}
	}

	if err := c.registry.Revoke(ctx, revocation); err != nil {
		return fmt.Errorf("apply revocation: %w", err)
	}
	return nil
}

var _ MessageHandler = (*RevocationConsumer)(nil)
