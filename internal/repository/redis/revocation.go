package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
)

const defaultRevocationPrefix = "auth:revoked"

// RevocationRegistry keeps revoked access token ids in Redis so every instance sees them.
// Each key lives exactly as long as the token it describes.
type RevocationRegistry struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewRevocationRegistry wires a Redis client into a shared revocation registry.
func NewRevocationRegistry(client *red.Client, keyPrefix string) *RevocationRegistry {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRegistry{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used to compute key TTLs.
func (r *RevocationRegistry) WithClock(now func() time.Time) *RevocationRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

// Revoke stores the jti with a TTL equal to the token's remaining lifetime.
func (r *RevocationRegistry) Revoke(ctx context.Context, revocation domain.TokenRevocation) error {
	key := r.key(revocation.JTI)
	if key == "" {
		return errors.New("jti must not be empty")
	}

	ttl := revocation.TTL(r.now())
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, key, revocation.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}
	return nil
}

// IsRevoked reports whether the jti key exists.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	key := r.key(jti)
	if key == "" {
		return false, errors.New("jti must not be empty")
	}

	if err := r.client.Get(ctx, key).Err(); err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get revoked jti: %w", err)
	}
	return true, nil
}

func (r *RevocationRegistry) key(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.RevocationRegistry = (*RevocationRegistry)(nil)
