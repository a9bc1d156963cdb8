package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
)

// StubPublisher logs events instead of sending them. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) Publish(_ context.Context, event domain.Event) error {
	if event == nil {
		return nil
	}
	p.logger.Debug("stub event published",
		zap.String("event_type", string(event.Type())),
		zap.String("key", event.Key()),
		zap.Any("payload", event),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
