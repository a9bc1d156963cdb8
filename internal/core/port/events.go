package port

import (
	"context"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
