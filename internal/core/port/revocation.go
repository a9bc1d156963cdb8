package port

import (
	"context"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

// RevocationRegistry rejects access tokens before their natural expiry.
type RevocationRegistry interface {
	Revoke(ctx context.Context, revocation domain.TokenRevocation) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationSweeper is implemented by registries that hold entries in process memory.
type RevocationSweeper interface {
	Prune(now time.Time) int
}
