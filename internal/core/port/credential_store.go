package port

import (
	"context"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

// CredentialStore persists user records. Lookups return repository.ErrNotFound when no record matches.
type CredentialStore interface {
	FindByName(ctx context.Context, name string) (*domain.UserRecord, error)
	FindByID(ctx context.Context, id string) (*domain.UserRecord, error)
	// Insert fails with repository.ErrDuplicateName when the name is taken.
	Insert(ctx context.Context, record domain.UserRecord) (*domain.UserRecord, error)
	// CompareAndSetRefreshToken replaces the stored refresh token hash only if it still equals expected.
	// An empty expected value matches a record without an active refresh token.
	// Unknown ids yield either false or repository.ErrNotFound depending on the driver.
	CompareAndSetRefreshToken(ctx context.Context, id, expected, next string, expiresAt time.Time) (bool, error)
	ClearRefreshToken(ctx context.Context, id string) error
	UpdateCredential(ctx context.Context, id, credentialHash string) error
	// CompareAndSetCredential swaps the credential hash only if it still equals expected.
	CompareAndSetCredential(ctx context.Context, id, expected, next string) (bool, error)
}

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
