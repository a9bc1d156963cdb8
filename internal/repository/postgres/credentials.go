package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/repository"
)

const (
	credentialsTable = "auth.credentials"

	uniqueViolation = "23505"
)

var credentialColumns = []string{
	"id",
	"name",
	"credential_hash",
	"recovery_question",
	"recovery_answer_hash",
	"refresh_token_hash",
	"refresh_token_expires_at",
	"created_at",
	"updated_at",
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pinger interface {
	Ping(ctx context.Context) error
}

// CredentialStore implements port.CredentialStore on PostgreSQL.
type CredentialStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewCredentialStore accepts a *pgxpool.Pool, a pgx.Tx or a mock.
func NewCredentialStore(exec pgExecutor) *CredentialStore {
	return &CredentialStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for updated_at.
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *CredentialStore) FindByName(ctx context.Context, name string) (*domain.UserRecord, error) {
	return s.findOne(ctx, squirrel.Eq{"name": name})
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	return s.findOne(ctx, squirrel.Eq{"id": id})
}

func (s *CredentialStore) Insert(ctx context.Context, record domain.UserRecord) (*domain.UserRecord, error) {
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt

	stmt, args, err := s.builder.Insert(credentialsTable).
		Columns(credentialColumns...).
		Values(
			record.ID,
			record.Name,
			record.CredentialHash,
			record.RecoveryQuestion,
			record.RecoveryAnswerHash,
			nullableString(record.RefreshTokenHash),
			record.RefreshTokenExpiresAt,
			record.CreatedAt,
			record.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert credential sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrDuplicateName
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	return &record, nil
}

// CompareAndSetRefreshToken is a single conditional UPDATE. NULL and "" are the same expectation.
func (s *CredentialStore) CompareAndSetRefreshToken(ctx context.Context, id, expected, next string, expiresAt time.Time) (bool, error) {
	stmt, args, err := s.builder.Update(credentialsTable).
		Set("refresh_token_hash", nullableString(next)).
		Set("refresh_token_expires_at", expiresAt.UTC()).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Expr("refresh_token_hash IS NOT DISTINCT FROM ?", nullableString(expected))).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build rotate refresh token sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("rotate refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *CredentialStore) ClearRefreshToken(ctx context.Context, id string) error {
	stmt, args, err := s.builder.Update(credentialsTable).
		Set("refresh_token_hash", squirrel.Expr("NULL")).
		Set("refresh_token_expires_at", squirrel.Expr("NULL")).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear refresh token sql: %w", err)
	}

	return s.execOne(ctx, stmt, args, "clear refresh token")
}

func (s *CredentialStore) UpdateCredential(ctx context.Context, id, credentialHash string) error {
	stmt, args, err := s.builder.Update(credentialsTable).
		Set("credential_hash", credentialHash).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update credential sql: %w", err)
	}

	return s.execOne(ctx, stmt, args, "update credential")
}

// CompareAndSetCredential updates the hash only while it still equals expected.
func (s *CredentialStore) CompareAndSetCredential(ctx context.Context, id, expected, next string) (bool, error) {
	stmt, args, err := s.builder.Update(credentialsTable).
		Set("credential_hash", next).
		Set("updated_at", s.now()).
		Where(squirrel.Eq{"id": id, "credential_hash": expected}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build swap credential sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("swap credential: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping reports pool connectivity when the executor supports it.
func (s *CredentialStore) Ping(ctx context.Context) error {
	if p, ok := s.exec.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *CredentialStore) execOne(ctx context.Context, stmt string, args []any, op string) error {
	tag, err := s.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *CredentialStore) findOne(ctx context.Context, where squirrel.Eq) (*domain.UserRecord, error) {
	stmt, args, err := s.builder.Select(credentialColumns...).
		From(credentialsTable).
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential sql: %w", err)
	}

	var (
		record       domain.UserRecord
		refreshToken *string
	)
	err = s.exec.QueryRow(ctx, stmt, args...).Scan(
		&record.ID,
		&record.Name,
		&record.CredentialHash,
		&record.RecoveryQuestion,
		&record.RecoveryAnswerHash,
		&refreshToken,
		&record.RefreshTokenExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	if refreshToken != nil {
		record.RefreshTokenHash = *refreshToken
	}
	return &record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var (
	_ port.CredentialStore = (*CredentialStore)(nil)
	_ port.HealthChecker   = (*CredentialStore)(nil)
)
