package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/repository"
)

var fixedNow = time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*CredentialStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	store := NewCredentialStore(mock).WithClock(func() time.Time { return fixedNow })
	return store, mock
}

func credentialRow(refreshHash any, refreshExpiry any) *pgxmock.Rows {
	return pgxmock.NewRows(credentialColumns).AddRow(
		"user-1", "alice", "argon2id$hash", "city?", "argon2id$answer",
		refreshHash, refreshExpiry, fixedNow, fixedNow,
	)
}

func TestCredentialStore_FindByName(t *testing.T) {
	store, mock := newMockStore(t)

	expiry := fixedNow.Add(time.Hour)
	refresh := "abc123"
	mock.ExpectQuery(`SELECT .* FROM auth\.credentials WHERE name = \$1`).
		WithArgs("alice").
		WillReturnRows(credentialRow(&refresh, &expiry))

	record, err := store.FindByName(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByName returned error: %v", err)
	}
	if record.ID != "user-1" || record.RecoveryQuestion != "city?" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.RefreshTokenHash != "abc123" || record.RefreshTokenExpiresAt == nil {
		t.Fatalf("expected refresh token state to be scanned, got %+v", record)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStore_FindByIDWithoutSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM auth\.credentials WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(credentialRow(nil, nil))

	record, err := store.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if record.RefreshTokenHash != "" || record.RefreshTokenExpiresAt != nil {
		t.Fatalf("expected no active session, got %+v", record)
	}
}

func TestCredentialStore_FindNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM auth\.credentials`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.FindByName(context.Background(), "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialStore_Insert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO auth\.credentials`).
		WithArgs("user-1", "alice", "argon2id$hash", "city?", "argon2id$answer", pgxmock.AnyArg(), pgxmock.AnyArg(), fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	record, err := store.Insert(context.Background(), domain.UserRecord{
		ID:                 "user-1",
		Name:               "alice",
		CredentialHash:     "argon2id$hash",
		RecoveryQuestion:   "city?",
		RecoveryAnswerHash: "argon2id$answer",
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if !record.CreatedAt.Equal(fixedNow) {
		t.Fatalf("expected created_at to default to now, got %v", record.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStore_InsertDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO auth\.credentials`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "credentials_name_key"})

	_, err := store.Insert(context.Background(), domain.UserRecord{ID: "user-2", Name: "alice", CredentialHash: "h"})
	if !errors.Is(err, repository.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCredentialStore_CompareAndSetRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)
	expiry := fixedNow.Add(7 * 24 * time.Hour)

	mock.ExpectExec(`UPDATE auth\.credentials SET refresh_token_hash = \$1, refresh_token_expires_at = \$2, updated_at = \$3 WHERE id = \$4 AND refresh_token_hash IS NOT DISTINCT FROM \$5`).
		WithArgs("new-hash", expiry, fixedNow, "user-1", "old-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	swapped, err := store.CompareAndSetRefreshToken(context.Background(), "user-1", "old-hash", "new-hash", expiry)
	if err != nil {
		t.Fatalf("CompareAndSetRefreshToken returned error: %v", err)
	}
	if !swapped {
		t.Fatal("expected swap to succeed")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStore_CompareAndSetLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	expiry := fixedNow.Add(time.Hour)

	mock.ExpectExec(`UPDATE auth\.credentials`).
		WithArgs("new-hash", expiry, fixedNow, "user-1", "old-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	swapped, err := store.CompareAndSetRefreshToken(context.Background(), "user-1", "old-hash", "new-hash", expiry)
	if err != nil {
		t.Fatalf("CompareAndSetRefreshToken returned error: %v", err)
	}
	if swapped {
		t.Fatal("expected swap to fail when the stored hash moved on")
	}
}

func TestCredentialStore_ClearRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE auth\.credentials SET refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = \$1 WHERE id = \$2`).
		WithArgs(fixedNow, "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.ClearRefreshToken(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearRefreshToken returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStore_UpdateCredentialNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE auth\.credentials SET credential_hash = \$1`).
		WithArgs("argon2id$new", fixedNow, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.UpdateCredential(context.Background(), "ghost", "argon2id$new"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialStore_CompareAndSetCredential(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE auth\.credentials SET credential_hash = \$1, updated_at = \$2 WHERE credential_hash = \$3 AND id = \$4`).
		WithArgs("argon2id$new", fixedNow, "argon2id$old", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE auth\.credentials SET credential_hash = \$1`).
		WithArgs("argon2id$newer", fixedNow, "argon2id$old", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	swapped, err := store.CompareAndSetCredential(context.Background(), "user-1", "argon2id$old", "argon2id$new")
	if err != nil || !swapped {
		t.Fatalf("expected first swap to succeed, got %v (%v)", swapped, err)
	}
	swapped, err = store.CompareAndSetCredential(context.Background(), "user-1", "argon2id$old", "argon2id$newer")
	if err != nil || swapped {
		t.Fatalf("expected stale swap to fail, got %v (%v)", swapped, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
