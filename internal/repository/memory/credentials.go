package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/repository"
)

// CredentialStore keeps user records in process memory.
// Every mutation holds the lock for a single record update only.
type CredentialStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.UserRecord
	byName map[string]string
	now    func() time.Time
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:   make(map[string]*domain.UserRecord),
		byName: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for UpdatedAt.
func (s *CredentialStore) WithClock(now func() time.Time) *CredentialStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *CredentialStore) FindByName(ctx context.Context, name string) (*domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(record), nil
}

func (s *CredentialStore) Insert(ctx context.Context, record domain.UserRecord) (*domain.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[record.Name]; exists {
		return nil, repository.ErrDuplicateName
	}
	if _, exists := s.byID[record.ID]; exists {
		return nil, repository.ErrDuplicateName
	}

	stored := clone(&record)
	s.byID[record.ID] = stored
	s.byName[record.Name] = record.ID
	return clone(stored), nil
}

func (s *CredentialStore) CompareAndSetRefreshToken(ctx context.Context, id, expected, next string, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if record.RefreshTokenHash != expected {
		return false, nil
	}

	expiry := expiresAt.UTC()
	record.RefreshTokenHash = next
	record.RefreshTokenExpiresAt = &expiry
	record.UpdatedAt = s.now()
	return true, nil
}

func (s *CredentialStore) ClearRefreshToken(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	record.RefreshTokenHash = ""
	record.RefreshTokenExpiresAt = nil
	record.UpdatedAt = s.now()
	return nil
}

func (s *CredentialStore) UpdateCredential(ctx context.Context, id, credentialHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	record.CredentialHash = credentialHash
	record.UpdatedAt = s.now()
	return nil
}

func (s *CredentialStore) CompareAndSetCredential(ctx context.Context, id, expected, next string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if record.CredentialHash != expected {
		return false, nil
	}
	record.CredentialHash = next
	record.UpdatedAt = s.now()
	return true, nil
}

// Ping always succeeds.
func (s *CredentialStore) Ping(context.Context) error {
	return nil
}

func clone(record *domain.UserRecord) *domain.UserRecord {
	if record == nil {
		return nil
	}
	copied := *record
	if record.RefreshTokenExpiresAt != nil {
		expiry := *record.RefreshTokenExpiresAt
		copied.RefreshTokenExpiresAt = &expiry
	}
	return &copied
}

var (
	_ port.CredentialStore = (*CredentialStore)(nil)
	_ port.HealthChecker   = (*CredentialStore)(nil)
)
