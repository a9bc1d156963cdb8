package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
	"github.com/arklim/auth-session-service/internal/infra/security"
	"github.com/arklim/auth-session-service/internal/repository/memory"
)

type fixture struct {
	store    *memory.CredentialStore
	hasher   *security.Argon2Hasher
	codec    *security.TokenCodec
	registry *security.RevocationRegistry
	events   *recordingPublisher

	registration *RegistrationService
	sessions     *SessionService
	recovery     *RecoveryService
}

type fixtureOptions struct {
	revokeOnChange bool
	policy         domain.DegradationPolicyMode
	registry       port.RevocationRegistry
	resetTTL       time.Duration
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher: %v", err)
	}

	resetTTL := opts.resetTTL
	if resetTTL == 0 {
		resetTTL = 10 * time.Minute
	}
	codec, err := security.NewTokenCodec(security.CodecConfig{
		AccessSecret:  []byte("access-secret-0123456789"),
		RefreshSecret: []byte("refresh-secret-0123456789"),
		Issuer:        "auth-session-service",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		ResetTTL:      resetTTL,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	f := &fixture{
		store:    memory.NewCredentialStore(),
		hasher:   hasher,
		codec:    codec,
		registry: security.NewRevocationRegistry(),
		events:   &recordingPublisher{},
	}

	registry := opts.registry
	if registry == nil {
		registry = f.registry
	}

	common := []Option{WithEvents(f.events), WithStoreTimeout(time.Second)}
	f.registration = NewRegistrationService(f.store, hasher, common...)
	f.sessions = NewSessionService(f.store, hasher, codec, registry, SessionConfig{
		RevokeOnCredentialChange: opts.revokeOnChange,
		DegradationPolicy:        domain.NewDegradationPolicy(opts.policy),
	}, common...)
	f.recovery = NewRecoveryService(f.store, hasher, codec, common...)
	return f
}

func (f *fixture) register(t *testing.T, name, credential, question, answer string) domain.PublicIdentity {
	t.Helper()
	user, err := f.registration.Register(context.Background(), RegisterInput{
		Name:       name,
		Credential: credential,
		Question:   question,
		Answer:     answer,
	})
	if err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
	return user
}

func (f *fixture) login(t *testing.T, name, credential string) domain.TokenPair {
	t.Helper()
	pair, _, err := f.sessions.Login(context.Background(), name, credential)
	if err != nil {
		t.Fatalf("Login(%q): %v", name, err)
	}
	return pair
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type())
	}
	return out
}

func (p *recordingPublisher) has(eventType domain.EventType) bool {
	for _, got := range p.types() {
		if got == eventType {
			return true
		}
	}
	return false
}

type failingRegistry struct{}

func (failingRegistry) Revoke(context.Context, domain.TokenRevocation) error {
	return errors.New("registry unavailable")
}

func (failingRegistry) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("registry unavailable")
}

// slowStore blocks every lookup until the caller's deadline passes.
type slowStore struct {
	*memory.CredentialStore
}

func (s slowStore) FindByName(ctx context.Context, _ string) (*domain.UserRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyClearStore fails the first ClearRefreshToken call.
type flakyClearStore struct {
	*memory.CredentialStore
	mu     sync.Mutex
	failed bool
}

func (s *flakyClearStore) ClearRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.failed {
		s.failed = true
		s.mu.Unlock()
		return errors.New("store unavailable")
	}
	s.mu.Unlock()
	return s.CredentialStore.ClearRefreshToken(ctx, id)
}
