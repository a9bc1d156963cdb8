package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/auth-session-service/internal/core/domain"
)

func TestLoginIssuesWorkingPair(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	registered := f.register(t, "alice", "p1", "", "")

	pair, user, err := f.sessions.Login(context.Background(), "alice", "p1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user != registered {
		t.Fatalf("unexpected identity %+v, want %+v", user, registered)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if !pair.RefreshTokenExpiresAt.After(pair.AccessTokenExpiresAt) {
		t.Fatalf("refresh token should outlive the access token")
	}

	identity, err := f.sessions.Authorize(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if identity.UserID != registered.ID || identity.Name != "alice" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	record, err := f.store.FindByID(context.Background(), registered.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if record.RefreshTokenHash == "" || record.RefreshTokenHash == pair.RefreshToken {
		t.Fatalf("store must hold a hash of the refresh token, got %q", record.RefreshTokenHash)
	}
	if !f.events.has(domain.EventSessionStarted) {
		t.Fatalf("expected session.started event, got %v", f.events.types())
	}
}

func TestLoginRejectionsAreIndistinguishable(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")

	_, _, wrongCredential := f.sessions.Login(context.Background(), "alice", "nope")
	_, _, unknownName := f.sessions.Login(context.Background(), "bob", "p1")

	if !errors.Is(wrongCredential, ErrInvalidCredentials) || !errors.Is(unknownName, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", wrongCredential, unknownName)
	}
	if wrongCredential.Error() != unknownName.Error() {
		t.Fatalf("rejections differ: %q vs %q", wrongCredential, unknownName)
	}
}

func TestLoginRequiresInput(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	if _, _, err := f.sessions.Login(context.Background(), "  ", "p1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := f.sessions.Login(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginIsCaseSensitive(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "Alice", "p1", "", "")

	if _, _, err := f.sessions.Login(context.Background(), "alice", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for different case, got %v", err)
	}
}

func TestSecondLoginSupersedesFirstRefreshToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")

	first := f.login(t, "alice", "p1")
	second := f.login(t, "alice", "p1")

	if _, err := f.sessions.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected first refresh token to be superseded, got %v", err)
	}
	if _, err := f.sessions.Refresh(context.Background(), second.RefreshToken); err != nil {
		t.Fatalf("second refresh token should work: %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	pair := f.login(t, "alice", "p1")

	next, err := f.sessions.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh must rotate the refresh token")
	}
	if _, err := f.sessions.AuthorizeToken(context.Background(), next.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}

	if _, err := f.sessions.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("replayed refresh token must fail, got %v", err)
	}
	if !f.events.has(domain.EventSessionRefreshed) {
		t.Fatalf("expected session.refreshed event")
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	user := f.register(t, "alice", "p1", "", "")
	f.login(t, "alice", "p1")

	cases := []string{
		"not-a-token",
		user.ID + ".short",
		"unknown-user.AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}
	for _, token := range cases {
		if _, err := f.sessions.Refresh(context.Background(), token); !errors.Is(err, ErrInvalidOrExpired) {
			t.Fatalf("Refresh(%q): expected ErrInvalidOrExpired, got %v", token, err)
		}
	}
	if _, err := f.sessions.Refresh(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty token, got %v", err)
	}
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	pair := f.login(t, "alice", "p1")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.sessions.Refresh(context.Background(), pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidOrExpired):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || failures != callers-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d failures", successes, failures)
	}
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	pair := f.login(t, "alice", "p1")

	identity, err := f.sessions.AuthorizeToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("AuthorizeToken: %v", err)
	}
	if err := f.sessions.Logout(context.Background(), identity); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := f.sessions.AuthorizeToken(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, err := f.sessions.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected cleared refresh token, got %v", err)
	}

	// Idempotent.
	if err := f.sessions.Logout(context.Background(), identity); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if !f.events.has(domain.EventTokenRevoked) || !f.events.has(domain.EventSessionEnded) {
		t.Fatalf("expected token.revoked and session.ended events, got %v", f.events.types())
	}
}

func TestLogoutDoesNotAffectOtherUsers(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	f.register(t, "bob", "p2", "", "")
	alice := f.login(t, "alice", "p1")
	bob := f.login(t, "bob", "p2")

	identity, err := f.sessions.AuthorizeToken(context.Background(), alice.AccessToken)
	if err != nil {
		t.Fatalf("AuthorizeToken: %v", err)
	}
	if err := f.sessions.Logout(context.Background(), identity); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := f.sessions.AuthorizeToken(context.Background(), bob.AccessToken); err != nil {
		t.Fatalf("bob's access token should still work: %v", err)
	}
	if _, err := f.sessions.Refresh(context.Background(), bob.RefreshToken); err != nil {
		t.Fatalf("bob's refresh token should still work: %v", err)
	}
}

func TestAuthorizeHeaderParsing(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	pair := f.login(t, "alice", "p1")

	for _, header := range []string{"", "Bearer", "Basic abc", "Bearer  ", pair.AccessToken} {
		if _, err := f.sessions.Authorize(context.Background(), header); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authorize(%q): expected ErrUnauthenticated, got %v", header, err)
		}
	}
	if _, err := f.sessions.Authorize(context.Background(), "bearer "+pair.AccessToken); err != nil {
		t.Fatalf("scheme should be case-insensitive: %v", err)
	}
	if _, err := f.sessions.Authorize(context.Background(), "Bearer "+pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token must not authorize, got %v", err)
	}
}

func TestAuthorizeRejectsResetGrant(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "city?", "Paris")

	grant, err := f.recovery.SubmitRecoveryAnswer(context.Background(), "alice", "Paris")
	if err != nil {
		t.Fatalf("SubmitRecoveryAnswer: %v", err)
	}
	if _, err := f.sessions.AuthorizeToken(context.Background(), grant.ResetToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reset grant must not work as access token, got %v", err)
	}
}

func TestDegradationPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  domain.DegradationPolicyMode
		wantErr error
	}{
		{name: "lenient accepts", policy: domain.DegradationPolicyModeLenient},
		{name: "strict rejects", policy: domain.DegradationPolicyModeStrict, wantErr: ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{policy: tt.policy, registry: failingRegistry{}})
			f.register(t, "alice", "p1", "", "")
			pair := f.login(t, "alice", "p1")

			_, err := f.sessions.AuthorizeToken(context.Background(), pair.AccessToken)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChangeCredential(t *testing.T) {
	for _, revoke := range []bool{false, true} {
		name := "keeps sessions"
		if revoke {
			name = "ends sessions"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{revokeOnChange: revoke})
			f.register(t, "alice", "p1", "", "")
			pair := f.login(t, "alice", "p1")

			identity, err := f.sessions.AuthorizeToken(context.Background(), pair.AccessToken)
			if err != nil {
				t.Fatalf("AuthorizeToken: %v", err)
			}
			if err := f.sessions.ChangeCredential(context.Background(), identity, "wrong", "p2"); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if err := f.sessions.ChangeCredential(context.Background(), identity, "p1", "p2"); err != nil {
				t.Fatalf("ChangeCredential: %v", err)
			}

			if _, _, err := f.sessions.Login(context.Background(), "alice", "p1"); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("old credential must stop working, got %v", err)
			}

			_, refreshErr := f.sessions.Refresh(context.Background(), pair.RefreshToken)
			if revoke && !errors.Is(refreshErr, ErrInvalidOrExpired) {
				t.Fatalf("expected refresh token to be cleared, got %v", refreshErr)
			}
			if !revoke && refreshErr != nil {
				t.Fatalf("expected refresh token to survive, got %v", refreshErr)
			}

			f.login(t, "alice", "p2")
		})
	}
}

func TestChangeCredentialRequiresInput(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	user := f.register(t, "alice", "p1", "", "")

	err := f.sessions.ChangeCredential(context.Background(), domain.Identity{UserID: user.ID}, "p1", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.sessions.ChangeCredential(context.Background(), domain.Identity{}, "p1", "p2"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestStoreTimeoutIsServerError(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	sessions := NewSessionService(slowStore{f.store}, f.hasher, f.codec, f.registry, SessionConfig{},
		WithStoreTimeout(20*time.Millisecond),
	)

	_, _, err := sessions.Login(context.Background(), "alice", "p1")
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("timeout must not look like a rejection")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline to stay reachable, got %v", err)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	user := f.register(t, "alice", "p1", "", "")

	past := time.Now().Add(-time.Hour)
	f.codec.WithClock(func() time.Time { return past })
	token, _, err := f.codec.MintAccessToken(user.ID, user.Name)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}
	f.codec.WithClock(func() time.Time { return time.Now().UTC() })

	if _, err := f.sessions.AuthorizeToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc.def")
	if err != nil || token != "abc.def" {
		t.Fatalf("unexpected result %q, %v", token, err)
	}
	if _, err := BearerToken("Bearer a b"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLogoutCanBeRetriedAfterStoreFailure(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.register(t, "alice", "p1", "", "")
	pair := f.login(t, "alice", "p1")
	ctx := context.Background()

	sessions := NewSessionService(&flakyClearStore{CredentialStore: f.store}, f.hasher, f.codec, f.registry, SessionConfig{},
		WithStoreTimeout(time.Second))

	identity, err := sessions.AuthorizeToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("AuthorizeToken: %v", err)
	}

	if err := sessions.Logout(ctx, identity); !errors.Is(err, ErrServerError) {
		t.Fatalf("expected server error from failing store, got %v", err)
	}

	retry, err := sessions.AuthorizeToken(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("access token must stay usable after a failed logout: %v", err)
	}
	if err := sessions.Logout(ctx, retry); err != nil {
		t.Fatalf("retried Logout: %v", err)
	}

	if _, err := sessions.AuthorizeToken(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, err := sessions.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected refresh token to be cleared, got %v", err)
	}
}
