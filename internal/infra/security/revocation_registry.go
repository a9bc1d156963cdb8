package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-session-service/internal/core/domain"
	"github.com/arklim/auth-session-service/internal/core/port"
)

// RevocationRegistry is the in-process set of revoked access token ids.
// Entries are dropped once the token they describe has expired.
type RevocationRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationRegistry returns an empty registry.
func NewRevocationRegistry() *RevocationRegistry {
	return &RevocationRegistry{
		entries: make(map[string]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic testing.
func (r *RevocationRegistry) WithClock(clock func() time.Time) *RevocationRegistry {
	if clock != nil {
		r.mu.Lock()
		r.now = clock
		r.mu.Unlock()
	}
	return r
}

// Revoke is idempotent. Already-expired tokens are not recorded.
func (r *RevocationRegistry) Revoke(_ context.Context, revocation domain.TokenRevocation) error {
	jti := strings.TrimSpace(revocation.JTI)
	if jti == "" {
		return fmt.Errorf("jti is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if revocation.IsExpired(r.now()) {
		return nil
	}
	if current, ok := r.entries[jti]; ok && current.After(revocation.ExpiresAt) {
		return nil
	}
	r.entries[jti] = revocation.ExpiresAt.UTC()
	return nil
}

// IsRevoked prunes the entry lazily when it has expired.
func (r *RevocationRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, fmt.Errorf("jti is required")
	}

	r.mu.RLock()
	expiresAt, ok := r.entries[jti]
	now := r.now()
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if !expiresAt.After(now) {
		r.mu.Lock()
		if current, still := r.entries[jti]; still && !current.After(now) {
			delete(r.entries, jti)
		}
		r.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Prune removes every expired entry and returns how many were dropped.
func (r *RevocationRegistry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for jti, expiresAt := range r.entries {
		if !expiresAt.After(now) {
			delete(r.entries, jti)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (r *RevocationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (r *RevocationRegistry) Run(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			now := r.now()
			r.mu.RUnlock()
			if removed := r.Prune(now); removed > 0 {
				logger.Debug("pruned expired revocations", zap.Int("removed", removed), zap.Int("remaining", r.Len()))
			}
		}
	}
}

var (
	_ port.RevocationRegistry = (*RevocationRegistry)(nil)
	_ port.RevocationSweeper  = (*RevocationRegistry)(nil)
)
