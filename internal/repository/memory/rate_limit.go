package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arklim/auth-session-service/internal/core/port"
)

// RateLimitStore is a single-process sliding window used when Redis is not configured.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(threshold) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, identifier)
		return nil
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.inWindow(identifier, window, reference)), nil
}

func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[identifier], at)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	s.attempts[identifier] = list
	return nil
}

func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.inWindow(identifier, window, reference)
	if len(in) == 0 {
		return time.Time{}, false, nil
	}
	return in[0], true, nil
}

func (s *RateLimitStore) inWindow(identifier string, window time.Duration, reference time.Time) []time.Time {
	from := reference.Add(-window)
	var out []time.Time
	for _, at := range s.attempts[identifier] {
		if !at.Before(from) && !at.After(reference) {
			out = append(out, at)
		}
	}
	return out
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)
