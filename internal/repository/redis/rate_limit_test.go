package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_SlidingWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "auth:rate-limit", TTL: 2 * time.Minute})
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "login:198.51.100.7", base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "login:198.51.100.7", time.Minute, base.Add(30*time.Second))
	if err != nil || count != 3 {
		t.Fatalf("expected 3 attempts, got %d err=%v", count, err)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "login:198.51.100.7", time.Minute, base.Add(30*time.Second))
	if err != nil || !ok || !oldest.Equal(base) {
		t.Fatalf("unexpected oldest attempt %v ok=%v err=%v", oldest, ok, err)
	}

	if err := repo.TrimWindow(ctx, "login:198.51.100.7", time.Minute, base.Add(75*time.Second)); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}
	count, _ = repo.CountAttempts(ctx, "login:198.51.100.7", time.Minute, base.Add(75*time.Second))
	if count != 1 {
		t.Fatalf("expected 1 attempt after trim, got %d", count)
	}

	if ttl := server.TTL("auth:rate-limit:login:198.51.100.7"); ttl <= 0 {
		t.Fatalf("expected key ttl to be set, got %v", ttl)
	}
}

func TestRateLimitRepository_RejectsNonPositiveWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.CountAttempts(context.Background(), "id", 0, time.Now()); err == nil {
		t.Fatal("expected error for zero window")
	}
}
