package memory

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitStoreSlidingWindow(t *testing.T) {
	store := NewRateLimitStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.RecordAttempt(ctx, "login:ip", base.Add(time.Duration(i)*10*time.Second)); err != nil {
			t.Fatalf("record attempt %d: %v", i, err)
		}
	}

	count, err := store.CountAttempts(ctx, "login:ip", time.Minute, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts, got %d", count)
	}

	oldest, ok, err := store.OldestAttempt(ctx, "login:ip", time.Minute, base.Add(30*time.Second))
	if err != nil || !ok {
		t.Fatalf("oldest: ok=%v err=%v", ok, err)
	}
	if !oldest.Equal(base) {
		t.Fatalf("expected oldest %v, got %v", base, oldest)
	}

	if err := store.TrimWindow(ctx, "login:ip", time.Minute, base.Add(75*time.Second)); err != nil {
		t.Fatalf("trim: %v", err)
	}
	count, _ = store.CountAttempts(ctx, "login:ip", time.Minute, base.Add(75*time.Second))
	if count != 1 {
		t.Fatalf("expected 1 attempt after trim, got %d", count)
	}

	if _, err := store.CountAttempts(ctx, "login:ip", 0, base); err == nil {
		t.Fatal("expected error for zero window")
	}
}
