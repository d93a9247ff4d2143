package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUpToMax(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.Allow(ctx, "caller")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if result.Remaining != 3-i-1 {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 3-i-1, result.Remaining)
		}
	}

	result, _ := l.Allow(ctx, "caller")
	if result.Allowed {
		t.Error("4th request should be denied")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("denied result must carry RetryAfter, got %v", result.RetryAfter)
	}
	if result.ResetAt.Before(time.Now()) {
		t.Error("ResetAt should be in the future")
	}
}

func TestMemoryLimiterIsolatesIdentifiers(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	if result, _ := l.Allow(ctx, "a"); !result.Allowed {
		t.Fatal("first caller should be allowed")
	}
	if result, _ := l.Allow(ctx, "b"); !result.Allowed {
		t.Error("second caller must have its own window")
	}
	if result, _ := l.Allow(ctx, "a"); result.Allowed {
		t.Error("first caller should now be denied")
	}
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 1, Window: 20 * time.Millisecond})
	ctx := context.Background()

	l.Allow(ctx, "caller")
	if result, _ := l.Allow(ctx, "caller"); result.Allowed {
		t.Fatal("second request inside window should be denied")
	}

	time.Sleep(25 * time.Millisecond)
	if result, _ := l.Allow(ctx, "caller"); !result.Allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 5, Window: time.Millisecond, CleanupPeriod: time.Millisecond})
	ctx := context.Background()

	l.Allow(ctx, "old")
	time.Sleep(5 * time.Millisecond)
	l.Allow(ctx, "new")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries["old"]; ok {
		t.Error("expired window should have been swept")
	}
	if _, ok := l.entries["new"]; !ok {
		t.Error("live window should survive cleanup")
	}
}
