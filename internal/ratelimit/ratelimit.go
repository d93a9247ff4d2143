package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes the outcome of one rate limit check. Remaining and ResetAt
// feed the X-RateLimit response headers; RetryAfter is set only when denied.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a fixed-window rate limiter keyed by caller identity.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Result, error)
	Close() error
}

// Config bounds request volume per identifier.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	CleanupPeriod time.Duration // memory backend only
}

type windowEntry struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is a mutex-guarded in-process limiter. Expired windows are
// swept lazily on a configurable period rather than with a background goroutine.
type MemoryLimiter struct {
	mu          sync.Mutex
	entries     map[string]*windowEntry
	cfg         Config
	lastCleanup time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 5 * time.Minute
	}
	return &MemoryLimiter{
		entries:     make(map[string]*windowEntry),
		cfg:         cfg,
		lastCleanup: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, identifier string) (Result, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupLocked(now)

	entry, ok := l.entries[identifier]
	if !ok || now.Sub(entry.windowStart) >= l.cfg.Window {
		entry = &windowEntry{windowStart: now}
		l.entries[identifier] = entry
	}

	resetAt := entry.windowStart.Add(l.cfg.Window)
	if entry.count >= l.cfg.MaxRequests {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}, nil
	}

	entry.count++
	return Result{
		Allowed:   true,
		Remaining: l.cfg.MaxRequests - entry.count,
		ResetAt:   resetAt,
	}, nil
}

func (l *MemoryLimiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.cfg.CleanupPeriod {
		return
	}
	l.lastCleanup = now
	for key, entry := range l.entries {
		if now.Sub(entry.windowStart) >= l.cfg.Window {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryLimiter) Close() error { return nil }
