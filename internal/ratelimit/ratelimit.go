package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SourceLimiter spaces requests to the same source by at least minDelay.
// Concurrent callers each reserve their own slot, so a burst of page requests
// is released one slot apart rather than all at once.
type SourceLimiter struct {
	mu       sync.Mutex
	next     map[string]time.Time // key: source name, value: earliest free slot
	minDelay time.Duration
	now      func() time.Time
}

// NewSourceLimiter creates a limiter enforcing minDelay between consecutive
// requests to the same source.
func NewSourceLimiter(minDelay time.Duration) *SourceLimiter {
	return &SourceLimiter{
		next:     make(map[string]time.Time),
		minDelay: minDelay,
		now:      time.Now,
	}
}

// Wait blocks until the caller's slot for source arrives.
func (l *SourceLimiter) Wait(ctx context.Context, source string) error {
	l.mu.Lock()
	now := l.now()
	slot := now
	if free, ok := l.next[source]; ok && free.After(now) {
		slot = free
	}
	l.next[source] = slot.Add(l.minDelay)
	l.mu.Unlock()

	remaining := slot.Sub(now)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", source, ctx.Err())
	case <-timer.C:
		return nil
	}
}
