package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens  int
	resetAt time.Time
}

// MemoryLimiter keeps buckets in process memory. Suitable for a single
// coordinator instance and for tests.
type MemoryLimiter struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

var _ IRateLimiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(opts Options) *MemoryLimiter {
	return &MemoryLimiter{
		opts:    opts,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) TryConsume(_ context.Context, sourceKey string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[sourceKey]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{tokens: l.opts.Points, resetAt: now.Add(l.opts.Window)}
		l.buckets[sourceKey] = b
	}
	if b.tokens <= 0 {
		return Deny(b.resetAt.Sub(now)), nil
	}
	b.tokens--
	return Allow(b.tokens), nil
}

// Sweep drops buckets whose window has elapsed; the next event from that
// source starts with a full bucket anyway.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every window until ctx is done.
func (l *MemoryLimiter) RunJanitor(ctx context.Context) {
	tk := time.NewTicker(l.opts.Window)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				l.Sweep()
			}
		}
	}()
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
