// Package ratelimit gates inbound connection events per source key.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single TryConsume call. A denial carries the
// wait until at least one token is available again.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func Allow(remaining int) Decision { return Decision{Allowed: true, Remaining: remaining} }

func Deny(retryAfter time.Duration) Decision {
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}
	return Decision{RetryAfter: retryAfter}
}

// RetryAfterMs rounds the wait up to whole milliseconds.
func (d Decision) RetryAfterMs() int64 {
	if d.Allowed {
		return 0
	}
	ms := d.RetryAfter.Milliseconds()
	if d.RetryAfter%time.Millisecond != 0 {
		ms++
	}
	return ms
}

type IRateLimiter interface {
	// TryConsume takes one token from the bucket of sourceKey.
	TryConsume(ctx context.Context, sourceKey string) (Decision, error)
}

type Options struct {
	Points int
	Window time.Duration
}

// DefaultOptions is 10 events per 3 seconds, burst 10.
func DefaultOptions() Options {
	return Options{Points: 10, Window: 3 * time.Second}
}

type bounded struct {
	inner   IRateLimiter
	timeout time.Duration
}

// Bounded caps every TryConsume call of l at timeout.
func Bounded(l IRateLimiter, timeout time.Duration) IRateLimiter {
	return &bounded{inner: l, timeout: timeout}
}

func (b *bounded) TryConsume(ctx context.Context, sourceKey string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.inner.TryConsume(ctx, sourceKey)
}
