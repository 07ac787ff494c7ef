// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pdiddy/paper-census/pkg/types"
)

// TokenBucketLimiter is a per-API token bucket. WaitIfNeeded blocks,
// context-aware, until a token is available and consumes it. A failed
// request reported through RecordRequest drains that API's bucket, so the
// next request waits out a full refill before being admitted.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucketLimiter creates a limiter admitting ratePerSecond requests
// per API with the given burst capacity.
func NewTokenBucketLimiter(ratePerSecond float64, burst int) *TokenBucketLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:    ratePerSecond,
		burst:   float64(burst),
		buckets: make(map[string]*tokenBucket),
	}
}

func (l *TokenBucketLimiter) bucketLocked(api string) *tokenBucket {
	b, ok := l.buckets[api]
	if !ok {
		b = &tokenBucket{tokens: l.burst, last: time.Now()}
		l.buckets[api] = b
	}
	return b
}

func (l *TokenBucketLimiter) refillLocked(b *tokenBucket) {
	now := time.Now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
		b.last = now
	}
}

// CanMakeRequest reports whether a request for the API would be admitted
// right now without waiting. No token is consumed.
func (l *TokenBucketLimiter) CanMakeRequest(api string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(api)
	l.refillLocked(b)
	return b.tokens >= 1
}

// WaitIfNeeded blocks until the API's bucket admits one request, consumes
// the token, and returns how long the caller waited.
func (l *TokenBucketLimiter) WaitIfNeeded(ctx context.Context, api string) (time.Duration, error) {
	start := time.Now()
	for {
		l.mu.Lock()
		b := l.bucketLocked(api)
		l.refillLocked(b)
		if b.tokens >= 1 {
			b.tokens--
			l.mu.Unlock()
			return time.Since(start), nil
		}
		need := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		if need < time.Millisecond {
			need = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(need):
		}
	}
}

// RecordRequest notes a completed request's outcome. Failures drain the
// API's bucket as a cooldown; the latency is accepted for interface
// symmetry with the health tracker but does not affect admission.
func (l *TokenBucketLimiter) RecordRequest(api string, success bool, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(api)
	l.refillLocked(b)
	if !success {
		b.tokens = 0
		b.last = time.Now()
	}
}

// Snapshot reports the remaining budget per API.
func (l *TokenBucketLimiter) Snapshot() map[string]types.RateLimitSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	out := make(map[string]types.RateLimitSnapshot, len(l.buckets))
	for api, b := range l.buckets {
		l.refillLocked(b)
		reset := now
		if b.tokens < l.burst {
			reset = now.Add(time.Duration((l.burst - b.tokens) / l.rate * float64(time.Second)))
		}
		out[api] = types.RateLimitSnapshot{
			RequestsRemaining: int(b.tokens),
			WindowResetAt:     reset.UTC(),
			Limited:           b.tokens < 1,
		}
	}
	return out
}
