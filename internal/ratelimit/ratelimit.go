// Package ratelimit implements token-bucket admission control for publish
// calls, one bucket per API key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/tidalhq/tidal/internal/fault"
)

// Limit is the bucket configuration attached to an API key.
type Limit struct {
	// Capacity is the burst size in tokens.
	Capacity float64
	// RefillPerSec is the sustained admission rate.
	RefillPerSec float64
}

// Limiter holds one token bucket per key. Refill is computed lazily from
// elapsed time at each check; no background timer runs. Updates to one
// bucket are serialized by its own mutex so concurrent admissions for the
// same key never lose updates.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	mu         sync.Mutex
	limit      Limit
	tokens     float64
	lastRefill time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

func (l *Limiter) bucketFor(key string, limit Limit) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		b.mu.Lock()
		if b.limit != limit {
			// Key configuration changed; clamp tokens to the new capacity.
			b.limit = limit
			if b.tokens > limit.Capacity {
				b.tokens = limit.Capacity
			}
		}
		b.mu.Unlock()
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &bucket{limit: limit, tokens: limit.Capacity, lastRefill: l.now()}
	l.buckets[key] = b
	return b
}

// TryAdmit attempts to take cost tokens from key's bucket. On exhaustion it
// returns a RateLimitExceeded fault carrying the interval after which a
// single-token retry can succeed.
func (l *Limiter) TryAdmit(key string, limit Limit, cost float64) error {
	if limit.Capacity <= 0 || limit.RefillPerSec <= 0 {
		return nil // no limit configured for this key
	}
	b := l.bucketFor(key, limit)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.limit.RefillPerSec
		if b.tokens > b.limit.Capacity {
			b.tokens = b.limit.Capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return nil
	}

	deficit := cost - b.tokens
	retryAfter := time.Duration(deficit / b.limit.RefillPerSec * float64(time.Second))
	return fault.New(fault.RateLimitExceeded, "publish rate limit exceeded").
		WithRetryAfter(retryAfter)
}

// Forget drops the bucket for key. Called when an API key is revoked.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}
