// Package mesh implements the mesh message broker: a token-bucket
// outbound rate limiter, a bounded operator-facing terminal ring
// buffer, and inbound line dispatch to the rest of the core.
package mesh

import (
	"sync"
	"time"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

// TokenBucket is the outbound rate limiter: capacity 200,
// refilling at 200 tokens/s, one token per transmitted byte plus 2 for
// the CRLF. It is its own type (rather than a generic limiter) because
// the byte-cost accounting and the ≤5s bounded wait are spec-specific.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens/sec
	lastRefill time.Time
}

// NewTokenBucket constructs a full bucket at the capacity/refill
// rate.
func NewTokenBucket(now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     domain.TokenBucketCapacity,
		capacity:   domain.TokenBucketCapacity,
		refillRate: domain.TokenBucketRefillPer,
		lastRefill: now,
	}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// waitFor returns how long the caller must wait, starting at now,
// before n tokens become available, assuming no further refill calls
// happen in the meantime.
func (b *TokenBucket) waitFor(n float64, now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= n {
		return 0
	}
	deficit := n - b.tokens
	return time.Duration(deficit/b.refillRate*1000) * time.Millisecond
}

// TryConsume attempts to take n tokens immediately, refilling first.
// It never blocks.
func (b *TokenBucket) TryConsume(n float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now)
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Wait blocks (via the supplied sleep function) until n tokens are
// available, provided the required wait does not exceed
// MeshTXWaitMax; otherwise it returns domain.ErrMeshTXTimeout without
// sleeping or consuming. sleep is injected so tests can run this
// deterministically without wall-clock delay.
func (b *TokenBucket) Wait(n float64, now time.Time, sleep func(time.Duration)) error {
	b.mu.Lock()
	wait := b.waitFor(n, now)
	if wait > domain.MeshTXWaitMax {
		b.mu.Unlock()
		return domain.ErrMeshTXTimeout
	}
	b.mu.Unlock()

	if wait > 0 {
		sleep(wait)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now.Add(wait))
	if b.tokens < n {
		// A concurrent consumer raced us; fail rather than
		// oversubscribe the bucket.
		return domain.ErrMeshTXTimeout
	}
	b.tokens -= n
	return nil
}
