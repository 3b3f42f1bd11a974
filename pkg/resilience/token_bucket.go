package resilience

import (
	"time"
)

// TokenBucket is a refillable counter used for rate limiting. Tokens
// accumulate at RefillRate per second up to Capacity; a request proceeds
// only if enough tokens are available to consume.
//
// TokenBucket is not safe for concurrent use. The owning manager must
// serialize access.
type TokenBucket struct {
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewTokenBucket creates a bucket filled to capacity.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Consume attempts to take n tokens from the bucket. It refills the
// bucket lazily, then debits n if available. Returns false and leaves
// the bucket untouched when fewer than n tokens remain. Never blocks.
func (b *TokenBucket) Consume(n float64) bool {
	b.refill()

	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Refund returns n tokens to the bucket, capped at capacity.
func (b *TokenBucket) Refund(n float64) {
	b.tokens = min(b.capacity, b.tokens+n)
}

// Remaining returns the current token count after a lazy refill.
func (b *TokenBucket) Remaining() float64 {
	b.refill()
	return b.tokens
}

// Capacity returns the bucket's maximum token count.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}
