// Package ratelimit implements the per-source token bucket shared by the
// userspace classifier and the kernel program.
//
// Tokens are held in fixed point, Scale units per token, so refill never
// needs floating point. Refill is lazy: a bucket only changes when a packet
// from its source is classified.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidParams = errors.New("invalid rate limit parameters")

const (
	// Scale is the number of fixed-point units in one token.
	Scale = 1000

	// NanosPerUnit converts elapsed ns * tokens/s into fixed-point units:
	// elapsed * rate * Scale / 1e9.
	NanosPerUnit = 1_000_000_000 / Scale

	DefaultCapacity   = 10
	DefaultRefillRate = 10

	MaxCapacity   = 1_000_000
	MaxRefillRate = math.MaxInt32
)

// Params configures every bucket of a store.
type Params struct {
	Capacity   uint32 // tokens; also the burst size
	RefillRate uint32 // tokens per second
}

// Bucket is one source's state.
type Bucket struct {
	Tokens     int64 // fixed point, [0, Capacity*Scale]
	LastRefill int64 // monotonic ns
}

func DefaultParams() Params {
	return Params{
		Capacity:   DefaultCapacity,
		RefillRate: DefaultRefillRate,
	}
}

func (p Params) Validate() error {
	if p.Capacity < 1 || p.Capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d outside [1, %d]", ErrInvalidParams, p.Capacity, MaxCapacity)
	}

	if p.RefillRate > MaxRefillRate {
		return fmt.Errorf("%w: refill rate %d above %d", ErrInvalidParams, p.RefillRate, MaxRefillRate)
	}

	return nil
}

// Full is a full bucket in fixed-point units.
func (p Params) Full() int64 {
	return int64(p.Capacity) * Scale
}

// FullRefillNanos is how long an empty bucket takes to fill. Any gap at
// least this long refills completely, which also keeps elapsed*rate from
// overflowing. A zero rate never refills.
func (p Params) FullRefillNanos() int64 {
	if p.RefillRate == 0 {
		return math.MaxInt64
	}

	rate := int64(p.RefillRate)

	return (int64(p.Capacity)*1_000_000_000 + rate - 1) / rate
}

// New returns the bucket created for a source first seen at now.
func (p Params) New(now int64) Bucket {
	return Bucket{Tokens: p.Full(), LastRefill: now}
}

// Refill returns the token count at now without changing b.
func (p Params) Refill(b Bucket, now int64) int64 {
	full := p.Full()

	if now <= b.LastRefill {
		return min(b.Tokens, full)
	}

	elapsed := now - b.LastRefill
	if elapsed >= p.FullRefillNanos() {
		return full
	}

	return min(b.Tokens+elapsed*int64(p.RefillRate)/NanosPerUnit, full)
}

// Take refills b and spends one token. When no whole token is available it
// returns b unchanged and false, so a source that keeps sending while
// limited does not push its refill point forward.
func (p Params) Take(b Bucket, now int64) (Bucket, bool) {
	tokens := p.Refill(b, now)
	if tokens < Scale {
		return b, false
	}

	return Bucket{Tokens: tokens - Scale, LastRefill: now}, true
}

// Evictable reports whether forgetting b at now leaves every later verdict
// unchanged: b has been idle longer than ttl and has refilled to capacity,
// so a bucket recreated full is indistinguishable from it. Buckets that
// never refill are never evictable.
func (p Params) Evictable(b Bucket, now int64, ttl time.Duration) bool {
	if p.RefillRate == 0 || now-b.LastRefill <= int64(ttl) {
		return false
	}

	return p.Refill(b, now) == p.Full()
}
