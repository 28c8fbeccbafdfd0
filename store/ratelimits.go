package store

import (
	"time"

	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
)

// MemRateLimits holds one token bucket per source.
type MemRateLimits struct {
	t      *table
	params ratelimit.Params
}

func NewRateLimits(maxEntries int, params ratelimit.Params) *MemRateLimits {
	return &MemRateLimits{t: newTable(maxEntries), params: params}
}

func (r *MemRateLimits) Params() ratelimit.Params {
	return r.params
}

// Acquire returns the entry for a, creating a full bucket stamped now if a
// has not been seen. It fails with ErrFull when no slot is available.
func (r *MemRateLimits) Acquire(a packet.Addr, now int64) (*Entry, error) {
	e, _, err := r.t.insert(a, func(e *Entry) {
		e.tokens.Store(r.params.Full())
		e.last.Store(now)
		e.limited.Store(false)
	})

	return e, err
}

func (r *MemRateLimits) Lookup(a packet.Addr) (ratelimit.Bucket, bool, error) {
	e := r.t.find(a)
	if e == nil {
		return ratelimit.Bucket{}, false, nil
	}

	return e.Load(), true, nil
}

func (r *MemRateLimits) Range(fn func(packet.Addr, ratelimit.Bucket) bool) error {
	r.t.rangeLive(func(a packet.Addr, e *Entry) bool {
		return fn(a, e.Load())
	})

	return nil
}

// Sweep removes buckets idle for more than ttl that have refilled to
// capacity by now. A bucket swept while a packet is updating it is simply
// recreated full on the next packet.
func (r *MemRateLimits) Sweep(now int64, ttl time.Duration) (int, error) {
	var stale []packet.Addr

	r.t.rangeLive(func(a packet.Addr, e *Entry) bool {
		if r.params.Evictable(e.Load(), now, ttl) {
			stale = append(stale, a)
		}
		return true
	})

	n := 0
	for _, a := range stale {
		if r.t.remove(a) {
			n++
		}
	}

	return n, nil
}

func (r *MemRateLimits) Len() int {
	return r.t.len()
}

// Load reads the bucket. The two words are read separately.
func (e *Entry) Load() ratelimit.Bucket {
	return ratelimit.Bucket{
		Tokens:     e.tokens.Load(),
		LastRefill: e.last.Load(),
	}
}

func (e *Entry) Store(b ratelimit.Bucket) {
	e.tokens.Store(b.Tokens)
	e.last.Store(b.LastRefill)
}

// CompareAndSwap replaces the bucket only if the token count is still old's.
func (e *Entry) CompareAndSwap(old, next ratelimit.Bucket) bool {
	if !e.tokens.CompareAndSwap(old.Tokens, next.Tokens) {
		return false
	}

	e.last.Store(next.LastRefill)

	return true
}

// MarkLimited sets the limited flag and reports whether it was clear.
func (e *Entry) MarkLimited() bool {
	return !e.limited.Swap(true)
}

func (e *Entry) ClearLimited() {
	if e.limited.Load() {
		e.limited.Store(false)
	}
}

func (e *Entry) Limited() bool {
	return e.limited.Load()
}
