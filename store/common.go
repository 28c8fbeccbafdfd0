// Package store holds the fixed-capacity tables shared between the packet
// classifier and the control agent.
//
// Readers and writers never take a lock. Every slot is a set of atomic
// words and every probe sequence is bounded, so a lookup from the packet
// path finishes in a fixed number of steps no matter what the control agent
// is doing. The tables are sized at construction and never grow.
package store

import (
	"errors"
	"time"

	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
)

var ErrFull = errors.New("store is at capacity")

const (
	DefaultBlocklistMaxEntries = 1024
	DefaultRateMaxEntries      = 65536
)

// Blocklist is the control-side view of a blocklist, implemented by the
// in-memory table and by the kernel map.
type Blocklist interface {
	Contains(a packet.Addr) (bool, error)
	Insert(a packet.Addr) error
	Remove(a packet.Addr) error
	List() ([]packet.Addr, error)
}

// RateLimits is the control-side view of the per-source rate state.
type RateLimits interface {
	Lookup(a packet.Addr) (ratelimit.Bucket, bool, error)
	Range(fn func(packet.Addr, ratelimit.Bucket) bool) error
	// Sweep deletes entries idle for longer than ttl at now and returns
	// how many were removed.
	Sweep(now int64, ttl time.Duration) (int, error)
}
