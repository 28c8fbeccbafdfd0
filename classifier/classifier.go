// Package classifier decides, per frame, whether to pass or drop traffic
// based on a blocklist and a per-source token bucket.
//
// Classify is safe to call from any number of goroutines at once. It takes
// no locks, does not allocate and never blocks; every failure inside it
// resolves to a verdict.
package classifier

import (
	"sync/atomic"

	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
)

// casAttempts bounds the strict-mode token update loop.
const casAttempts = 8

type Verdict uint8

const (
	Pass Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}

	return "pass"
}

// Blocklist is the read side of the blocklist store.
type Blocklist interface {
	IsBlocked(a packet.Addr) bool
}

// RateLimits hands out per-source bucket entries, creating them full.
type RateLimits interface {
	Acquire(a packet.Addr, now int64) (*store.Entry, error)
}

// Reporter queues an event without blocking; false means it was dropped.
type Reporter interface {
	Report(ev events.Event) bool
}

type Cfg struct {
	Params ratelimit.Params
	// Strict spends tokens with a bounded compare-and-swap loop on the
	// token count, so concurrent frames rarely spend the same token.
	// Over-admission is bounded, not zero: a frame that exhausts its
	// retries fails open, and the refill timestamp is stored after the
	// swap, so a racing refill may start from the previous timestamp.
	// Without it two cores can spend the same token freely.
	Strict bool
}

func DefaultCfg() *Cfg {
	return &Cfg{Params: ratelimit.DefaultParams()}
}

type Classifier struct {
	blocklist Blocklist
	rates     RateLimits
	reporter  Reporter
	params    ratelimit.Params
	strict    bool
	clock     func() int64

	passed      atomic.Uint64
	unparsed    atomic.Uint64
	blocked     atomic.Uint64
	rateLimited atomic.Uint64
	storeFull   atomic.Uint64
}

func New(blocklist Blocklist, rates RateLimits, reporter Reporter, cfg *Cfg) *Classifier {
	return &Classifier{
		blocklist: blocklist,
		rates:     rates,
		reporter:  reporter,
		params:    cfg.Params,
		strict:    cfg.Strict,
		clock:     ratelimit.Now,
	}
}

// WithClock replaces the monotonic clock, for replaying captures.
func (c *Classifier) WithClock(clock func() int64) *Classifier {
	c.clock = clock
	return c
}

func (c *Classifier) Classify(frame []byte) Verdict {
	return c.ClassifyAt(frame, c.clock())
}

// ClassifyAt classifies frame as if it arrived at now (monotonic ns).
func (c *Classifier) ClassifyAt(frame []byte, now int64) Verdict {
	hdr, err := packet.Parse(frame)
	if err != nil {
		c.unparsed.Add(1)
		return Pass
	}

	src := hdr.Source

	if c.blocklist.IsBlocked(src) {
		c.blocked.Add(1)
		c.report(events.Blocked, src, now)
		return Drop
	}

	e, err := c.rates.Acquire(src, now)
	if err != nil {
		// no room to track this source: let it through
		c.storeFull.Add(1)
		c.passed.Add(1)
		return Pass
	}

	if c.take(e, now) {
		e.ClearLimited()
		c.passed.Add(1)
		return Pass
	}

	c.rateLimited.Add(1)

	if e.MarkLimited() {
		c.report(events.RateLimited, src, now)
	}

	return Drop
}

func (c *Classifier) take(e *store.Entry, now int64) bool {
	if !c.strict {
		next, ok := c.params.Take(e.Load(), now)
		if ok {
			e.Store(next)
		}
		return ok
	}

	for range casAttempts {
		cur := e.Load()

		next, ok := c.params.Take(cur, now)
		if !ok {
			return false
		}

		if e.CompareAndSwap(cur, next) {
			return true
		}
	}

	// contended past the retry bound: fail open
	return true
}

func (c *Classifier) report(kind events.Kind, src packet.Addr, now int64) {
	if c.reporter == nil {
		return
	}

	c.reporter.Report(events.Event{
		Kind:      kind,
		Source:    src,
		Timestamp: uint64(now),
		Count:     1,
	})
}

// Stats snapshots the verdict counters. EventsLost is filled in by whoever
// owns the event channel.
func (c *Classifier) Stats() Stats {
	return Stats{
		Passed:      c.passed.Load(),
		Unparsed:    c.unparsed.Load(),
		Blocked:     c.blocked.Load(),
		RateLimited: c.rateLimited.Load(),
		StoreFull:   c.storeFull.Load(),
	}
}
