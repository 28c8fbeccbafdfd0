package events

import "sync/atomic"

const publishAttempts = 8

type cell struct {
	seq atomic.Uint64
	ev  Event
}

// Ring is a bounded multi-producer single-consumer queue. Report never
// blocks: when the ring is full the new event is discarded and counted,
// matching a failed bpf_ringbuf_reserve.
type Ring struct {
	cells []cell
	mask  uint64
	head  atomic.Uint64
	tail  atomic.Uint64
	lost  atomic.Uint64
}

// NewRing rounds size up to a power of two.
func NewRing(size int) *Ring {
	n := 1
	for n < size {
		n <<= 1
	}

	r := &Ring{cells: make([]cell, n), mask: uint64(n - 1)}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}

	return r
}

// Report publishes ev and reports whether it was queued. Safe for
// concurrent use by any number of producers.
func (r *Ring) Report(ev Event) bool {
	for range publishAttempts {
		pos := r.tail.Load()
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()

		switch {
		case seq == pos:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.ev = ev
				c.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			r.lost.Add(1)
			return false
		}
	}

	r.lost.Add(1)

	return false
}

// Poll must only be called from one goroutine at a time.
func (r *Ring) Poll() (Event, bool, error) {
	pos := r.head.Load()
	c := &r.cells[pos&r.mask]

	if c.seq.Load() != pos+1 {
		return Event{}, false, nil
	}

	ev := c.ev
	c.seq.Store(pos + uint64(len(r.cells)))
	r.head.Store(pos + 1)

	return ev, true, nil
}

func (r *Ring) Lost() (uint64, error) {
	return r.lost.Load(), nil
}

func (r *Ring) Cap() int {
	return len(r.cells)
}
