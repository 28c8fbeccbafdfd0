package store

import (
	"sync/atomic"

	"github.com/tcassar-diss/xdpguard/packet"
)

// A slot's key word is empty, a tombstone, or live|addr.
const (
	keyEmpty     uint64 = 0
	keyLive      uint64 = 1 << 32
	keyTombstone uint64 = 1 << 33

	maxProbe = 64
)

// Entry is one slot. The bucket fields are only meaningful in a rate table.
type Entry struct {
	key     atomic.Uint64
	tokens  atomic.Int64
	last    atomic.Int64
	limited atomic.Bool
}

type table struct {
	slots  []Entry
	mask   uint64
	probes int
	limit  int64
	count  atomic.Int64
}

func newTable(maxEntries int) *table {
	if maxEntries < 1 {
		maxEntries = 1
	}

	n := 8
	for n < maxEntries*2 {
		n <<= 1
	}

	return &table{
		slots:  make([]Entry, n),
		mask:   uint64(n - 1),
		probes: min(maxProbe, n),
		limit:  int64(maxEntries),
	}
}

func hash(a packet.Addr) uint64 {
	h := uint64(a) * 0x9e3779b97f4a7c15

	return h ^ (h >> 32)
}

func liveKey(a packet.Addr) uint64 {
	return keyLive | uint64(a)
}

func (t *table) find(a packet.Addr) *Entry {
	want := liveKey(a)
	i := hash(a)

	for range t.probes {
		e := &t.slots[i&t.mask]

		switch e.key.Load() {
		case want:
			return e
		case keyEmpty:
			return nil
		}

		i++
	}

	return nil
}

// insert returns the entry for a, creating it with init if absent. init
// runs before the slot is published so no reader sees a live key with
// uninitialised fields. If another writer claims the slot first, init may
// have overwritten that writer's fresh values with equally fresh ones.
func (t *table) insert(a packet.Addr, init func(*Entry)) (*Entry, bool, error) {
	if e := t.find(a); e != nil {
		return e, false, nil
	}

	want := liveKey(a)
	i := hash(a)

	for range t.probes {
		e := &t.slots[i&t.mask]
		k := e.key.Load()

		if k == want {
			return e, false, nil
		}

		if k == keyEmpty || k == keyTombstone {
			if t.count.Add(1) > t.limit {
				t.count.Add(-1)
				return nil, false, ErrFull
			}

			if init != nil {
				init(e)
			}

			if e.key.CompareAndSwap(k, want) {
				return e, true, nil
			}

			t.count.Add(-1)

			if e.key.Load() == want {
				return e, false, nil
			}
		}

		i++
	}

	return nil, false, ErrFull
}

func (t *table) remove(a packet.Addr) bool {
	e := t.find(a)
	if e == nil {
		return false
	}

	if !e.key.CompareAndSwap(liveKey(a), keyTombstone) {
		return false
	}

	t.count.Add(-1)

	return true
}

func (t *table) rangeLive(fn func(packet.Addr, *Entry) bool) {
	for i := range t.slots {
		e := &t.slots[i]

		k := e.key.Load()
		if k&keyLive == 0 {
			continue
		}

		if !fn(packet.Addr(uint32(k)), e) {
			return
		}
	}
}

func (t *table) len() int {
	return int(t.count.Load())
}
