package store

import (
	"slices"

	"github.com/tcassar-diss/xdpguard/packet"
)

// MemBlocklist is a fixed-capacity set of blocked sources.
type MemBlocklist struct {
	t *table
}

func NewBlocklist(maxEntries int) *MemBlocklist {
	return &MemBlocklist{t: newTable(maxEntries)}
}

// IsBlocked is the packet-path lookup.
func (b *MemBlocklist) IsBlocked(a packet.Addr) bool {
	return b.t.find(a) != nil
}

func (b *MemBlocklist) Contains(a packet.Addr) (bool, error) {
	return b.IsBlocked(a), nil
}

// Insert is idempotent.
func (b *MemBlocklist) Insert(a packet.Addr) error {
	_, _, err := b.t.insert(a, nil)

	return err
}

// Remove is idempotent.
func (b *MemBlocklist) Remove(a packet.Addr) error {
	b.t.remove(a)

	return nil
}

func (b *MemBlocklist) List() ([]packet.Addr, error) {
	out := make([]packet.Addr, 0, b.t.len())

	b.t.rangeLive(func(a packet.Addr, _ *Entry) bool {
		out = append(out, a)
		return true
	})

	slices.Sort(out)

	return out, nil
}

func (b *MemBlocklist) Len() int {
	return b.t.len()
}
