package bpf

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/cilium/ebpf"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
	"golang.org/x/sys/unix"
)

// BlockMap is the kernel blocklist.
type BlockMap struct {
	m *ebpf.Map
}

var _ store.Blocklist = (*BlockMap)(nil)

func (b *BlockMap) Contains(a packet.Addr) (bool, error) {
	var flag uint8

	err := b.m.Lookup(a, &flag)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return false, nil
	}

	return false, fmt.Errorf("failed to look up %s: %w", a, err)
}

func (b *BlockMap) Insert(a packet.Addr) error {
	if err := b.m.Put(a, store.BlockFlag); err != nil {
		if errors.Is(err, unix.E2BIG) {
			return fmt.Errorf("failed to block %s: %w", a, store.ErrFull)
		}
		return fmt.Errorf("failed to block %s: %w", a, err)
	}

	return nil
}

func (b *BlockMap) Remove(a packet.Addr) error {
	if err := b.m.Delete(a); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("failed to unblock %s: %w", a, err)
	}

	return nil
}

func (b *BlockMap) List() ([]packet.Addr, error) {
	var (
		out  []packet.Addr
		key  packet.Addr
		flag uint8
	)

	it := b.m.Iterate()
	for it.Next(&key, &flag) {
		out = append(out, key)
	}

	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blocklist: %w", err)
	}

	slices.Sort(out)

	return out, nil
}

// RateMap is the kernel rate-limit state plus its edge flags. params must
// match the loaded program for Sweep to evict anything.
type RateMap struct {
	rates  *ebpf.Map
	edges  *ebpf.Map
	params ratelimit.Params
}

var _ store.RateLimits = (*RateMap)(nil)

func (r *RateMap) Lookup(a packet.Addr) (ratelimit.Bucket, bool, error) {
	var s store.RateState

	err := r.rates.Lookup(a, &s)
	switch {
	case err == nil:
		return ratelimit.Bucket(s), true, nil
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return ratelimit.Bucket{}, false, nil
	}

	return ratelimit.Bucket{}, false, fmt.Errorf("failed to look up %s: %w", a, err)
}

func (r *RateMap) Range(fn func(packet.Addr, ratelimit.Bucket) bool) error {
	var (
		key packet.Addr
		s   store.RateState
	)

	it := r.rates.Iterate()
	for it.Next(&key, &s) {
		if !fn(key, ratelimit.Bucket(s)) {
			return nil
		}
	}

	if err := it.Err(); err != nil {
		return fmt.Errorf("failed to iterate rate state: %w", err)
	}

	return nil
}

// Sweep deletes sources idle for more than ttl whose buckets have refilled
// to capacity. Keys are collected first because deleting while iterating a
// hash map restarts the walk.
func (r *RateMap) Sweep(now int64, ttl time.Duration) (int, error) {
	var stale []packet.Addr

	err := r.Range(func(a packet.Addr, b ratelimit.Bucket) bool {
		if r.params.Evictable(b, now, ttl) {
			stale = append(stale, a)
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range stale {
		if err := r.rates.Delete(a); err != nil {
			if errors.Is(err, ebpf.ErrKeyNotExist) {
				continue
			}
			return n, fmt.Errorf("failed to sweep %s: %w", a, err)
		}

		if err := r.edges.Delete(a); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return n, fmt.Errorf("failed to clear edge flag for %s: %w", a, err)
		}

		n++
	}

	return n, nil
}

// Limited reports whether a is inside a rate-limit episode.
func (r *RateMap) Limited(a packet.Addr) (bool, error) {
	var flag uint8

	err := r.edges.Lookup(a, &flag)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ebpf.ErrKeyNotExist):
		return false, nil
	}

	return false, err
}

// Pinned is a running guard's maps opened from bpffs.
type Pinned struct {
	Blocklist *BlockMap
	Rates     *RateMap
	stats     *ebpf.Map
}

// OpenPinned opens the maps a guard attached to iface pinned under root.
// The guard's rate parameters are not pinned, so Rates never sweeps.
func OpenPinned(root, iface string) (*Pinned, error) {
	dir := pinDir(root, iface)

	maps := make(map[string]*ebpf.Map, len(pinned))
	for _, name := range pinned {
		m, err := ebpf.LoadPinnedMap(filepath.Join(dir, name), nil)
		if err != nil {
			for _, open := range maps {
				_ = open.Close()
			}
			return nil, fmt.Errorf("failed to open pinned %s (is xdpguard running on %s?): %w", name, iface, err)
		}
		maps[name] = m
	}

	return &Pinned{
		Blocklist: &BlockMap{m: maps[mapBlocklist]},
		Rates:     &RateMap{rates: maps[mapRateLimit], edges: maps[mapEdges]},
		stats:     maps[mapStats],
	}, nil
}

func (p *Pinned) Stats() (classifier.Stats, error) {
	return readStats(p.stats)
}

func (p *Pinned) Close() error {
	return errors.Join(
		p.Blocklist.m.Close(),
		p.Rates.rates.Close(),
		p.Rates.edges.Close(),
		p.stats.Close(),
	)
}
