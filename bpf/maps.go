package bpf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/store"
)

const (
	mapBlocklist = "blocklist"
	mapRateLimit = "ratelimit"
	mapEdges     = "rl_edges"
	mapEvents    = "events"
	mapStats     = "stats"

	progName = "xdp_guard"
	license  = "Dual MIT/GPL"

	// ringbuf samples carry an 8 byte header and are 8 byte aligned
	ringRecordBytes = 8 + (events.RecordSize+7)/8*8
)

// pinned lists the maps shared with guardctl. The event ring is read by the
// attaching process only.
var pinned = []string{mapBlocklist, mapRateLimit, mapEdges, mapStats}

type objects struct {
	Program   *ebpf.Program `ebpf:"xdp_guard"`
	Blocklist *ebpf.Map     `ebpf:"blocklist"`
	RateLimit *ebpf.Map     `ebpf:"ratelimit"`
	Edges     *ebpf.Map     `ebpf:"rl_edges"`
	Events    *ebpf.Map     `ebpf:"events"`
	Stats     *ebpf.Map     `ebpf:"stats"`
}

func (o *objects) Close() error {
	closers := []interface{ Close() error }{
		o.Program, o.Blocklist, o.RateLimit, o.Edges, o.Events, o.Stats,
	}

	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (o *objects) byName(name string) *ebpf.Map {
	switch name {
	case mapBlocklist:
		return o.Blocklist
	case mapRateLimit:
		return o.RateLimit
	case mapEdges:
		return o.Edges
	case mapEvents:
		return o.Events
	case mapStats:
		return o.Stats
	}

	return nil
}

func collectionSpec(cfg *Cfg) (*ebpf.CollectionSpec, error) {
	insns, err := buildProgram(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble classifier: %w", err)
	}

	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			mapBlocklist: {
				Name:       mapBlocklist,
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  1,
				MaxEntries: cfg.BlocklistMaxEntries,
			},
			mapRateLimit: {
				Name:       mapRateLimit,
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  store.RateStateSize,
				MaxEntries: cfg.RateMaxEntries,
			},
			mapEdges: {
				Name:       mapEdges,
				Type:       ebpf.Hash,
				KeySize:    4,
				ValueSize:  1,
				MaxEntries: cfg.RateMaxEntries,
			},
			mapEvents: {
				Name:       mapEvents,
				Type:       ebpf.RingBuf,
				MaxEntries: ringBytes(cfg.EventRecords),
			},
			mapStats: {
				Name:       mapStats,
				Type:       ebpf.PerCPUArray,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: uint32(statEnd),
			},
		},
		Programs: map[string]*ebpf.ProgramSpec{
			progName: {
				Name:         progName,
				Type:         ebpf.XDP,
				License:      license,
				Instructions: insns,
			},
		},
	}, nil
}

// ringBytes sizes the ring buffer: a power of two multiple of the page size.
func ringBytes(records uint32) uint32 {
	want := uint64(records) * ringRecordBytes

	n := uint64(os.Getpagesize())
	for n < want {
		n <<= 1
	}

	return uint32(n)
}

func pinDir(root, iface string) string {
	return filepath.Join(root, iface)
}

// pinMaps pins the shared maps under dir, replacing pins left by an
// unclean exit.
func pinMaps(objs *objects, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove stale pins in %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create pin directory %s: %w", dir, err)
	}

	for _, name := range pinned {
		if err := objs.byName(name).Pin(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to pin %s: %w", name, err)
		}
	}

	return nil
}

func unpinMaps(objs *objects, dir string) error {
	for _, name := range pinned {
		if m := objs.byName(name); m != nil {
			if err := m.Unpin(); err != nil {
				return fmt.Errorf("failed to unpin %s: %w", name, err)
			}
		}
	}

	return os.Remove(dir)
}
