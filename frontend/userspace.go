package frontend

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/store"
)

// Userspace runs the classifier in process over in-memory stores. It backs
// offline replay and tests; frames are fed with Classifier().Classify.
type Userspace struct {
	blocklist  *store.MemBlocklist
	rates      *store.MemRateLimits
	ring       *events.Ring
	classifier *classifier.Classifier
	release    func()
}

func NewUserspace(cfg *Config) *Userspace {
	u := &Userspace{
		blocklist: store.NewBlocklist(int(cfg.Stores.BlocklistMaxEntries)),
		rates:     store.NewRateLimits(int(cfg.Stores.RateMaxEntries), cfg.Params()),
		ring:      events.NewRing(int(cfg.Events.RingSize)),
	}
	u.classifier = classifier.New(u.blocklist, u.rates, u.ring, cfg.classifierCfg())

	return u
}

func (u *Userspace) Classifier() *classifier.Classifier {
	return u.classifier
}

func (u *Userspace) Blocklist() store.Blocklist   { return u.blocklist }
func (u *Userspace) RateLimits() store.RateLimits { return u.rates }
func (u *Userspace) Events() events.Source        { return u.ring }

func (u *Userspace) Stats() (classifier.Stats, error) {
	s := u.classifier.Stats()
	s.EventsLost, _ = u.ring.Lost()

	return s, nil
}

func (u *Userspace) Close() error {
	if u.release != nil {
		u.release()
		u.release = nil
	}

	return nil
}

// UserspaceAttacher hands out Userspace datapaths, at most one per
// interface name.
type UserspaceAttacher struct {
	cfg   *Config
	known map[string]bool

	mu       sync.Mutex
	attached map[string]*Userspace
}

// NewUserspaceAttacher accepts only the given interface names, or any
// interface present on the host when none are given.
func NewUserspaceAttacher(cfg *Config, ifaces ...string) *UserspaceAttacher {
	a := &UserspaceAttacher{cfg: cfg, attached: map[string]*Userspace{}}

	if len(ifaces) > 0 {
		a.known = map[string]bool{}
		for _, i := range ifaces {
			a.known[i] = true
		}
	}

	return a
}

func (a *UserspaceAttacher) Attach(_ context.Context, iface string, preload []packet.Addr) (Datapath, error) {
	if err := a.exists(iface); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.attached[iface]; ok {
		return nil, fmt.Errorf("%w: %s", bpf.ErrAlreadyAttached, iface)
	}

	u := NewUserspace(a.cfg)
	for _, addr := range preload {
		if err := u.blocklist.Insert(addr); err != nil {
			return nil, fmt.Errorf("failed to preload blocklist: %w", err)
		}
	}

	u.release = func() {
		a.mu.Lock()
		delete(a.attached, iface)
		a.mu.Unlock()
	}
	a.attached[iface] = u

	return u, nil
}

// Datapath returns the datapath attached to iface, if any.
func (a *UserspaceAttacher) Datapath(iface string) (*Userspace, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.attached[iface]

	return u, ok
}

func (a *UserspaceAttacher) exists(iface string) error {
	if a.known != nil {
		if !a.known[iface] {
			return fmt.Errorf("%w: %s", bpf.ErrInterfaceNotFound, iface)
		}
		return nil
	}

	if _, err := net.InterfaceByName(iface); err != nil {
		return fmt.Errorf("%w: %s: %w", bpf.ErrInterfaceNotFound, iface, err)
	}

	return nil
}
