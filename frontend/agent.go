package frontend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
	"go.uber.org/zap"
)

var ErrDetached = errors.New("handle is detached")

// Agent is the control side of xdpguard. It attaches classifiers to
// interfaces and administers their stores through the returned handles.
type Agent struct {
	logger   *zap.SugaredLogger
	cfg      *Config
	attacher Attacher

	mu      sync.Mutex
	handles map[string]*Handle
}

func NewAgent(logger *zap.SugaredLogger, cfg *Config, attacher Attacher) *Agent {
	return &Agent{
		logger:   logger,
		cfg:      cfg,
		attacher: attacher,
		handles:  map[string]*Handle{},
	}
}

// Attach installs the classifier on iface. Transient kernel errors are
// retried with backoff; every failure is returned as an *AttachError.
func (a *Agent) Attach(ctx context.Context, iface string, preload ...packet.Addr) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.handles[iface]; ok {
		return nil, &AttachError{Iface: iface, Reason: ReasonAlreadyAttached, Err: errors.New("agent already holds a handle")}
	}

	var dp Datapath

	err := retry(ctx, a.cfg.Attach.Retries, a.cfg.Attach.RetryDelay.Duration, func() error {
		var err error
		dp, err = a.attacher.Attach(ctx, iface, preload)
		if err != nil && transient(err) {
			a.logger.Warnw("transient attach failure, retrying", "iface", iface, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, newAttachError(iface, err)
	}

	h := &Handle{
		logger: a.logger.With("iface", iface),
		cfg:    a.cfg,
		iface:  iface,
		dp:     dp,
	}
	a.handles[iface] = h

	a.logger.Infow("attached", "iface", iface, "preloaded", len(preload))

	return h, nil
}

// Detach removes the classifier. It is idempotent; the handle is unusable
// afterwards.
func (a *Agent) Detach(h *Handle) error {
	if !h.detached.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	delete(a.handles, h.iface)
	a.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainMu.Lock()
	defer h.drainMu.Unlock()

	if err := h.dp.Close(); err != nil {
		return fmt.Errorf("failed to detach %s: %w", h.iface, err)
	}

	a.logger.Infow("detached", "iface", h.iface)

	return nil
}

// Handle is the agent's view of one attached classifier.
type Handle struct {
	logger   *zap.SugaredLogger
	cfg      *Config
	iface    string
	dp       Datapath
	detached atomic.Bool

	// mu serialises administrative writes, drainMu event consumers
	mu      sync.Mutex
	drainMu sync.Mutex
}

func (h *Handle) Iface() string {
	return h.iface
}

// InsertBlock is idempotent. A full blocklist is reported as store.ErrFull
// with a capacity warning.
func (h *Handle) InsertBlock(ctx context.Context, addr packet.Addr) error {
	if h.detached.Load() {
		return ErrDetached
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	err := retry(ctx, h.cfg.Attach.Retries, h.cfg.Attach.RetryDelay.Duration, func() error {
		return h.dp.Blocklist().Insert(addr)
	})
	if errors.Is(err, store.ErrFull) {
		h.logger.Warnw("blocklist at capacity", "addr", addr, "max_entries", h.cfg.Stores.BlocklistMaxEntries)
	}
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", addr, err)
	}

	h.logger.Infow("blocked", "addr", addr)

	return nil
}

// RemoveBlock is idempotent: removing an address that is not blocked
// succeeds.
func (h *Handle) RemoveBlock(ctx context.Context, addr packet.Addr) error {
	if h.detached.Load() {
		return ErrDetached
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	err := retry(ctx, h.cfg.Attach.Retries, h.cfg.Attach.RetryDelay.Duration, func() error {
		return h.dp.Blocklist().Remove(addr)
	})
	if err != nil {
		return fmt.Errorf("failed to unblock %s: %w", addr, err)
	}

	h.logger.Infow("unblocked", "addr", addr)

	return nil
}

func (h *Handle) ListBlocks() ([]packet.Addr, error) {
	if h.detached.Load() {
		return nil, ErrDetached
	}

	return h.dp.Blocklist().List()
}

// DrainEvents yields queued events until the channel is empty or limit
// have been yielded. Nothing is read until the sequence is ranged over.
func (h *Handle) DrainEvents(limit int) iter.Seq[events.Event] {
	return func(yield func(events.Event) bool) {
		h.drainMu.Lock()
		defer h.drainMu.Unlock()

		if h.detached.Load() {
			return
		}

		src := h.dp.Events()
		for range limit {
			ev, ok, err := src.Poll()
			if err != nil {
				h.logger.Warnw("failed to read event", "err", err)
				return
			}
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Sweep drops rate state idle for longer than the configured TTL.
func (h *Handle) Sweep(now int64) (int, error) {
	if h.detached.Load() {
		return 0, ErrDetached
	}

	n, err := h.dp.RateLimits().Sweep(now, h.cfg.RateLimit.IdleTTL.Duration)
	if err != nil {
		return n, fmt.Errorf("failed to sweep rate state: %w", err)
	}

	if n > 0 {
		h.logger.Debugw("swept idle sources", "count", n)
	}

	return n, nil
}

func (h *Handle) Stats() (classifier.Stats, error) {
	if h.detached.Load() {
		return classifier.Stats{}, ErrDetached
	}

	return h.dp.Stats()
}

// Buckets visits every tracked source's rate state.
func (h *Handle) Buckets(fn func(packet.Addr, ratelimit.Bucket) bool) error {
	if h.detached.Load() {
		return ErrDetached
	}

	return h.dp.RateLimits().Range(fn)
}
