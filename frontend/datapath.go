package frontend

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/store"
	"go.uber.org/zap"
)

// Datapath is a classifier attached to an interface together with the
// stores it shares with the agent.
type Datapath interface {
	Blocklist() store.Blocklist
	RateLimits() store.RateLimits
	Events() events.Source
	Stats() (classifier.Stats, error)
	Close() error
}

// Attacher creates a Datapath on an interface. preload is inserted into the
// blocklist before the first frame is classified.
type Attacher interface {
	Attach(ctx context.Context, iface string, preload []packet.Addr) (Datapath, error)
}

type AttachReason int

const (
	ReasonNotFound AttachReason = iota
	ReasonAlreadyAttached
	ReasonPermission
	ReasonStoreCreate
)

func (r AttachReason) String() string {
	switch r {
	case ReasonNotFound:
		return "interface not found"
	case ReasonAlreadyAttached:
		return "already attached"
	case ReasonPermission:
		return "insufficient privilege"
	default:
		return "failed to create stores"
	}
}

type AttachError struct {
	Iface  string
	Reason AttachReason
	Err    error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s: %s: %v", e.Iface, e.Reason, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

func newAttachError(iface string, err error) *AttachError {
	var ae *AttachError
	if errors.As(err, &ae) {
		return ae
	}

	reason := ReasonStoreCreate

	switch {
	case errors.Is(err, bpf.ErrInterfaceNotFound):
		reason = ReasonNotFound
	case errors.Is(err, bpf.ErrAlreadyAttached):
		reason = ReasonAlreadyAttached
	case errors.Is(err, bpf.ErrPermission):
		reason = ReasonPermission
	}

	return &AttachError{Iface: iface, Reason: reason, Err: err}
}

// KernelAttacher attaches the XDP classifier.
type KernelAttacher struct {
	logger *zap.SugaredLogger
	cfg    *Config
}

func NewKernelAttacher(logger *zap.SugaredLogger, cfg *Config) *KernelAttacher {
	return &KernelAttacher{logger: logger, cfg: cfg}
}

func (k *KernelAttacher) Attach(_ context.Context, iface string, preload []packet.Addr) (Datapath, error) {
	g, err := bpf.Load(k.logger, k.cfg.bpfCfg())
	if err != nil {
		return nil, err
	}

	for _, a := range preload {
		if err := g.Blocklist().Insert(a); err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("failed to preload blocklist: %w", err)
		}
	}

	if err := g.Attach(iface); err != nil {
		_ = g.Close()
		return nil, err
	}

	return &kernelDatapath{g: g}, nil
}

type kernelDatapath struct {
	g *bpf.Guard
}

func (k *kernelDatapath) Blocklist() store.Blocklist       { return k.g.Blocklist() }
func (k *kernelDatapath) RateLimits() store.RateLimits     { return k.g.RateLimits() }
func (k *kernelDatapath) Events() events.Source            { return k.g.Events() }
func (k *kernelDatapath) Stats() (classifier.Stats, error) { return k.g.Stats() }
func (k *kernelDatapath) Close() error                     { return k.g.Close() }
