package bpf

import (
	"errors"
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Guard owns one loaded copy of the classifier and its maps.
//
// Using Guard takes two steps: Load builds the program and maps, then
// Attach hooks the program onto an interface. Maps may be populated between
// the two so traffic is filtered from the first frame. Close detaches and
// releases everything.
type Guard struct {
	logger *zap.SugaredLogger
	cfg    *Cfg
	objs   *objects

	iface   string
	xdp     link.Link
	nlLink  netlink.Link
	pinPath string

	blocklist *BlockMap
	rates     *RateMap
	events    *EventReader
	closed    bool
}

// Load creates the maps and loads the program into the kernel without
// attaching it.
func Load(logger *zap.SugaredLogger, cfg *Cfg) (*Guard, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown attach mode %q", cfg.Mode)
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		logger.Warnw("failed to remove memlock rlimit", "err", err)
	}

	spec, err := collectionSpec(cfg)
	if err != nil {
		return nil, err
	}

	objs := &objects{}
	if err := spec.LoadAndAssign(objs, nil); err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			logger.Errorw("verifier rejected classifier", "log", fmt.Sprintf("%+v", ve))
		}

		return nil, fmt.Errorf("failed to load xdpguard objects: %w", classify(err))
	}

	reader, err := newEventReader(objs.Events, objs.Stats)
	if err != nil {
		_ = objs.Close()
		return nil, err
	}

	return &Guard{
		logger:    logger,
		cfg:       cfg,
		objs:      objs,
		blocklist: &BlockMap{m: objs.Blocklist},
		rates:     &RateMap{rates: objs.RateLimit, edges: objs.Edges, params: cfg.Params},
		events:    reader,
	}, nil
}

// Attach hooks the classifier onto the named interface. Kernels without
// bpf_link support for XDP fall back to a netlink attach.
func (g *Guard) Attach(ifaceName string) error {
	if g.closed {
		return ErrNotAttached
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInterfaceNotFound, ifaceName, err)
	}

	nlLink, err := netlink.LinkByIndex(iface.Index)
	if err != nil {
		return fmt.Errorf("failed to read link %s: %w", ifaceName, classify(err))
	}

	if xdp := nlLink.Attrs().Xdp; xdp != nil && xdp.Attached {
		return fmt.Errorf("%w: %s has prog id %d", ErrAlreadyAttached, ifaceName, xdp.ProgId)
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   g.objs.Program,
		Interface: iface.Index,
		Flags:     g.cfg.Mode.linkFlags(),
	})

	switch {
	case err == nil:
		g.xdp = l
	case errors.Is(err, ebpf.ErrNotSupported):
		g.logger.Infow("bpf_link xdp unsupported, attaching over netlink", "iface", ifaceName)

		flags := g.cfg.Mode.netlinkFlags() | unix.XDP_FLAGS_UPDATE_IF_NOEXIST
		if err := netlink.LinkSetXdpFdWithFlags(nlLink, g.objs.Program.FD(), flags); err != nil {
			return fmt.Errorf("failed to attach over netlink: %w", classify(err))
		}

		g.nlLink = nlLink
	default:
		return fmt.Errorf("failed to attach to %s: %w", ifaceName, classify(err))
	}

	g.iface = ifaceName
	g.pin(ifaceName)

	g.logger.Infow("classifier attached", "iface", ifaceName, "mode", g.cfg.Mode, "pinned", g.pinPath)

	return nil
}

// pin exposes the shared maps to guardctl under PinPath/iface, replacing
// pins a previous guard left behind. A failure leaves the guard running
// unpinned.
func (g *Guard) pin(iface string) {
	if g.cfg.PinPath == "" {
		return
	}

	dir := pinDir(g.cfg.PinPath, iface)

	if err := pinMaps(g.objs, dir); err != nil {
		g.logger.Warnw("maps not pinned, guardctl will not reach this guard", "dir", dir, "err", err)
		return
	}

	g.pinPath = dir
}

// Detach unhooks the program and removes its pins. Frames already
// classified keep their verdicts; later frames bypass the classifier.
func (g *Guard) Detach() error {
	attached := g.xdp != nil || g.nlLink != nil

	switch {
	case g.xdp != nil:
		if err := g.xdp.Close(); err != nil {
			return fmt.Errorf("failed to close xdp link: %w", err)
		}
		g.xdp = nil
	case g.nlLink != nil:
		if err := netlink.LinkSetXdpFdWithFlags(g.nlLink, -1, g.cfg.Mode.netlinkFlags()); err != nil {
			return fmt.Errorf("failed to detach over netlink: %w", err)
		}
		g.nlLink = nil
	}

	if g.pinPath != "" {
		if err := unpinMaps(g.objs, g.pinPath); err != nil {
			g.logger.Warnw("failed to remove pins", "dir", g.pinPath, "err", err)
		}
		g.pinPath = ""
	}

	if attached {
		g.logger.Infow("classifier detached", "iface", g.iface)
	}

	return nil
}

// Close detaches if needed and releases the program and maps. It is safe
// to call more than once.
func (g *Guard) Close() error {
	if g.closed {
		return nil
	}

	detachErr := g.Detach()
	g.closed = true

	return errors.Join(detachErr, g.events.Close(), g.objs.Close())
}

func (g *Guard) Blocklist() *BlockMap {
	return g.blocklist
}

func (g *Guard) RateLimits() *RateMap {
	return g.rates
}

func (g *Guard) Events() *EventReader {
	return g.events
}

func (g *Guard) Stats() (classifier.Stats, error) {
	return readStats(g.objs.Stats)
}

func (m AttachMode) linkFlags() link.XDPAttachFlags {
	switch m {
	case ModeDriver:
		return link.XDPDriverMode
	case ModeGeneric:
		return link.XDPGenericMode
	}

	return 0
}

func (m AttachMode) netlinkFlags() int {
	switch m {
	case ModeDriver:
		return unix.XDP_FLAGS_DRV_MODE
	case ModeGeneric:
		return unix.XDP_FLAGS_SKB_MODE
	}

	return 0
}

// classify maps kernel errnos onto this package's sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %w", ErrPermission, err)
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %w", ErrAlreadyAttached, err)
	case errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %w", ErrInterfaceNotFound, err)
	}

	return err
}
