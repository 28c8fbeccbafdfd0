package frontend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/packet/packettest"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Stores.BlocklistMaxEntries = 4
	cfg.Stores.RateMaxEntries = 16
	cfg.Events.RingSize = 64
	cfg.Attach.RetryDelay = Duration{time.Millisecond}

	return cfg
}

func newTestAgent(t *testing.T) (*Agent, *UserspaceAttacher) {
	t.Helper()

	cfg := testConfig()
	attacher := NewUserspaceAttacher(cfg, "eth0", "eth1")

	return NewAgent(zap.NewNop().Sugar(), cfg, attacher), attacher
}

func TestAgent_AttachErrors(t *testing.T) {
	agent, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := agent.Attach(ctx, "wlan9")
	var ae *AttachError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, ReasonNotFound, ae.Reason)
	require.Equal(t, "wlan9", ae.Iface)

	h, err := agent.Attach(ctx, "eth0")
	require.NoError(t, err)

	_, err = agent.Attach(ctx, "eth0")
	require.ErrorAs(t, err, &ae)
	require.Equal(t, ReasonAlreadyAttached, ae.Reason)

	require.NoError(t, agent.Detach(h))
	require.NoError(t, agent.Detach(h), "detach is idempotent")

	h, err = agent.Attach(ctx, "eth0")
	require.NoError(t, err, "interface is free again after detach")
	require.NoError(t, agent.Detach(h))
}

func TestAgent_BlockAdministration(t *testing.T) {
	agent, attacher := newTestAgent(t)
	ctx := context.Background()

	h, err := agent.Attach(ctx, "eth0", packet.MustParseAddr("1.1.1.1"))
	require.NoError(t, err)

	dp, ok := attacher.Datapath("eth0")
	require.True(t, ok)
	c := dp.Classifier()

	require.Equal(t, classifier.Drop, c.Classify(packettest.UDP("1.1.1.1")), "preloaded before first frame")

	target := packet.MustParseAddr("198.51.100.20")
	frame := packettest.UDP("198.51.100.20")

	require.Equal(t, classifier.Pass, c.Classify(frame))

	for range 3 {
		require.NoError(t, h.InsertBlock(ctx, target))
	}

	blocks, err := h.ListBlocks()
	require.NoError(t, err)
	require.Equal(t, []packet.Addr{packet.MustParseAddr("1.1.1.1"), target}, blocks)
	require.Equal(t, classifier.Drop, c.Classify(frame))

	require.NoError(t, h.RemoveBlock(ctx, target))
	require.NoError(t, h.RemoveBlock(ctx, target))
	require.Equal(t, classifier.Pass, c.Classify(frame))

	require.NoError(t, agent.Detach(h))
	require.ErrorIs(t, h.InsertBlock(ctx, target), ErrDetached)
	_, err = h.ListBlocks()
	require.ErrorIs(t, err, ErrDetached)
}

func TestAgent_BlocklistFull(t *testing.T) {
	agent, _ := newTestAgent(t)
	ctx := context.Background()

	h, err := agent.Attach(ctx, "eth0")
	require.NoError(t, err)

	for i := range 4 {
		require.NoError(t, h.InsertBlock(ctx, packet.Addr(0x0a000001+i)))
	}

	require.ErrorIs(t, h.InsertBlock(ctx, packet.MustParseAddr("192.0.2.1")), store.ErrFull)
}

func TestAgent_DrainEvents(t *testing.T) {
	agent, attacher := newTestAgent(t)
	ctx := context.Background()

	h, err := agent.Attach(ctx, "eth1", packet.MustParseAddr("1.1.1.1"))
	require.NoError(t, err)

	dp, _ := attacher.Datapath("eth1")
	for range 5 {
		dp.Classifier().Classify(packettest.TCP("1.1.1.1"))
	}

	var got []events.Event
	for ev := range h.DrainEvents(3) {
		got = append(got, ev)
	}
	require.Len(t, got, 3, "a drain stops at its limit")

	for ev := range h.DrainEvents(100) {
		got = append(got, ev)
	}
	require.Len(t, got, 5)

	for ev := range h.DrainEvents(100) {
		t.Fatalf("unexpected event %+v", ev)
	}

	for _, ev := range got {
		require.Equal(t, events.Blocked, ev.Kind)
		require.Equal(t, packet.MustParseAddr("1.1.1.1"), ev.Source)
	}

	s, err := h.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(5), s.Blocked)
}

func TestAgent_Sweep(t *testing.T) {
	agent, attacher := newTestAgent(t)

	h, err := agent.Attach(context.Background(), "eth0")
	require.NoError(t, err)

	dp, _ := attacher.Datapath("eth0")
	dp.Classifier().ClassifyAt(packettest.UDP("10.0.0.1"), 0)
	dp.Classifier().ClassifyAt(packettest.UDP("10.0.0.2"), int64(30*time.Second))

	n, err := h.Sweep(int64(61 * time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var left []packet.Addr
	require.NoError(t, h.Buckets(func(a packet.Addr, _ ratelimit.Bucket) bool {
		left = append(left, a)
		return true
	}))
	require.Equal(t, []packet.Addr{packet.MustParseAddr("10.0.0.2")}, left)
}

func TestAgent_SweepPreservesBucketArithmetic(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Capacity = 100
	cfg.RateLimit.RefillRate = 10
	cfg.RateLimit.IdleTTL = Duration{time.Second}
	require.NoError(t, cfg.Validate())

	attacher := NewUserspaceAttacher(cfg, "eth0")
	agent := NewAgent(zap.NewNop().Sugar(), cfg, attacher)

	h, err := agent.Attach(context.Background(), "eth0")
	require.NoError(t, err)

	dp, _ := attacher.Datapath("eth0")
	c := dp.Classifier()
	frame := packettest.UDP("9.9.9.9")

	for range 100 {
		require.Equal(t, classifier.Pass, c.ClassifyAt(frame, int64(time.Second)))
	}

	n, err := h.Sweep(int64(3 * time.Second))
	require.NoError(t, err)
	require.Zero(t, n)

	passed := 0
	for range 100 {
		if c.ClassifyAt(frame, int64(3*time.Second)) == classifier.Pass {
			passed++
		}
	}
	require.Equal(t, 20, passed, "2s at 10/s refills 20 tokens")
}

// flakyAttacher fails with a transient errno a fixed number of times.
type flakyAttacher struct {
	inner    Attacher
	failures atomic.Int32
}

func (f *flakyAttacher) Attach(ctx context.Context, iface string, preload []packet.Addr) (Datapath, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, unix.EAGAIN
	}

	return f.inner.Attach(ctx, iface, preload)
}

func TestAgent_AttachRetriesTransientErrors(t *testing.T) {
	cfg := testConfig()
	flaky := &flakyAttacher{inner: NewUserspaceAttacher(cfg, "eth0")}
	flaky.failures.Store(2)

	agent := NewAgent(zap.NewNop().Sugar(), cfg, flaky)

	h, err := agent.Attach(context.Background(), "eth0")
	require.NoError(t, err)
	require.NotNil(t, h)

	flaky.failures.Store(100)
	_, err = agent.Attach(context.Background(), "eth1")

	var ae *AttachError
	require.ErrorAs(t, err, &ae)
	require.True(t, errors.Is(err, unix.EAGAIN))
}

func TestAgent_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Events.PollInterval = Duration{5 * time.Millisecond}
	cfg.Report.SummaryInterval = Duration{5 * time.Millisecond}
	cfg.RateLimit.SweepInterval = Duration{5 * time.Millisecond}

	attacher := NewUserspaceAttacher(cfg, "eth0")
	agent := NewAgent(zap.NewNop().Sugar(), cfg, attacher)

	h, err := agent.Attach(context.Background(), "eth0", packet.MustParseAddr("1.1.1.1"))
	require.NoError(t, err)

	dp, _ := attacher.Datapath("eth0")
	for range 10 {
		dp.Classifier().Classify(packettest.UDP("1.1.1.1"))
	}

	printer := NewEventPrinter(zap.NewNop().Sugar(), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, agent.Run(ctx, h, printer, nil))
	require.Equal(t, uint64(10), printer.Seen())
}
