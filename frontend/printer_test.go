package frontend

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedPrinter(v Verbosity, perSec float64) (*EventPrinter, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)

	cfg := DefaultConfig()
	cfg.Events.Verbosity = v
	cfg.Events.MaxLinesPerSecond = perSec

	p := NewEventPrinter(zap.New(core).Sugar(), cfg)
	p.now = func() int64 { return 1_000 }

	return p, logs
}

func burst(kind events.Kind, src string, n int) []events.Event {
	out := make([]events.Event, n)
	for i := range out {
		out[i] = events.Event{Kind: kind, Source: packet.MustParseAddr(src), Timestamp: 500, Count: 1}
	}

	return out
}

func TestEventPrinter_Summary(t *testing.T) {
	p, logs := newObservedPrinter(Summary, 20)

	evs := append(burst(events.Blocked, "1.1.1.1", 7), burst(events.RateLimited, "9.9.9.9", 2)...)
	require.Equal(t, 9, p.Consume(slices.Values(evs)))
	require.Zero(t, logs.Len(), "summary waits for flush")

	p.Flush()

	entries := logs.FilterMessage("drop summary").AllUntimed()
	require.Len(t, entries, 2)
	require.Equal(t, "1.1.1.1", entries[0].ContextMap()["src"])
	require.Equal(t, uint64(7), entries[0].ContextMap()["events"])
	require.Equal(t, "rate_limited", entries[1].ContextMap()["kind"])

	p.Flush()
	require.Len(t, logs.FilterMessage("drop summary").AllUntimed(), 2, "counts reset after flush")
}

func TestEventPrinter_SummaryCollapsesLongTail(t *testing.T) {
	p, logs := newObservedPrinter(Summary, 20)

	var evs []events.Event
	for i := range summaryTop + 5 {
		evs = append(evs, events.Event{Kind: events.Blocked, Source: packet.Addr(i + 1), Count: 1})
	}

	p.Consume(slices.Values(evs))
	p.Flush()

	entries := logs.FilterMessage("drop summary").AllUntimed()
	require.Len(t, entries, summaryTop+1)
	require.Equal(t, int64(5), entries[summaryTop].ContextMap()["other_sources"])
}

func TestEventPrinter_EventsAreThrottled(t *testing.T) {
	p, logs := newObservedPrinter(Events, 3)

	p.Consume(slices.Values(burst(events.Blocked, "1.1.1.1", 10)))
	require.Equal(t, 3, logs.FilterMessage("drop event").Len())

	p.Flush()
	throttled := logs.FilterMessage("event output throttled").AllUntimed()
	require.Len(t, throttled, 1)
	require.Equal(t, uint64(7), throttled[0].ContextMap()["suppressed"])
}

func TestEventPrinter_Quiet(t *testing.T) {
	p, logs := newObservedPrinter(Quiet, 20)

	require.Equal(t, 4, p.Consume(slices.Values(burst(events.Blocked, "1.1.1.1", 4))))
	p.Flush()

	require.Zero(t, logs.Len())
	require.Equal(t, uint64(4), p.Seen())
}
