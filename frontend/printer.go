package frontend

import (
	"cmp"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/tcassar-diss/xdpguard/events"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// summaryTop is how many sources a summary lists individually.
const summaryTop = 10

type sourceKey struct {
	kind events.Kind
	src  packet.Addr
}

// EventPrinter turns drained events into log output according to the
// configured verbosity.
type EventPrinter struct {
	logger    *zap.SugaredLogger
	verbosity Verbosity
	limiter   *rate.Limiter
	now       func() int64

	mu         sync.Mutex
	counts     map[sourceKey]uint64
	suppressed uint64
	seen       uint64
}

func NewEventPrinter(logger *zap.SugaredLogger, cfg *Config) *EventPrinter {
	perSec := cfg.Events.MaxLinesPerSecond

	return &EventPrinter{
		logger:    logger,
		verbosity: cfg.Events.Verbosity,
		limiter:   rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec))),
		now:       ratelimit.Now,
		counts:    map[sourceKey]uint64{},
	}
}

// Consume reads seq to the end and returns how many events it held.
func (p *EventPrinter) Consume(seq iter.Seq[events.Event]) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for ev := range seq {
		n++
		p.seen++

		switch p.verbosity {
		case Quiet:
		case Summary:
			p.counts[sourceKey{ev.Kind, ev.Source}] += uint64(ev.Count)
		default:
			if !p.limiter.Allow() {
				p.suppressed++
				continue
			}

			p.logger.Infow("drop event",
				"kind", ev.Kind.String(),
				"src", ev.Source.String(),
				"at", p.wallClock(ev.Timestamp),
			)
		}
	}

	return n
}

// Flush prints whatever Consume accumulated since the last Flush.
func (p *EventPrinter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.verbosity {
	case Summary:
		p.flushSummary()
	case Events, Debug:
		if p.suppressed > 0 {
			p.logger.Infow("event output throttled", "suppressed", p.suppressed)
			p.suppressed = 0
		}
	}
}

func (p *EventPrinter) flushSummary() {
	if len(p.counts) == 0 {
		return
	}

	type row struct {
		sourceKey
		n uint64
	}

	rows := make([]row, 0, len(p.counts))
	for k, n := range p.counts {
		rows = append(rows, row{k, n})
	}

	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(a.src, b.src)
	})

	var rest uint64
	for i, r := range rows {
		if i >= summaryTop {
			rest += r.n
			continue
		}

		p.logger.Infow("drop summary", "kind", r.kind.String(), "src", r.src.String(), "events", r.n)
	}

	if rest > 0 {
		p.logger.Infow("drop summary", "other_sources", len(rows)-summaryTop, "events", rest)
	}

	clear(p.counts)
}

// Seen is the number of events consumed since start.
func (p *EventPrinter) Seen() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.seen
}

// wallClock places a monotonic timestamp on the wall clock by its distance
// from the current monotonic time.
func (p *EventPrinter) wallClock(ts uint64) time.Time {
	age := time.Duration(p.now() - int64(ts))

	return time.Now().Add(-age)
}
