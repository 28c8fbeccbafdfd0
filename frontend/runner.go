package frontend

import (
	"context"
	"errors"
	"time"

	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Run services an attached handle until ctx is cancelled: it sweeps idle
// rate state, drains events into printer and reports verdict totals, on
// dash when one is given and through the logger otherwise.
func (a *Agent) Run(ctx context.Context, h *Handle, printer *EventPrinter, dash *Dashboard) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sweepLoop(ctx, h) })
	g.Go(func() error { return a.eventLoop(ctx, h, printer) })
	g.Go(func() error { return a.summaryLoop(ctx, h, printer, dash) })

	if dash != nil {
		g.Go(func() error { return dash.Run(ctx) })
	}

	return g.Wait()
}

func (a *Agent) sweepLoop(ctx context.Context, h *Handle) error {
	t := time.NewTicker(a.cfg.RateLimit.SweepInterval.Duration)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		if _, err := h.Sweep(ratelimit.Now()); err != nil {
			if errors.Is(err, ErrDetached) {
				return nil
			}
			a.logger.Warnw("sweep failed", "err", err)
		}
	}
}

func (a *Agent) eventLoop(ctx context.Context, h *Handle, printer *EventPrinter) error {
	t := time.NewTicker(a.cfg.Events.PollInterval.Duration)
	defer t.Stop()

	limit := int(a.cfg.Events.RingSize)

	for {
		select {
		case <-ctx.Done():
			printer.Consume(h.DrainEvents(limit))
			printer.Flush()
			return nil
		case <-t.C:
			printer.Consume(h.DrainEvents(limit))
		}
	}
}

func (a *Agent) summaryLoop(ctx context.Context, h *Handle, printer *EventPrinter, dash *Dashboard) error {
	interval := a.cfg.Report.SummaryInterval.Duration

	t := time.NewTicker(interval)
	defer t.Stop()

	var prev classifier.Stats

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		s, err := h.Stats()
		if err != nil {
			if errors.Is(err, ErrDetached) {
				return nil
			}
			a.logger.Warnw("failed to read stats", "err", err)
			continue
		}

		delta := s.Sub(prev)
		prev = s

		if delta.StoreFull > 0 {
			a.logger.Warnw("rate-limit store full, new sources pass unthrottled",
				"unthrottled", delta.StoreFull,
				"max_entries", a.cfg.Stores.RateMaxEntries,
			)
		}

		printer.Flush()

		if dash != nil {
			blocks, err := h.ListBlocks()
			if err != nil {
				a.logger.Warnw("failed to list blocklist", "err", err)
			}
			dash.Update(s, delta, interval, blocks)
			continue
		}

		if a.cfg.Events.Verbosity != Quiet && delta.Total() > 0 {
			a.logger.Infow("verdicts",
				"passed", delta.Passed,
				"unparsed", delta.Unparsed,
				"dropped_blocked", delta.Blocked,
				"dropped_rate_limited", delta.RateLimited,
				"events_lost", delta.EventsLost,
			)
		}
	}
}
