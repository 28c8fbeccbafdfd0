package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/packet"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrDashboardClosed is returned by Dashboard.Run when the operator quits.
var ErrDashboardClosed = errors.New("dashboard closed")

const maxLogLines = 200

// logWriter funnels log lines into the dashboard's log pane. Lines are
// dropped rather than blocking the logger when the pane falls behind.
type logWriter struct{ ch chan string }

func (w logWriter) Write(p []byte) (int, error) {
	select {
	case w.ch <- strings.TrimRight(string(p), "\n"):
	default:
	}

	return len(p), nil
}

// Dashboard is a terminal view of verdict counters, the blocklist and the
// agent's log.
type Dashboard struct {
	app      *tview.Application
	layout   *tview.Flex
	verdicts *tview.TextView
	hostView *tview.TextView
	blocks   *tview.TextView
	logView  *tview.TextView
	logCh    chan string
	p        *message.Printer

	mu    sync.Mutex
	lines []string
}

func NewDashboard(iface string) *Dashboard {
	d := &Dashboard{
		app:   tview.NewApplication(),
		logCh: make(chan string, 256),
		p:     message.NewPrinter(language.English),
	}

	d.verdicts = tview.NewTextView().SetDynamicColors(true)
	d.verdicts.SetBorder(true).SetTitle(fmt.Sprintf(" Verdicts on %s ", iface))

	d.hostView = tview.NewTextView()
	d.hostView.SetBorder(true).SetTitle(" Host ")

	d.blocks = tview.NewTextView().SetScrollable(true)
	d.blocks.SetBorder(true).SetTitle(" Blocklist ")

	d.logView = tview.NewTextView().SetDynamicColors(false).SetScrollable(true)
	d.logView.SetBorder(true).SetTitle(" Log (q to quit) ")

	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(d.verdicts, 0, 2, false).
		AddItem(d.hostView, 0, 1, false).
		AddItem(d.blocks, 0, 1, false)

	d.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 10, 1, false).
		AddItem(d.logView, 0, 1, false)

	return d
}

// LogWriter is a sink for the agent logger.
func (d *Dashboard) LogWriter() io.Writer {
	return logWriter{ch: d.logCh}
}

// Run draws until ctx is cancelled or the operator presses q or ctrl-c.
func (d *Dashboard) Run(ctx context.Context) error {
	var quit atomic.Bool

	d.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
			quit.Store(true)
			d.app.Stop()
			return nil
		}
		return ev
	})

	go d.pumpLog(ctx)
	go func() {
		<-ctx.Done()
		d.app.Stop()
	}()

	if err := d.app.SetRoot(d.layout, true).Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}

	if quit.Load() {
		return ErrDashboardClosed
	}

	return nil
}

func (d *Dashboard) pumpLog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-d.logCh:
			d.mu.Lock()
			d.lines = append(d.lines, line)
			if len(d.lines) > maxLogLines {
				d.lines = d.lines[len(d.lines)-maxLogLines:]
			}
			text := strings.Join(d.lines, "\n")
			d.mu.Unlock()

			d.app.QueueUpdateDraw(func() {
				d.logView.SetText(text)
				d.logView.ScrollToEnd()
			})
		}
	}
}

// Update redraws the panes. delta covers the last interval.
func (d *Dashboard) Update(total, delta classifier.Stats, interval time.Duration, blocks []packet.Addr) {
	verdicts := d.renderVerdicts(total, delta, interval)
	hostInfo := renderHost()

	var b strings.Builder
	for _, a := range blocks {
		b.WriteString(a.String())
		b.WriteByte('\n')
	}

	d.app.QueueUpdateDraw(func() {
		d.verdicts.SetText(verdicts)
		d.hostView.SetText(hostInfo)
		d.blocks.SetText(b.String())
	})
}

func (d *Dashboard) renderVerdicts(total, delta classifier.Stats, interval time.Duration) string {
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}

	row := func(name, colour string, tot, dt uint64) string {
		return d.p.Sprintf("[%s]%-22s[-] %15d %12.0f/s\n", colour, name, tot, float64(dt)/secs)
	}

	return row("passed", "green", total.Passed, delta.Passed) +
		row("unparsed (passed)", "white", total.Unparsed, delta.Unparsed) +
		row("dropped: blocklist", "red", total.Blocked, delta.Blocked) +
		row("dropped: rate limit", "yellow", total.RateLimited, delta.RateLimited) +
		row("rate store full", "orange", total.StoreFull, delta.StoreFull) +
		row("events lost", "gray", total.EventsLost, delta.EventsLost)
}

func renderHost() string {
	var b strings.Builder

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fmt.Fprintf(&b, "cpu    %5.1f%%\n", pct[0])
	}

	if avg, err := load.Avg(); err == nil {
		fmt.Fprintf(&b, "load   %.2f %.2f %.2f\n", avg.Load1, avg.Load5, avg.Load15)
	}

	if up, err := host.Uptime(); err == nil {
		fmt.Fprintf(&b, "uptime %s\n", time.Duration(up)*time.Second)
	}

	return b.String()
}
