package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// GuardCfg is what the xdpguard command line hands to RunGuard. Non-empty
// fields override the config file.
type GuardCfg struct {
	Iface      string
	ConfigPath string
	Blocks     []string
	Mode       string
	PinPath    string
	Dashboard  bool
}

// Config resolves the effective configuration: defaults, then the config
// file, then the environment, then flags.
func (gc *GuardCfg) Config() (*Config, error) {
	cfg := DefaultConfig()

	if gc.ConfigPath != "" {
		var err error
		if cfg, err = LoadConfig(gc.ConfigPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg.Block = append(cfg.Block, gc.Blocks...)

	if gc.Mode != "" {
		cfg.Attach.Mode = gc.Mode
	}

	if gc.PinPath != "" {
		cfg.Attach.PinPath = gc.PinPath
	}

	return cfg, cfg.Validate()
}

// RunGuard attaches the classifier to gc.Iface and services it until ctx
// is cancelled. Cancellation is a clean exit.
func RunGuard(ctx context.Context, gc *GuardCfg) error {
	cfg, err := gc.Config()
	if err != nil {
		return err
	}

	var (
		dash *Dashboard
		sink io.Writer
	)

	if gc.Dashboard {
		dash = NewDashboard(gc.Iface)
		sink = dash.LogWriter()
	}

	logger, err := initLogger(cfg.Events.Verbosity, sink)
	if err != nil {
		return fmt.Errorf("failed to get a logger: %w", err)
	}
	defer logger.Sync()

	logger.Infow("=== Launching xdpguard ===",
		"iface", gc.Iface,
		"capacity", cfg.RateLimit.Capacity,
		"refill_rate", cfg.RateLimit.RefillRate,
		"mode", cfg.Attach.Mode,
	)

	blocks, err := cfg.Blocks()
	if err != nil {
		return err
	}

	agent := NewAgent(logger, cfg, NewKernelAttacher(logger, cfg))

	h, err := agent.Attach(ctx, gc.Iface, blocks...)
	if err != nil {
		return err
	}

	defer func() {
		if err := agent.Detach(h); err != nil {
			logger.Warnw("failed to detach cleanly", "err", err)
		}
	}()

	err = agent.Run(ctx, h, NewEventPrinter(logger, cfg), dash)
	if errors.Is(err, ErrDashboardClosed) {
		err = nil
	}

	logStats(logger, h)

	return err
}

func logStats(logger *zap.SugaredLogger, h *Handle) {
	stats, err := h.Stats()
	if err != nil {
		logger.Warnw("failed to read stats", "err", err)
		return
	}

	bts, err := json.Marshal(&stats)
	if err != nil {
		logger.Warnw("failed to marshal stats", "err", err)
		return
	}

	logger.Infow("final verdict totals", "stats", string(bts))
}
