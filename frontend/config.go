package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
)

// VerbosityEnv selects how much event output the agent prints. It never
// changes classification.
const VerbosityEnv = "XDPGUARD_VERBOSITY"

var ErrInvalidConfig = errors.New("invalid configuration")

type Verbosity string

const (
	Quiet   Verbosity = "quiet"
	Summary Verbosity = "summary"
	Events  Verbosity = "events"
	Debug   Verbosity = "debug"
)

func (v Verbosity) Valid() bool {
	switch v {
	case Quiet, Summary, Events, Debug:
		return true
	}

	return false
}

// Duration reads "60s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}

	d.Duration = v

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	RateLimit RateLimitCfg `toml:"ratelimit"`
	Stores    StoresCfg    `toml:"stores"`
	Events    EventsCfg    `toml:"events"`
	Attach    AttachCfg    `toml:"attach"`
	Report    ReportCfg    `toml:"report"`
	Block     []string     `toml:"block"`
}

type RateLimitCfg struct {
	Capacity      uint32   `toml:"capacity"`
	RefillRate    uint32   `toml:"refill_rate"`
	IdleTTL       Duration `toml:"idle_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
	Strict        bool     `toml:"strict"`
}

type StoresCfg struct {
	BlocklistMaxEntries uint32 `toml:"blocklist_max_entries"`
	RateMaxEntries      uint32 `toml:"ratelimit_max_entries"`
}

type EventsCfg struct {
	RingSize          uint32    `toml:"ring_size"`
	PollInterval      Duration  `toml:"poll_interval"`
	MaxLinesPerSecond float64   `toml:"max_lines_per_second"`
	Verbosity         Verbosity `toml:"verbosity"`
}

type AttachCfg struct {
	Mode       string   `toml:"mode"`
	PinPath    string   `toml:"pin_path"`
	Retries    int      `toml:"retries"`
	RetryDelay Duration `toml:"retry_delay"`
}

type ReportCfg struct {
	SummaryInterval Duration `toml:"summary_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		RateLimit: RateLimitCfg{
			Capacity:      ratelimit.DefaultCapacity,
			RefillRate:    ratelimit.DefaultRefillRate,
			IdleTTL:       Duration{60 * time.Second},
			SweepInterval: Duration{10 * time.Second},
		},
		Stores: StoresCfg{
			BlocklistMaxEntries: store.DefaultBlocklistMaxEntries,
			RateMaxEntries:      store.DefaultRateMaxEntries,
		},
		Events: EventsCfg{
			RingSize:          4096,
			PollInterval:      Duration{250 * time.Millisecond},
			MaxLinesPerSecond: 20,
			Verbosity:         Summary,
		},
		Attach: AttachCfg{
			Mode:       string(bpf.ModeAuto),
			PinPath:    bpf.DefaultPinPath,
			Retries:    Retries,
			RetryDelay: Duration{RetryDelay},
		},
		Report: ReportCfg{
			SummaryInterval: Duration{time.Second},
		},
	}
}

// LoadConfig reads a TOML file over the defaults. Keys the file omits keep
// their default; unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	return DecodeConfig(f)
}

func DecodeConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	return cfg, cfg.Validate()
}

func EncodeConfig(w io.Writer, cfg *Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	v, ok := os.LookupEnv(VerbosityEnv)
	if !ok || v == "" {
		return nil
	}

	vb := Verbosity(strings.ToLower(v))
	if !vb.Valid() {
		return fmt.Errorf("%w: %s=%q, want quiet|summary|events|debug", ErrInvalidConfig, VerbosityEnv, v)
	}

	c.Events.Verbosity = vb

	return nil
}

func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := c.Blocks(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	checks := []struct {
		ok  bool
		msg string
	}{
		{c.RateLimit.IdleTTL.Duration > 0, "ratelimit.idle_ttl must be positive"},
		{c.RateLimit.SweepInterval.Duration > 0, "ratelimit.sweep_interval must be positive"},
		{c.Stores.BlocklistMaxEntries > 0, "stores.blocklist_max_entries must be positive"},
		{c.Stores.RateMaxEntries > 0, "stores.ratelimit_max_entries must be positive"},
		{c.Events.RingSize > 0, "events.ring_size must be positive"},
		{c.Events.PollInterval.Duration > 0, "events.poll_interval must be positive"},
		{c.Events.MaxLinesPerSecond > 0, "events.max_lines_per_second must be positive"},
		{c.Events.Verbosity.Valid(), "events.verbosity must be quiet, summary, events or debug"},
		{bpf.AttachMode(c.Attach.Mode).Valid(), "attach.mode must be auto, driver or generic"},
		{c.Attach.Retries >= 0, "attach.retries must not be negative"},
		{c.Report.SummaryInterval.Duration > 0, "report.summary_interval must be positive"},
	}

	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, chk.msg)
		}
	}

	return nil
}

func (c *Config) Params() ratelimit.Params {
	return ratelimit.Params{
		Capacity:   c.RateLimit.Capacity,
		RefillRate: c.RateLimit.RefillRate,
	}
}

// Blocks parses the configured blocklist.
func (c *Config) Blocks() ([]packet.Addr, error) {
	return ParseAddrs(c.Block)
}

func ParseAddrs(ss []string) ([]packet.Addr, error) {
	out := make([]packet.Addr, 0, len(ss))

	for _, s := range ss {
		a, err := packet.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, nil
}

func (c *Config) bpfCfg() *bpf.Cfg {
	return &bpf.Cfg{
		Params:              c.Params(),
		BlocklistMaxEntries: c.Stores.BlocklistMaxEntries,
		RateMaxEntries:      c.Stores.RateMaxEntries,
		EventRecords:        c.Events.RingSize,
		Mode:                bpf.AttachMode(c.Attach.Mode),
		PinPath:             c.Attach.PinPath,
	}
}

func (c *Config) classifierCfg() *classifier.Cfg {
	return &classifier.Cfg{
		Params: c.Params(),
		Strict: c.RateLimit.Strict,
	}
}
