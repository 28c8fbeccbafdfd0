package frontend

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/packet"
)

func TestDecodeConfig(t *testing.T) {
	in := `
block = ["1.1.1.1", "10.0.0.1"]

[ratelimit]
capacity = 50
refill_rate = 25
idle_ttl = "2m"

[events]
verbosity = "events"

[attach]
mode = "generic"
`

	cfg, err := DecodeConfig(strings.NewReader(in))
	require.NoError(t, err)

	require.Equal(t, uint32(50), cfg.RateLimit.Capacity)
	require.Equal(t, uint32(25), cfg.RateLimit.RefillRate)
	require.Equal(t, 2*time.Minute, cfg.RateLimit.IdleTTL.Duration)
	require.Equal(t, 10*time.Second, cfg.RateLimit.SweepInterval.Duration, "omitted keys keep defaults")
	require.Equal(t, Events, cfg.Events.Verbosity)
	require.Equal(t, "generic", cfg.Attach.Mode)

	blocks, err := cfg.Blocks()
	require.NoError(t, err)
	require.Equal(t, []packet.Addr{0x01010101, 0x0a000001}, blocks)
}

func TestDecodeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "unknown key", in: "[ratelimit]\nburst = 3\n"},
		{name: "zero capacity", in: "[ratelimit]\ncapacity = 0\n"},
		{name: "bad duration", in: "[ratelimit]\nidle_ttl = \"soon\"\n"},
		{name: "bad block", in: "block = [\"::1\"]\n"},
		{name: "bad mode", in: "[attach]\nmode = \"offload\"\n"},
		{name: "bad verbosity", in: "[events]\nverbosity = \"loud\"\n"},
		{name: "not toml", in: "capacity: 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig(strings.NewReader(tt.in))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Block = []string{"192.0.2.1"}

	var buf bytes.Buffer
	require.NoError(t, EncodeConfig(&buf, cfg))

	back, err := DecodeConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, cfg, back)
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv(VerbosityEnv, "DEBUG")
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, Debug, cfg.Events.Verbosity)

	t.Setenv(VerbosityEnv, "chatty")
	require.ErrorIs(t, cfg.ApplyEnv(), ErrInvalidConfig)
}

func TestGuardCfg_FlagsOverrideFile(t *testing.T) {
	t.Setenv(VerbosityEnv, "")

	gc := &GuardCfg{
		Iface:   "eth0",
		Blocks:  []string{"203.0.113.5"},
		Mode:    "driver",
		PinPath: "/tmp/pins",
	}

	cfg, err := gc.Config()
	require.NoError(t, err)
	require.Equal(t, "driver", cfg.Attach.Mode)
	require.Equal(t, "/tmp/pins", cfg.Attach.PinPath)
	require.Equal(t, []string{"203.0.113.5"}, cfg.Block)

	gc.Blocks = []string{"not-an-ip"}
	_, err = gc.Config()
	require.ErrorIs(t, err, ErrInvalidConfig)
}
