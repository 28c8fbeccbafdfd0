package bpf

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/ratelimit"
)

func TestBuildProgram_ReferencesResolve(t *testing.T) {
	insns, err := buildProgram(ratelimit.DefaultParams())
	require.NoError(t, err)

	symbols := map[string]bool{}
	for _, ins := range insns {
		if sym := ins.Symbol(); sym != "" {
			require.False(t, symbols[sym], "symbol %s defined twice", sym)
			symbols[sym] = true
		}
	}

	maps := map[string]bool{}
	for _, ins := range insns {
		ref := ins.Reference()
		if ref == "" {
			continue
		}

		if ins.IsLoadFromMap() {
			maps[ref] = true
			continue
		}

		require.True(t, symbols[ref], "jump to undefined label %s", ref)
	}

	require.Equal(t, map[string]bool{
		mapBlocklist: true,
		mapRateLimit: true,
		mapEdges:     true,
		mapEvents:    true,
		mapStats:     true,
	}, maps)
}

func TestBuildProgram_EveryPathReturns(t *testing.T) {
	insns, err := buildProgram(ratelimit.DefaultParams())
	require.NoError(t, err)

	last := insns[len(insns)-1]
	require.Equal(t, asm.Exit, last.OpCode.JumpOp(), "program must end in exit")

	exits := 0
	for _, ins := range insns {
		if ins.OpCode.JumpOp() == asm.Exit {
			exits++
		}
	}
	require.Equal(t, 4, exits, "blocked, limited, pass and unparsed verdicts")
}

func TestBuildProgram_RejectsInvalidParams(t *testing.T) {
	_, err := buildProgram(ratelimit.Params{Capacity: 0, RefillRate: 1})
	require.ErrorIs(t, err, ratelimit.ErrInvalidParams)
}

func TestBuilder_AdjacentLabels(t *testing.T) {
	b := &builder{}
	b.label("a")
	b.label("b")
	b.emit(asm.Return())

	require.Len(t, b.insns, 2)
	require.Equal(t, "a", b.insns[0].Symbol())
	require.Equal(t, "b", b.insns[0].Reference())
	require.Equal(t, "b", b.insns[1].Symbol())
}

func TestCollectionSpec(t *testing.T) {
	cfg := DefaultCfg()
	cfg.EventRecords = 1

	spec, err := collectionSpec(cfg)
	require.NoError(t, err)

	require.Equal(t, uint32(cfg.BlocklistMaxEntries), spec.Maps[mapBlocklist].MaxEntries)
	require.Equal(t, uint32(16), spec.Maps[mapRateLimit].ValueSize)
	require.Equal(t, uint32(statEnd), spec.Maps[mapStats].MaxEntries)

	ring := spec.Maps[mapEvents].MaxEntries
	require.NotZero(t, ring)
	require.Zero(t, ring&(ring-1), "ring buffer size must be a power of two")
}

func TestRingBytes(t *testing.T) {
	page := ringBytes(0)
	require.Equal(t, page, ringBytes(1))
	require.Equal(t, uint32(1<<20), ringBytes(1<<15))
	require.Equal(t, uint32(32), uint32(ringRecordBytes))
}
