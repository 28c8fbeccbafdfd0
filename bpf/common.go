package bpf

import (
	"errors"

	"github.com/tcassar-diss/xdpguard/ratelimit"
	"github.com/tcassar-diss/xdpguard/store"
)

var (
	ErrInterfaceNotFound = errors.New("network interface not found")
	ErrAlreadyAttached   = errors.New("an xdp program is already attached to the interface")
	ErrPermission        = errors.New("insufficient privilege to load or attach bpf objects")
	ErrNotAttached       = errors.New("guard is not attached")
)

// AttachMode selects where the kernel runs the program.
type AttachMode string

const (
	// ModeAuto lets the kernel pick native mode when the driver supports it.
	ModeAuto    AttachMode = "auto"
	ModeDriver  AttachMode = "driver"
	ModeGeneric AttachMode = "generic"
)

func (m AttachMode) Valid() bool {
	switch m {
	case ModeAuto, ModeDriver, ModeGeneric:
		return true
	}

	return false
}

// Cfg configures the kernel objects.
type Cfg struct {
	Params              ratelimit.Params
	BlocklistMaxEntries uint32
	RateMaxEntries      uint32
	// EventRecords is roughly how many events the ring buffer holds.
	EventRecords uint32
	Mode         AttachMode
	// PinPath is the bpffs directory maps are pinned under, one
	// subdirectory per interface. Empty disables pinning.
	PinPath string
}

const DefaultPinPath = "/sys/fs/bpf/xdpguard"

func DefaultCfg() *Cfg {
	return &Cfg{
		Params:              ratelimit.DefaultParams(),
		BlocklistMaxEntries: store.DefaultBlocklistMaxEntries,
		RateMaxEntries:      store.DefaultRateMaxEntries,
		EventRecords:        4096,
		Mode:                ModeAuto,
		PinPath:             DefaultPinPath,
	}
}

// stat indexes the per-CPU stats array.
type stat uint32

const (
	statPassed stat = iota
	statUnparsed
	statBlocked
	statRateLimited
	statStoreFull
	statEventsLost
	statEnd
)
