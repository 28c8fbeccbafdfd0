// Package events defines the records the classifier emits and the lossy
// ring that carries them to the control agent.
package events

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tcassar-diss/xdpguard/packet"
)

var (
	ErrShortRecord = errors.New("event record too short")
	ErrUnknownKind = errors.New("unknown event kind")
)

// RecordSize is the encoded length of an Event:
//
//	[0]     kind
//	[1:5]   source, network order
//	[5:13]  timestamp ns, host order
//	[13:17] count, host order
const RecordSize = 17

type Kind uint8

const (
	Blocked Kind = iota
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Blocked:
		return "blocked"
	case RateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event reports a drop. Timestamp is CLOCK_MONOTONIC ns.
type Event struct {
	Kind      Kind
	Source    packet.Addr
	Timestamp uint64
	Count     uint32
}

func (e Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	e.put(b)

	return b, nil
}

func (e Event) put(b []byte) {
	b[0] = byte(e.Kind)
	binary.BigEndian.PutUint32(b[1:5], uint32(e.Source))
	binary.NativeEndian.PutUint64(b[5:13], e.Timestamp)
	binary.NativeEndian.PutUint32(b[13:17], e.Count)
}

// UnmarshalBinary decodes the first RecordSize bytes of b. Kernel ring
// buffer samples are padded, so trailing bytes are ignored.
func (e *Event) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}

	k := Kind(b[0])
	if k != Blocked && k != RateLimited {
		return fmt.Errorf("%w: %d", ErrUnknownKind, b[0])
	}

	*e = Event{
		Kind:      k,
		Source:    packet.Addr(binary.BigEndian.Uint32(b[1:5])),
		Timestamp: binary.NativeEndian.Uint64(b[5:13]),
		Count:     binary.NativeEndian.Uint32(b[13:17]),
	}

	return nil
}

// Source is anything events can be drained from without blocking.
type Source interface {
	// Poll returns the next record, or false when none is queued.
	Poll() (Event, bool, error)
	// Lost counts records discarded because the channel was full.
	Lost() (uint64, error)
}
