package bpf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/tcassar-diss/xdpguard/events"
)

// EventReader drains the kernel event ring without blocking.
type EventReader struct {
	rd    *ringbuf.Reader
	stats *ebpf.Map
	rec   ringbuf.Record
}

var _ events.Source = (*EventReader)(nil)

func newEventReader(ring, stats *ebpf.Map) (*EventReader, error) {
	rd, err := ringbuf.NewReader(ring)
	if err != nil {
		return nil, fmt.Errorf("failed to get reader to event ring buffer: %w", err)
	}

	// an expired deadline turns every read into a poll
	rd.SetDeadline(time.Unix(1, 0))

	return &EventReader{rd: rd, stats: stats}, nil
}

func (r *EventReader) Poll() (events.Event, bool, error) {
	err := r.rd.ReadInto(&r.rec)
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return events.Event{}, false, nil
	case err != nil:
		return events.Event{}, false, fmt.Errorf("failed to read event ring buffer: %w", err)
	}

	var ev events.Event
	if err := ev.UnmarshalBinary(r.rec.RawSample); err != nil {
		return events.Event{}, false, err
	}

	return ev, true, nil
}

func (r *EventReader) Lost() (uint64, error) {
	s, err := readStats(r.stats)
	if err != nil {
		return 0, err
	}

	return s.EventsLost, nil
}

func (r *EventReader) Close() error {
	return r.rd.Close()
}
