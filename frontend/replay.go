package frontend

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/tcassar-diss/xdpguard/classifier"
	"github.com/tcassar-diss/xdpguard/events"
)

// pcapng section header block type
const ngMagic = 0x0a0d0d0a

var ErrUnsupportedLinkType = errors.New("capture is not ethernet")

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReplayResult summarises a capture run through the userspace classifier.
type ReplayResult struct {
	Frames int              `json:"frames"`
	Stats  classifier.Stats `json:"stats"`
}

// Replay classifies every frame of a pcap or pcapng capture, using capture
// timestamps as the clock so runs are repeatable. onEvent, when set, sees
// every event in order.
func Replay(r io.Reader, cfg *Config, onEvent func(events.Event)) (*ReplayResult, error) {
	src, err := openCapture(r)
	if err != nil {
		return nil, err
	}

	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("%w: link type %s", ErrUnsupportedLinkType, lt)
	}

	blocks, err := cfg.Blocks()
	if err != nil {
		return nil, err
	}

	u := NewUserspace(cfg)
	for _, a := range blocks {
		if err := u.blocklist.Insert(a); err != nil {
			return nil, fmt.Errorf("failed to preload blocklist: %w", err)
		}
	}

	c := u.Classifier()
	res := &ReplayResult{}

	var first int64

	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", res.Frames+1, err)
		}

		ts := ci.Timestamp.UnixNano()
		if res.Frames == 0 {
			first = ts
		}
		res.Frames++

		// offset by one so the first frame is not at time zero
		c.ClassifyAt(data, ts-first+1)

		for {
			ev, ok, _ := u.Events().Poll()
			if !ok {
				break
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}

	res.Stats, _ = u.Stats()

	return res, nil
}

func openCapture(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng: %w", err)
		}
		return ng, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap: %w", err)
	}

	return pr, nil
}
