// Package packet extracts the fields the classifier needs from a raw
// ethernet frame.
package packet

import "encoding/binary"

// Header is the subset of the ethernet and ipv4 headers used for
// classification.
type Header struct {
	EtherType uint16
	Source    Addr
	Protocol  uint8
}

// Parse validates frame and extracts its Header. It never reads past
// len(frame) and does not allocate.
func Parse(frame []byte) (Header, error) {
	if len(frame) < MinFrameLen {
		return Header{}, ErrTruncated
	}

	et := binary.BigEndian.Uint16(frame[EtherTypeOffset : EtherTypeOffset+2])
	if et != EtherTypeIPv4 {
		return Header{}, ErrUnsupportedEtherType
	}

	return Header{
		EtherType: et,
		Source:    Addr(binary.BigEndian.Uint32(frame[SourceOffset : SourceOffset+4])),
		Protocol:  frame[ProtocolOffset],
	}, nil
}
