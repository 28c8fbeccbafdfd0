package packet

import "errors"

var (
	ErrTruncated            = errors.New("frame shorter than ethernet + ipv4 headers")
	ErrUnsupportedEtherType = errors.New("unsupported ethertype")
	ErrInvalidAddr          = errors.New("invalid ipv4 address")
)

const (
	EthHeaderLen  = 14
	IPv4HeaderLen = 20

	// MinFrameLen is the shortest frame Parse accepts.
	MinFrameLen = EthHeaderLen + IPv4HeaderLen

	EtherTypeIPv4 uint16 = 0x0800

	EtherTypeOffset = 12
	ProtocolOffset  = EthHeaderLen + 9
	SourceOffset    = EthHeaderLen + 12
)
