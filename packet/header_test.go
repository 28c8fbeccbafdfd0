package packet_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/packet"
	"github.com/tcassar-diss/xdpguard/packet/packettest"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		expected packet.Header
		err      error
	}{
		{
			name:  "udp over ipv4",
			frame: packettest.UDP("9.9.9.9"),
			expected: packet.Header{
				EtherType: packet.EtherTypeIPv4,
				Source:    0x09090909,
				Protocol:  17,
			},
		},
		{
			name:  "tcp over ipv4",
			frame: packettest.TCP("10.0.0.1"),
			expected: packet.Header{
				EtherType: packet.EtherTypeIPv4,
				Source:    0x0a000001,
				Protocol:  6,
			},
		},
		{
			name:  "arp is not ipv4",
			frame: packettest.ARP(),
			err:   packet.ErrUnsupportedEtherType,
		},
		{
			name:  "ethernet header only",
			frame: packettest.Truncated(packet.EthHeaderLen),
			err:   packet.ErrTruncated,
		},
		{
			name:  "one byte short of ipv4 header",
			frame: packettest.Truncated(packet.MinFrameLen - 1),
			err:   packet.ErrTruncated,
		},
		{
			name:  "empty",
			frame: nil,
			err:   packet.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := packet.Parse(tt.frame)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_ExactMinimum(t *testing.T) {
	hdr, err := packet.Parse(packettest.Truncated(packet.MinFrameLen))
	require.NoError(t, err)
	require.Equal(t, packet.MustParseAddr("192.0.2.1"), hdr.Source)
}

func TestParse_DoesNotAllocate(t *testing.T) {
	frame := packettest.UDP("9.9.9.9")
	arp := packettest.ARP()

	allocs := testing.AllocsPerRun(100, func() {
		_, _ = packet.Parse(frame)
		_, _ = packet.Parse(arp)
	})
	require.Zero(t, allocs)
}
