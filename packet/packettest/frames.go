// Package packettest builds ethernet frames for tests.
package packettest

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// UDP returns an ethernet/ipv4/udp frame sent from src.
func UDP(src string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.IPv4(192, 0, 2, 10).To4(),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 8080}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}

	return serialize(eth, ip, udp, gopacket.Payload([]byte("ping")))
}

// TCP returns an ethernet/ipv4/tcp SYN sent from src.
func TCP(src string) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.IPv4(192, 0, 2, 10).To4(),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}

	return serialize(eth, ip, tcp)
}

// ARP returns an ethernet/arp request, which carries no ipv4 header.
func ARP() []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.IPv4(192, 0, 2, 1).To4(),
		DstHwAddress:      make(net.HardwareAddr, 6),
		DstProtAddress:    net.IPv4(192, 0, 2, 10).To4(),
	}

	return serialize(eth, arp)
}

// Truncated returns the first n bytes of a valid udp frame.
func Truncated(n int) []byte {
	return UDP("192.0.2.1")[:n]
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
