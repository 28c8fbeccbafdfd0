package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Addr is an IPv4 address with the first octet in the most significant byte,
// so 1.1.1.1 is 0x01010101 and 10.0.0.1 is 0x0a000001.
type Addr uint32

// AddrFrom4 builds an Addr from its four octets in network order.
func AddrFrom4(b [4]byte) Addr {
	return Addr(binary.BigEndian.Uint32(b[:]))
}

// ParseAddr accepts dotted-quad IPv4 only.
func ParseAddr(s string) (Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidAddr, s, err)
	}

	if !ip.Is4() {
		return 0, fmt.Errorf("%w %q: not ipv4", ErrInvalidAddr, s)
	}

	return AddrFrom4(ip.As4()), nil
}

// MustParseAddr is ParseAddr for constants and tests.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}

	return a
}

func (a Addr) As4() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))

	return b
}

func (a Addr) String() string {
	return netip.AddrFrom4(a.As4()).String()
}

// MarshalBinary returns the 4-byte network order key used by both stores.
func (a Addr) MarshalBinary() ([]byte, error) {
	b := a.As4()

	return b[:], nil
}

func (a *Addr) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("%w: key is %d bytes, want 4", ErrInvalidAddr, len(b))
	}

	*a = Addr(binary.BigEndian.Uint32(b))

	return nil
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Addr) UnmarshalText(b []byte) error {
	parsed, err := ParseAddr(string(b))
	if err != nil {
		return err
	}

	*a = parsed

	return nil
}
