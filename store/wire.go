package store

import (
	"encoding/binary"
	"fmt"

	"github.com/tcassar-diss/xdpguard/ratelimit"
)

const (
	// RateStateSize is the kernel map value: u64 tokens*Scale, u64 ns.
	RateStateSize = 16

	// BlockFlag is the blocklist map value.
	BlockFlag uint8 = 1
)

// RateState is the kernel encoding of a ratelimit.Bucket. Both words are in
// host byte order because the XDP program reads them as native integers.
type RateState ratelimit.Bucket

func (s RateState) MarshalBinary() ([]byte, error) {
	b := make([]byte, RateStateSize)
	binary.NativeEndian.PutUint64(b[0:8], uint64(s.Tokens))
	binary.NativeEndian.PutUint64(b[8:16], uint64(s.LastRefill))

	return b, nil
}

func (s *RateState) UnmarshalBinary(b []byte) error {
	if len(b) != RateStateSize {
		return fmt.Errorf("rate state is %d bytes, want %d", len(b), RateStateSize)
	}

	s.Tokens = int64(binary.NativeEndian.Uint64(b[0:8]))
	s.LastRefill = int64(binary.NativeEndian.Uint64(b[8:16]))

	return nil
}
