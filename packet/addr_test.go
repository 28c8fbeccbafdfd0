package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in       string
		expected Addr
		err      error
	}{
		{in: "1.1.1.1", expected: 0x01010101},
		{in: "10.0.0.1", expected: 0x0a000001},
		{in: "255.255.255.255", expected: 0xffffffff},
		{in: "::1", err: ErrInvalidAddr},
		{in: "1.1.1", err: ErrInvalidAddr},
		{in: "example.com", err: ErrInvalidAddr},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.expected, got)

			if tt.err == nil {
				require.Equal(t, tt.in, got.String())
			}
		})
	}
}

func TestAddr_WireKeyIsNetworkOrder(t *testing.T) {
	a := MustParseAddr("10.0.0.1")

	b, err := a.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{10, 0, 0, 1}, b)

	var back Addr
	require.NoError(t, back.UnmarshalBinary(b))
	require.Equal(t, a, back)

	require.ErrorIs(t, back.UnmarshalBinary([]byte{1, 2}), ErrInvalidAddr)
}
