package frontend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/store"
	"golang.org/x/sys/unix"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		calls    int
		expected error
	}{
		{name: "first try", errs: []error{nil}, calls: 1},
		{name: "transient then ok", errs: []error{unix.EAGAIN, unix.EINTR, nil}, calls: 3},
		{name: "permanent", errs: []error{store.ErrFull}, calls: 1, expected: store.ErrFull},
		{
			name:     "busy because already attached",
			errs:     []error{fmt.Errorf("%w: %w", bpf.ErrAlreadyAttached, unix.EBUSY)},
			calls:    1,
			expected: bpf.ErrAlreadyAttached,
		},
		{
			name:     "gives up",
			errs:     []error{unix.EBUSY, unix.EBUSY, unix.EBUSY, unix.EBUSY},
			calls:    3,
			expected: unix.EBUSY,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), 2, time.Millisecond, func() error {
				err := tt.errs[calls]
				calls++
				return err
			})

			require.ErrorIs(t, err, tt.expected)
			require.Equal(t, tt.calls, calls)
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry(ctx, 5, time.Hour, func() error { return unix.EAGAIN })
	require.True(t, errors.Is(err, context.Canceled))
	require.ErrorIs(t, err, unix.EAGAIN)
}
