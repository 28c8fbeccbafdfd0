package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/packet"
)

func TestBlocklist_InsertIsIdempotent(t *testing.T) {
	b := NewBlocklist(16)
	a := packet.MustParseAddr("1.1.1.1")

	for range 3 {
		require.NoError(t, b.Insert(a))
	}

	require.True(t, b.IsBlocked(a))
	require.Equal(t, 1, b.Len())

	list, err := b.List()
	require.NoError(t, err)
	require.Equal(t, []packet.Addr{a}, list)
}

func TestBlocklist_Remove(t *testing.T) {
	b := NewBlocklist(16)
	a := packet.MustParseAddr("1.1.1.1")

	require.NoError(t, b.Remove(a), "removing an absent entry")

	require.NoError(t, b.Insert(a))
	require.NoError(t, b.Remove(a))
	require.False(t, b.IsBlocked(a))
	require.Zero(t, b.Len())

	require.NoError(t, b.Insert(a), "tombstoned slot is reusable")
	require.True(t, b.IsBlocked(a))
}

func TestBlocklist_Full(t *testing.T) {
	b := NewBlocklist(4)

	for i := range 4 {
		require.NoError(t, b.Insert(packet.Addr(0x0a000000+i)))
	}

	require.ErrorIs(t, b.Insert(packet.MustParseAddr("192.0.2.1")), ErrFull)
	require.NoError(t, b.Insert(packet.Addr(0x0a000000)), "existing key while full")

	require.NoError(t, b.Remove(packet.Addr(0x0a000001)))
	require.NoError(t, b.Insert(packet.MustParseAddr("192.0.2.1")))
}

func TestBlocklist_ListIsSorted(t *testing.T) {
	b := NewBlocklist(16)

	for _, s := range []string{"10.0.0.3", "1.1.1.1", "10.0.0.1"} {
		require.NoError(t, b.Insert(packet.MustParseAddr(s)))
	}

	list, err := b.List()
	require.NoError(t, err)
	require.Equal(t, []packet.Addr{
		packet.MustParseAddr("1.1.1.1"),
		packet.MustParseAddr("10.0.0.1"),
		packet.MustParseAddr("10.0.0.3"),
	}, list)
}

func TestBlocklist_ConcurrentReadersAndWriter(t *testing.T) {
	b := NewBlocklist(1024)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = b.IsBlocked(packet.Addr(r))
				}
			}
		}()
	}

	for i := range 500 {
		a := packet.Addr(i)
		require.NoError(t, b.Insert(a), fmt.Sprintf("insert %d", i))
		if i%2 == 0 {
			require.NoError(t, b.Remove(a))
		}
	}

	close(stop)
	wg.Wait()

	require.Equal(t, 250, b.Len())
}
