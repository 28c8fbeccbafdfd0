package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/xdpguard/packet"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing(4)

	for i := range 3 {
		require.True(t, r.Report(Event{Source: packet.Addr(i), Count: 1}))
	}

	for i := range 3 {
		ev, ok, err := r.Poll()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, packet.Addr(i), ev.Source)
	}

	_, ok, err := r.Poll()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRing_DropsNewestWhenFull(t *testing.T) {
	r := NewRing(3)
	require.Equal(t, 4, r.Cap())

	for i := range 6 {
		queued := r.Report(Event{Source: packet.Addr(i)})
		require.Equal(t, i < 4, queued, "event %d", i)
	}

	lost, err := r.Lost()
	require.NoError(t, err)
	require.Equal(t, uint64(2), lost)

	ev, ok, _ := r.Poll()
	require.True(t, ok)
	require.Equal(t, packet.Addr(0), ev.Source, "oldest record survives")

	require.True(t, r.Report(Event{Source: 99}), "space freed by poll")
}

func TestRing_ConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		each      = 1000
	)

	r := NewRing(1 << 10)

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				r.Report(Event{Source: packet.Addr(p), Count: uint32(i)})
			}
		}()
	}

	got := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for {
			_, ok, err := r.Poll()
			require.NoError(t, err)
			if !ok {
				return
			}
			got++
		}
	}

	for {
		select {
		case <-done:
			drain()
			lost, err := r.Lost()
			require.NoError(t, err)
			require.Equal(t, producers*each, got+int(lost))
			return
		default:
			drain()
		}
	}
}
