package bpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/tcassar-diss/xdpguard/classifier"
)

// readStats sums every CPU's copy of each counter.
func readStats(m *ebpf.Map) (classifier.Stats, error) {
	var totals [statEnd]uint64

	for s := stat(0); s < statEnd; s++ {
		var perCPU []uint64
		if err := m.Lookup(uint32(s), &perCPU); err != nil {
			return classifier.Stats{}, fmt.Errorf("failed to read stat %d: %w", s, err)
		}

		for _, v := range perCPU {
			totals[s] += v
		}
	}

	return classifier.Stats{
		Passed:      totals[statPassed],
		Unparsed:    totals[statUnparsed],
		Blocked:     totals[statBlocked],
		RateLimited: totals[statRateLimited],
		StoreFull:   totals[statStoreFull],
		EventsLost:  totals[statEventsLost],
	}, nil
}
