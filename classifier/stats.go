package classifier

// Stats counts verdicts since attach. Passed excludes Unparsed frames.
type Stats struct {
	Passed      uint64 `json:"passed"`
	Unparsed    uint64 `json:"unparsed"`
	Blocked     uint64 `json:"dropped_blocked"`
	RateLimited uint64 `json:"dropped_rate_limited"`
	StoreFull   uint64 `json:"rate_store_full"`
	EventsLost  uint64 `json:"events_lost"`
}

func (s Stats) Dropped() uint64 {
	return s.Blocked + s.RateLimited
}

func (s Stats) Total() uint64 {
	return s.Passed + s.Unparsed + s.Dropped()
}

// Sub returns the counts accumulated since prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Passed:      s.Passed - prev.Passed,
		Unparsed:    s.Unparsed - prev.Unparsed,
		Blocked:     s.Blocked - prev.Blocked,
		RateLimited: s.RateLimited - prev.RateLimited,
		StoreFull:   s.StoreFull - prev.StoreFull,
		EventsLost:  s.EventsLost - prev.EventsLost,
	}
}
