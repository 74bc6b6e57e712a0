package connmeta

import "time"

// RateMeter accumulates bytes over a fixed sampling interval and reports a
// bytes-per-second rate once the interval has elapsed (spec §4.5 step 4's
// tx_meter, §4.6 step 3's rx_meter). There is no ecosystem rate-limiter in
// the example corpus shaped like this sample-then-clear meter, so it is
// implemented directly on time.Time arithmetic.
type RateMeter struct {
	interval time.Duration
	since    time.Time
	bytes    uint64
}

// NewRateMeter builds a meter sampling over interval.
func NewRateMeter(interval time.Duration) *RateMeter {
	return &RateMeter{interval: interval, since: time.Time{}}
}

// Add records n bytes transferred at now.
func (m *RateMeter) Add(n uint32, now time.Time) {
	if m.since.IsZero() {
		m.since = now
	}
	m.bytes += uint64(n)
}

// SampleIfElapsed reports (rate, true) once m.interval has passed since the
// meter was last cleared, clearing it as a side effect; otherwise (0, false).
func (m *RateMeter) SampleIfElapsed(now time.Time) (float64, bool) {
	if m.since.IsZero() || now.Sub(m.since) < m.interval {
		return 0, false
	}
	elapsed := now.Sub(m.since).Seconds()
	rate := float64(m.bytes) / elapsed
	m.bytes = 0
	m.since = now
	return rate, true
}

// TryBytesPerSecond reports whether adding n more bytes right now would
// keep the meter's instantaneous rate within limit (spec §4.5 step 4: skip
// a connection's pacing round when it would exceed sending_rate).
func (m *RateMeter) TryBytesPerSecond(n uint32, limit float64, now time.Time) bool {
	if m.since.IsZero() {
		return true
	}
	elapsed := now.Sub(m.since).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	projected := float64(m.bytes+uint64(n)) / elapsed
	return projected <= limit
}
