package retry

import (
	"math"
	"time"
)

const (
	DefaultMin = 1 * time.Second
	DefaultMax = 30 * time.Second

	// StableConn is how long a connection must survive before the attempt
	// counter starts over.
	StableConn = time.Minute
)

// Backoff returns the wait before reconnect attempt n (1-based): lo doubled
// per attempt up to five times, capped at hi. Non-positive bounds fall back
// to DefaultMin and DefaultMax.
func Backoff(attempt int, lo, hi time.Duration) time.Duration {
	if lo <= 0 {
		lo = DefaultMin
	}
	if hi <= 0 {
		hi = DefaultMax
	}
	d := time.Duration(float64(lo) * math.Pow(2, float64(min(max(attempt-1, 0), 5))))
	return min(d, hi)
}
