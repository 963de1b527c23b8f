package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Clamp bounds d to [lo, hi]. A zero d yields def.
func Clamp(d, def, lo, hi time.Duration) time.Duration {
	if d == 0 {
		d = def
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
