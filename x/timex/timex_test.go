package timex

import (
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	const lo, hi, def = 200 * time.Millisecond, time.Hour, time.Minute
	cases := []struct{ in, want time.Duration }{
		{0, def},
		{time.Millisecond, lo},
		{5 * time.Second, 5 * time.Second},
		{2 * time.Hour, hi},
		{-time.Second, lo},
	}
	for _, c := range cases {
		if got := Clamp(c.in, def, lo, hi); got != c.want {
			t.Errorf("Clamp(%v)=%v want %v", c.in, got, c.want)
		}
	}
}
