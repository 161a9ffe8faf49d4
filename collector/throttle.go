package collector

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	PointerHz = 20
	ScrollHz  = 10
)

// Throttle admits at most hz samples per second, judged by the samples' own
// timestamps rather than the wall clock.
type Throttle struct {
	lim *rate.Limiter
}

func NewThrottle(hz float64) *Throttle {
	return &Throttle{lim: rate.NewLimiter(rate.Limit(hz), 1)}
}

func (t *Throttle) Allow(at time.Time) bool {
	return t.lim.AllowN(at, 1)
}
