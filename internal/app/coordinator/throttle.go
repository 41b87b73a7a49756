package coordinator

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/coachpo/venuelink/errs"
)

// Throttler admits at most one call per window. Calls during an active window
// are dropped, never queued.
type Throttler struct {
	clock   clockwork.Clock
	limiter *rate.Limiter
	onDrop  func()
}

// NewThrottler constructs a throttler.
func NewThrottler(clock clockwork.Clock, window time.Duration) *Throttler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	limit := rate.Inf
	if window > 0 {
		limit = rate.Every(window)
	}
	return &Throttler{clock: clock, limiter: rate.NewLimiter(limit, 1)}
}

// Allow reports whether a call may proceed now and consumes the window if so.
func (t *Throttler) Allow() bool {
	if t.limiter.AllowN(t.clock.Now(), 1) {
		return true
	}
	if t.onDrop != nil {
		t.onDrop()
	}
	return false
}

// Do runs fn if admitted and reports whether it ran.
func (t *Throttler) Do(fn func()) bool {
	if !t.Allow() {
		return false
	}
	fn()
	return true
}

// ErrThrottled is returned by callers that surface a dropped call as an error.
var ErrThrottled = errs.New(component, errs.CodeUnavailable, errs.WithMessage("call dropped by throttle"))
