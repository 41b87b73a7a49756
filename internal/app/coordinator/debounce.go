package coordinator

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
)

// Debouncer collapses a burst of calls into one trailing invocation fired
// window after the last call, carrying the last argument.
type Debouncer[T any] struct {
	clock  clockwork.Clock
	window time.Duration
	fn     func(T)

	mu      sync.Mutex
	timer   clockwork.Timer
	gen     uint64
	last    T
	pending bool
	closed  bool
	wg      conc.WaitGroup
}

// NewDebouncer constructs a debouncer.
func NewDebouncer[T any](clock clockwork.Clock, window time.Duration, fn func(T)) *Debouncer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer[T]{clock: clock, window: window, fn: fn}
}

// Call records v and restarts the window.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.last = v
	d.pending = true
	d.timer = d.clock.AfterFunc(d.window, func() {
		d.fire(gen)
	})
}

// Pending reports whether a trailing call is scheduled.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Cancel drops a scheduled call without running it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

// Close cancels any scheduled call and waits for a running one.
func (d *Debouncer[T]) Close() {
	d.mu.Lock()
	d.closed = true
	d.cancelLocked()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Debouncer[T]) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
	var zero T
	d.last = zero
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.closed {
		d.mu.Unlock()
		return
	}
	v := d.last
	d.timer = nil
	d.pending = false
	d.wg.Go(func() {
		d.fn(v)
	})
	d.mu.Unlock()
}
