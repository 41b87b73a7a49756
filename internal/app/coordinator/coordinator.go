// Package coordinator shapes outbound load: it collapses bursts, drops excess
// calls, shares in-flight results and groups small lookups into batches.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/coachpo/venuelink/errs"
)

const component = "coordinator"

var errClosed = errs.New(component, errs.CodeUnavailable, errs.WithMessage("coordinator closed"))

type closer interface {
	Close()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the clock driving debounce and batch timers.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// Coordinator owns the shaping primitives built from it and releases them on Close.
type Coordinator struct {
	clock   clockwork.Clock
	log     zerolog.Logger
	group   singleflight.Group
	metrics *coordinatorMetrics

	mu      sync.Mutex
	owned   []closer
	closed  bool
	closeMu sync.Once
}

// New constructs a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		clock: clockwork.NewRealClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With().Str("component", component).Logger()
	c.metrics = newCoordinatorMetrics()
	return c
}

// Clock returns the coordinator clock.
func (c *Coordinator) Clock() clockwork.Clock { return c.clock }

// Debounce returns a trailing debouncer owned by c.
func Debounce[T any](c *Coordinator, name string, window time.Duration, fn func(T)) *Debouncer[T] {
	d := NewDebouncer(c.clock, window, func(v T) {
		c.metrics.record(name, "debounce_fired")
		fn(v)
	})
	c.own(d)
	return d
}

// Throttle returns a throttler admitting one call per window.
func (c *Coordinator) Throttle(name string, window time.Duration) *Throttler {
	t := NewThrottler(c.clock, window)
	t.onDrop = func() {
		c.metrics.record(name, "throttled")
		c.log.Debug().Str("operation", name).Msg("call dropped by throttle")
	}
	return t
}

// Batch returns a batcher owned by c.
func Batch[K comparable, V any](c *Coordinator, name string, maxSize int, interval time.Duration, flush FlushFunc[K, V]) *Batcher[K, V] {
	b := NewBatcher(c.clock, maxSize, interval, flush)
	b.onFlush = func(size int) {
		c.metrics.batch(name, size)
	}
	c.own(b)
	return b
}

// Dedup runs fn once per key among concurrent callers; every caller waiting on
// the same key observes the same value and error. fn runs detached from any
// single caller's cancellation; a caller whose ctx ends stops waiting.
func Dedup[T any](ctx context.Context, c *Coordinator, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if c.isClosed() {
		return zero, errClosed
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.record(key, "dedup_shared")
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close flushes pending batches, cancels pending debounced calls and waits for
// in-progress flushes. Further shaping calls fail.
func (c *Coordinator) Close() {
	c.closeMu.Do(func() {
		c.mu.Lock()
		c.closed = true
		owned := c.owned
		c.owned = nil
		c.mu.Unlock()
		for _, o := range owned {
			o.Close()
		}
	})
}

func (c *Coordinator) own(o closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		o.Close()
		return
	}
	c.owned = append(c.owned, o)
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
