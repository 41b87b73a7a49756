// Package cache provides a TTL cache with periodic sweeping, pressure eviction
// and a recency-weighted hit ratio.
package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	defaultSweepInterval = 30 * time.Second
	// hitRatioWeight is the EMA weight given to the newest lookup.
	hitRatioWeight = 0.1
	// pressureEvictionRatio is the share of entries dropped per pressure eviction.
	pressureEvictionRatio = 0.25
)

// Entry is a stored value and its validity window.
type Entry[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
	TTL      time.Duration

	seq uint64
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry[V]) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries         int
	HitRatio        float64
	Hits            uint64
	Misses          uint64
	Expired         uint64
	PressureEvicted uint64
}

type options struct {
	name          string
	clock         clockwork.Clock
	log           zerolog.Logger
	probe         PressureProbe
	sweepInterval time.Duration
}

// Option configures a Cache.
type Option func(*options)

// WithName labels the cache in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			o.name = trimmed
		}
	}
}

// WithClock injects the clock used for timestamps and the sweep ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithPressureProbe sets the signal consulted after every sweep.
func WithPressureProbe(probe PressureProbe) Option {
	return func(o *options) {
		o.probe = probe
	}
}

// WithSweepInterval sets how often expired entries are purged.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.sweepInterval = interval
		}
	}
}

// Cache is safe for concurrent use. Every operation that reads or changes the
// entry set holds the store lock, so expiry checks and returns are atomic per Get.
type Cache[V any] struct {
	name  string
	clock clockwork.Clock
	log   zerolog.Logger
	probe PressureProbe

	mu       sync.Mutex
	entries  map[string]*Entry[V]
	seq      uint64
	hitRatio float64
	hits     uint64
	misses   uint64
	expired  uint64
	evicted  uint64

	metrics   *cacheMetrics
	ticker    clockwork.Ticker
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a cache and starts its sweeper.
func New[V any](opts ...Option) *Cache[V] {
	o := options{
		name:          "default",
		clock:         clockwork.NewRealClock(),
		log:           zerolog.Nop(),
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	c := &Cache[V]{
		name:    o.name,
		clock:   o.clock,
		log:     o.log.With().Str("component", "cache").Str("cache", o.name).Logger(),
		probe:   o.probe,
		entries: make(map[string]*Entry[V]),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.metrics = newCacheMetrics(c.name, c.observe)
	c.ticker = c.clock.NewTicker(o.sweepInterval)
	go c.run()
	return c
}

// Set stores or overwrites key with storedAt = now. A non-positive ttl removes the key.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.seq++
	c.entries[key] = &Entry[V]{
		Key:      key,
		Value:    value,
		StoredAt: c.clock.Now(),
		TTL:      ttl,
		seq:      c.seq,
	}
}

// Get returns the value for key if present and unexpired. An expired entry is
// evicted before reporting the miss. Misses are never errors.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if ok && entry.Expired(c.clock.Now()) {
		delete(c.entries, key)
		c.expired++
		c.metrics.evicted(1, reasonExpired)
		ok = false
	}
	if !ok {
		c.misses++
		c.hitRatio = c.hitRatio * (1 - hitRatioWeight)
		var zero V
		return zero, false
	}
	c.hits++
	c.hitRatio = c.hitRatio*(1-hitRatioWeight) + hitRatioWeight
	return entry.Value, true
}

// Delete removes keys. Absent keys are ignored.
func (c *Cache[V]) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitRatio returns the exponentially weighted hit ratio.
func (c *Cache[V]) HitRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRatio
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:         len(c.entries),
		HitRatio:        c.hitRatio,
		Hits:            c.hits,
		Misses:          c.misses,
		Expired:         c.expired,
		PressureEvicted: c.evicted,
	}
}

// Sweep removes every expired entry and returns the number removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.expired += uint64(removed)
	c.metrics.evicted(removed, reasonSwept)
	return removed
}

// EvictForPressure removes the floor(n*0.25) oldest entries by StoredAt,
// regardless of remaining TTL, and returns the number removed.
func (c *Cache[V]) EvictForPressure() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	count := int(float64(n) * pressureEvictionRatio)
	if count == 0 {
		return 0
	}
	ordered := make([]*Entry[V], 0, n)
	for _, entry := range c.entries {
		ordered = append(ordered, entry)
	}
	slices.SortFunc(ordered, func(a, b *Entry[V]) int {
		if cmp := a.StoredAt.Compare(b.StoredAt); cmp != 0 {
			return cmp
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	for _, entry := range ordered[:count] {
		delete(c.entries, entry.Key)
	}
	c.evicted += uint64(count)
	c.metrics.evicted(count, reasonPressure)
	return count
}

// Close stops the sweeper and unregisters metrics. Stored entries remain readable.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.metrics.close()
	})
}

func (c *Cache[V]) run() {
	defer close(c.done)
	defer c.ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.Chan():
			c.maintain()
		}
	}
}

func (c *Cache[V]) maintain() {
	if removed := c.Sweep(); removed > 0 {
		c.log.Debug().Int("removed", removed).Msg("swept expired entries")
	}
	if c.probe == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pressured, err := c.probe.UnderPressure(ctx, c.Len())
	if err != nil {
		c.log.Warn().Err(err).Msg("pressure probe failed")
		return
	}
	if pressured {
		removed := c.EvictForPressure()
		c.log.Warn().Int("removed", removed).Msg("pressure eviction")
	}
}

func (c *Cache[V]) observe() (int, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.hitRatio
}
