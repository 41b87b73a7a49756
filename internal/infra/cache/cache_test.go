package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, clock clockwork.Clock, opts ...Option) *Cache[string] {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithSweepInterval(30 * time.Second)}, opts...)
	c := New[string](opts...)
	t.Cleanup(c.Close)
	return c
}

func TestSetThenGetReturnsValue(t *testing.T) {
	c := newTestCache(t, clockwork.NewFakeClock())
	for i, ttl := range []time.Duration{time.Nanosecond, time.Second, time.Hour} {
		key := fmt.Sprintf("k%d", i)
		c.Set(key, "v"+key, ttl)
		got, ok := c.Get(key)
		require.True(t, ok)
		require.Equal(t, "v"+key, got)
	}
}

func TestSetOverwritesAndRestampsEntry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	c.Set("k", "old", time.Second)
	clock.Advance(900 * time.Millisecond)
	c.Set("k", "new", time.Second)
	clock.Advance(900 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "new", got)
}

func TestExpiredGetMissesAndEvicts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	c.Set("k", "v", time.Second)

	clock.Advance(time.Second)
	_, ok := c.Get("k")
	require.True(t, ok, "entry is valid until the ttl has fully elapsed")

	clock.Advance(time.Nanosecond)
	_, ok = c.Get("k")
	require.False(t, ok)
	require.Zero(t, c.Len())
	require.Equal(t, uint64(1), c.Stats().Expired)
}

func TestNonPositiveTTLRemovesKey(t *testing.T) {
	c := newTestCache(t, clockwork.NewFakeClock())
	c.Set("k", "v", time.Minute)
	c.Set("k", "v", 0)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("short-%d", i), "v", time.Second)
		c.Set(fmt.Sprintf("long-%d", i), "v", time.Hour)
	}
	clock.Advance(2 * time.Second)

	require.Equal(t, 10, c.Sweep())
	require.Equal(t, 10, c.Len())
	for i := 0; i < 10; i++ {
		_, ok := c.Get(fmt.Sprintf("long-%d", i))
		require.True(t, ok)
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	c.Set("write-only", "v", time.Second)
	c.Set("kept", "v", time.Hour)

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := c.Get("kept")
	require.True(t, ok)
}

func TestEvictForPressureRemovesOldestQuarter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
		clock.Advance(time.Millisecond)
	}

	require.Equal(t, 2, c.EvictForPressure())
	require.Equal(t, 8, c.Len())
	for i := 0; i < 10; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.Equal(t, i >= 2, ok, "k%d", i)
	}
	require.Equal(t, uint64(2), c.Stats().PressureEvicted)
}

func TestEvictForPressureOrdersByStoredAtNotInsertion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock)
	for _, key := range []string{"a", "b", "c", "d"} {
		c.Set(key, "v", time.Hour)
		clock.Advance(time.Millisecond)
	}
	c.Set("a", "refreshed", time.Hour)

	require.Equal(t, 1, c.EvictForPressure())
	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestEvictForPressureFloorsSmallCaches(t *testing.T) {
	c := newTestCache(t, clockwork.NewFakeClock())
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
	}
	require.Zero(t, c.EvictForPressure())
	require.Equal(t, 3, c.Len())
}

func TestSweeperEvictsUnderPressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock, WithPressureProbe(EntryCountProbe{MaxEntries: 4}))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
	}

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return c.Len() == 6 }, time.Second, 5*time.Millisecond)
}

func TestProbeErrorSkipsEviction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	calls := 0
	probe := ProbeFunc(func(context.Context, int) (bool, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return true, errors.New("probe unavailable")
	})
	clock := clockwork.NewFakeClock()
	c := newTestCache(t, clock, WithPressureProbe(probe))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", time.Hour)
	}

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 8, c.Len())
}

func TestHitRatioTracksHitsAndMisses(t *testing.T) {
	c := newTestCache(t, clockwork.NewFakeClock())
	c.Set("k", "v", time.Hour)

	c.Get("missing")
	require.InDelta(t, 0.0, c.HitRatio(), 1e-9)
	c.Get("k")
	require.InDelta(t, 0.1, c.HitRatio(), 1e-9)
	c.Get("k")
	require.InDelta(t, 0.19, c.HitRatio(), 1e-9)
	c.Get("missing")
	require.InDelta(t, 0.171, c.HitRatio(), 1e-9)

	stats := c.Stats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, uint64(2), stats.Misses)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t, clockwork.NewFakeClock())
	c.Set("market:EURUSD", "a", time.Hour)
	c.Set("positions", "c", time.Hour)

	c.Delete("positions", "absent")
	require.Equal(t, 1, c.Len())
	_, ok := c.Get("positions")
	require.False(t, ok)
}

func TestAnyProbe(t *testing.T) {
	probe := AnyProbe{nil, EntryCountProbe{MaxEntries: 10}, EntryCountProbe{MaxEntries: 2}}
	pressured, err := probe.UnderPressure(context.Background(), 3)
	require.NoError(t, err)
	require.True(t, pressured)

	pressured, err = EntryCountProbe{}.UnderPressure(context.Background(), 1000)
	require.NoError(t, err)
	require.False(t, pressured)

	pressured, err = SystemMemoryProbe{}.UnderPressure(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, pressured)
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, clockwork.NewRealClock())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%16)
				c.Set(key, "v", time.Minute)
				c.Get(key)
				if i%50 == 0 {
					c.Sweep()
					c.EvictForPressure()
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 16)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New[int](WithClock(clockwork.NewFakeClock()))
	c.Set("k", 1, time.Minute)
	c.Close()
	c.Close()
	v, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 1, v)
}
