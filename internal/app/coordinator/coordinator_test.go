package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/venuelink/errs"
)

func TestDebounceFiresOnceAfterLastCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))
	defer c.Close()

	var fired atomic.Int32
	var last atomic.Int32
	d := Debounce(c, "refresh", 200*time.Millisecond, func(v int) {
		last.Store(int32(v))
		fired.Add(1)
	})

	for i := 1; i <= 5; i++ {
		d.Call(i)
		if i < 5 {
			clock.Advance(40 * time.Millisecond)
		}
	}
	require.True(t, d.Pending())

	clock.Advance(199 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, fired.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int32(5), last.Load())

	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
	require.False(t, d.Pending())
}

func TestDebounceSeparateBurstsFireSeparately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDebouncer(clock, 100*time.Millisecond, func(struct{}) { fired.Add(1) })
	defer d.Close()

	d.Call(struct{}{})
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	d.Call(struct{}{})
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, time.Millisecond)
}

func TestDebounceCancelAndClose(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var fired atomic.Int32
	d := NewDebouncer(clock, 50*time.Millisecond, func(string) { fired.Add(1) })

	d.Call("a")
	d.Cancel()
	clock.Advance(time.Second)

	d.Call("b")
	d.Close()
	d.Call("c")
	clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestThrottleDropsCallsWithinWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(WithClock(clock))
	defer c.Close()
	th := c.Throttle("submit_order", time.Second)

	ran := 0
	require.True(t, th.Do(func() { ran++ }))
	clock.Advance(100 * time.Millisecond)
	require.False(t, th.Do(func() { ran++ }))
	clock.Advance(899 * time.Millisecond)
	require.False(t, th.Allow())
	clock.Advance(time.Millisecond)
	require.True(t, th.Do(func() { ran++ }))
	require.Equal(t, 2, ran)
}

func TestThrottleWithoutWindowAdmitsEverything(t *testing.T) {
	th := NewThrottler(clockwork.NewFakeClock(), 0)
	for i := 0; i < 5; i++ {
		require.True(t, th.Allow())
	}
}

func TestDedupSharesSingleDownstreamCall(t *testing.T) {
	c := New()
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "positions", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	errsOut := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = Dedup(context.Background(), c, "positions", fn)
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{"positions", "positions"}, results)
	require.NoError(t, errsOut[0])
	require.NoError(t, errsOut[1])
}

func TestDedupSharesFailure(t *testing.T) {
	c := New()
	defer c.Close()

	boom := errs.API("rest", 503, "", "maintenance")
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 0, boom
	}

	var wg sync.WaitGroup
	errsOut := make([]error, 2)
	for i := range errsOut {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errsOut[i] = Dedup(context.Background(), c, "account", fn)
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Same(t, errsOut[0], errsOut[1])
	require.ErrorIs(t, errsOut[0], boom)
}

func TestDedupSequentialCallsRunAgain(t *testing.T) {
	c := New()
	defer c.Close()
	var calls atomic.Int32
	fn := func(context.Context) (int32, error) { return calls.Add(1), nil }

	first, err := Dedup(context.Background(), c, "k", fn)
	require.NoError(t, err)
	second, err := Dedup(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, int32(1), first)
	require.Equal(t, int32(2), second)
}

func TestDedupCallerCancelDoesNotAbortSharedCall(t *testing.T) {
	c := New()
	defer c.Close()
	release := make(chan struct{})
	var sawCancel atomic.Bool
	fn := func(ctx context.Context) (string, error) {
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return "ok", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Dedup(ctx, c, "k", fn)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	go close(release)
	v, err := Dedup(context.Background(), c, "k", fn)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.False(t, sawCancel.Load())
}

func TestDedupAfterCloseFails(t *testing.T) {
	c := New()
	c.Close()
	_, err := Dedup(context.Background(), c, "k", func(context.Context) (int, error) { return 1, nil })
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
}

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *flushRecorder) flush(_ context.Context, keys []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	r.batches = append(r.batches, sorted)
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if k != "UNKNOWN" {
			out[k] = "quote:" + k
		}
	}
	return out, nil
}

func (r *flushRecorder) recorded() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

type loadResult struct {
	key   string
	value string
	err   error
}

func loadAll(b *Batcher[string, string], keys ...string) chan loadResult {
	out := make(chan loadResult, len(keys))
	for _, key := range keys {
		go func(key string) {
			v, err := b.Load(context.Background(), key)
			out <- loadResult{key: key, value: v, err: err}
		}(key)
	}
	return out
}

func TestBatchFlushesAtMaxSize(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &flushRecorder{}
	c := New(WithClock(clock))
	defer c.Close()
	b := Batch(c, "market", 3, time.Second, rec.flush)

	out := loadAll(b, "EURUSD", "GBPUSD", "USDJPY")
	for i := 0; i < 3; i++ {
		res := <-out
		require.NoError(t, res.err)
		require.Equal(t, "quote:"+res.key, res.value)
	}
	require.Equal(t, [][]string{{"EURUSD", "GBPUSD", "USDJPY"}}, rec.recorded())
}

func TestBatchFlushesOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &flushRecorder{}
	b := NewBatcher(clock, 10, 50*time.Millisecond, rec.flush)
	defer b.Close()

	out := loadAll(b, "EURUSD", "EURUSD", "XAUUSD")
	require.Eventually(t, func() bool { return b.waiting() == 3 }, time.Second, time.Millisecond)
	require.Equal(t, 2, b.Pending())
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, rec.recorded())

	clock.Advance(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		res := <-out
		require.NoError(t, res.err)
		require.Equal(t, "quote:"+res.key, res.value)
	}
	require.Equal(t, [][]string{{"EURUSD", "XAUUSD"}}, rec.recorded())
}

func TestBatchErrorReachesEveryCaller(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &flushRecorder{err: errors.New("venue unavailable")}
	b := NewBatcher(clock, 2, time.Second, rec.flush)
	defer b.Close()

	out := loadAll(b, "A", "B")
	for i := 0; i < 2; i++ {
		require.EqualError(t, (<-out).err, "venue unavailable")
	}
	require.Len(t, rec.recorded(), 1)
}

func TestBatchMissingKeyIsReported(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(clockwork.NewFakeClock(), 1, time.Second, rec.flush)
	defer b.Close()

	_, err := b.Load(context.Background(), "UNKNOWN")
	require.True(t, errs.IsCode(err, errs.CodeExchange))
}

func TestBatchCloseFlushesPending(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(clockwork.NewFakeClock(), 10, time.Hour, rec.flush)

	out := loadAll(b, "EURUSD")
	require.Eventually(t, func() bool { return b.Pending() == 1 }, time.Second, time.Millisecond)
	b.Close()

	res := <-out
	require.NoError(t, res.err)
	require.Equal(t, "quote:EURUSD", res.value)

	_, err := b.Load(context.Background(), "GBPUSD")
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
}
