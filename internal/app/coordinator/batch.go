package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/venuelink/errs"
)

// FlushFunc performs one combined downstream call for keys.
type FlushFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

type batchResult[V any] struct {
	value V
	err   error
}

type pendingBatch[K comparable, V any] struct {
	keys    []K
	waiters map[K][]chan batchResult[V]
}

// Batcher accumulates lookups until maxSize distinct keys are pending or
// interval elapses since the first, then issues one flush. Every caller in a
// batch receives the flush error when it fails.
type Batcher[K comparable, V any] struct {
	clock    clockwork.Clock
	maxSize  int
	interval time.Duration
	flush    FlushFunc[K, V]
	onFlush  func(size int)

	mu      sync.Mutex
	current *pendingBatch[K, V]
	timer   clockwork.Timer
	gen     uint64
	closed  bool
	wg      conc.WaitGroup
}

// NewBatcher constructs a batcher. maxSize below 1 is treated as 1.
func NewBatcher[K comparable, V any](clock clockwork.Clock, maxSize int, interval time.Duration, flush FlushFunc[K, V]) *Batcher[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxSize < 1 {
		maxSize = 1
	}
	return &Batcher[K, V]{clock: clock, maxSize: maxSize, interval: interval, flush: flush}
}

// Load enqueues key and waits for its batch to complete or ctx to end.
func (b *Batcher[K, V]) Load(ctx context.Context, key K) (V, error) {
	var zero V
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan batchResult[V], 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zero, errClosed
	}
	if b.current == nil {
		b.current = &pendingBatch[K, V]{waiters: make(map[K][]chan batchResult[V])}
	}
	if _, seen := b.current.waiters[key]; !seen {
		b.current.keys = append(b.current.keys, key)
	}
	b.current.waiters[key] = append(b.current.waiters[key], ch)

	switch {
	case len(b.current.keys) >= b.maxSize:
		batch := b.takeLocked()
		b.wg.Go(func() { b.run(batch) })
	case b.timer == nil:
		gen := b.gen
		b.timer = b.clock.AfterFunc(b.interval, func() { b.expire(gen) })
	}
	b.mu.Unlock()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close flushes the pending batch, waits for in-progress flushes and rejects later loads.
func (b *Batcher[K, V]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()

	if batch != nil {
		b.run(batch)
	}
	b.wg.Wait()
}

// Pending returns the number of distinct keys waiting for the next flush.
func (b *Batcher[K, V]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return 0
	}
	return len(b.current.keys)
}

func (b *Batcher[K, V]) waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return 0
	}
	n := 0
	for _, waiters := range b.current.waiters {
		n += len(waiters)
	}
	return n
}

func (b *Batcher[K, V]) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.closed {
		return
	}
	b.timer = nil
	batch := b.takeLocked()
	if batch == nil {
		return
	}
	b.wg.Go(func() { b.run(batch) })
}

func (b *Batcher[K, V]) takeLocked() *pendingBatch[K, V] {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	batch := b.current
	b.current = nil
	return batch
}

func (b *Batcher[K, V]) run(batch *pendingBatch[K, V]) {
	if batch == nil || len(batch.keys) == 0 {
		return
	}
	if b.onFlush != nil {
		b.onFlush(len(batch.keys))
	}
	results, err := b.flush(context.Background(), batch.keys)
	for key, waiters := range batch.waiters {
		res := batchResult[V]{err: err}
		if err == nil {
			v, ok := results[key]
			if ok {
				res.value = v
			} else {
				res.err = errs.New(component, errs.CodeExchange, errs.WithMessage(fmt.Sprintf("no result for %v", key)))
			}
		}
		for _, ch := range waiters {
			ch <- res
		}
	}
}
