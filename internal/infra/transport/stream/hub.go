package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

const (
	defaultBufferSize    = 64
	defaultFanoutWorkers = 4
)

// Subscription is a cancellable registration for one event type.
// Fatal events are delivered to every subscription regardless of type.
type Subscription struct {
	id  string
	typ schema.EventType
	hub *Hub

	mu     sync.Mutex
	ch     chan schema.Event
	closed bool
	once   sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Type returns the subscribed event type.
func (s *Subscription) Type() schema.EventType { return s.typ }

// C returns the delivery channel. It is closed after Cancel or when the hub shuts down.
func (s *Subscription) C() <-chan schema.Event { return s.ch }

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.close()
	})
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver enqueues evt without blocking. A full buffer drops its oldest event.
func (s *Subscription) deliver(evt schema.Event) (delivered, droppedOldest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	select {
	case s.ch <- evt:
		return true, false
	default:
	}
	select {
	case <-s.ch:
		droppedOldest = true
	default:
	}
	select {
	case s.ch <- evt:
		return true, droppedOldest
	default:
		return false, droppedOldest
	}
}

// Hub fans inbound events out to subscribers.
type Hub struct {
	bufferSize int
	workers    int
	log        zerolog.Logger
	metrics    *streamMetrics

	mu     sync.RWMutex
	subs   map[schema.EventType]map[string]*Subscription
	closed bool
}

// NewHub constructs a hub. Non-positive sizes fall back to defaults.
func NewHub(bufferSize, workers int, log zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if workers <= 0 {
		workers = defaultFanoutWorkers
	}
	return &Hub{
		bufferSize: bufferSize,
		workers:    workers,
		log:        log,
		metrics:    newStreamMetrics(),
		subs:       make(map[schema.EventType]map[string]*Subscription),
	}
}

// Subscribe registers for events of typ.
func (h *Hub) Subscribe(typ schema.EventType) (*Subscription, error) {
	if !typ.IsData() {
		return nil, errs.New("stream/subscribe", errs.CodeInvalid, errs.WithMessage("unsupported event type "+string(typ)))
	}
	sub := &Subscription{
		id:  uuid.NewString(),
		typ: typ,
		hub: h,
		ch:  make(chan schema.Event, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errs.New("stream/subscribe", errs.CodeUnavailable, errs.WithMessage("hub closed"))
	}
	if _, ok := h.subs[typ]; !ok {
		h.subs[typ] = make(map[string]*Subscription)
	}
	h.subs[typ][sub.id] = sub
	h.mu.Unlock()

	h.metrics.subscribers.Add(context.Background(), 1,
		metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(typ))...))
	return sub, nil
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

// Publish delivers evt to the subscribers of its type and returns once every
// subscriber has been offered the event.
func (h *Hub) Publish(ctx context.Context, evt schema.Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[evt.Type]))
	for _, sub := range h.subs[evt.Type] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()
	h.fanout(ctx, evt, targets)
}

// Broadcast delivers evt to every subscriber of every type.
func (h *Hub) Broadcast(ctx context.Context, evt schema.Event) {
	h.mu.RLock()
	targets := make([]*Subscription, 0)
	for _, subs := range h.subs {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()
	h.fanout(ctx, evt, targets)
}

// Close closes every subscription. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[schema.EventType]map[string]*Subscription)
	h.mu.Unlock()

	for _, set := range subs {
		for _, sub := range set {
			sub.close()
		}
	}
}

func (h *Hub) fanout(ctx context.Context, evt schema.Event, targets []*Subscription) {
	if len(targets) == 0 {
		return
	}
	attrs := metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(evt.Type))...)
	if len(targets) == 1 {
		h.offer(ctx, targets[0], evt, attrs)
		return
	}
	p := concpool.New().WithMaxGoroutines(h.workers)
	for _, sub := range targets {
		p.Go(func() {
			h.offer(ctx, sub, evt, attrs)
		})
	}
	p.Wait()
}

func (h *Hub) offer(ctx context.Context, sub *Subscription, evt schema.Event, attrs metric.MeasurementOption) {
	delivered, droppedOldest := sub.deliver(evt)
	if droppedOldest {
		h.log.Warn().Str("subscription", sub.id).Str("event_type", string(evt.Type)).Msg("subscriber buffer full; dropped oldest event")
		h.metrics.deliveryDropped.Add(ctx, 1, attrs)
	}
	if delivered {
		h.metrics.delivered.Add(ctx, 1, attrs)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	set := h.subs[sub.typ]
	_, ok := set[sub.id]
	if ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(h.subs, sub.typ)
		}
	}
	h.mu.Unlock()
	if ok {
		h.metrics.subscribers.Add(context.Background(), -1,
			metric.WithAttributes(telemetry.EventAttributes(telemetry.Environment(), string(sub.typ))...))
	}
}
