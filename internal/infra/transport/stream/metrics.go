package stream

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type streamMetrics struct {
	received        metric.Int64Counter
	dropped         metric.Int64Counter
	delivered       metric.Int64Counter
	deliveryDropped metric.Int64Counter
	subscribers     metric.Int64UpDownCounter
	transitions     metric.Int64Counter
	reconnectDelay  metric.Float64Histogram
	fatal           metric.Int64Counter
}

func newStreamMetrics() *streamMetrics {
	meter := otel.Meter("transport.stream")
	fallback := noop.Meter{}
	m := new(streamMetrics)
	var err error
	if m.received, err = meter.Int64Counter("stream.messages.received",
		metric.WithDescription("Envelopes read from the streaming session"),
		metric.WithUnit("{message}")); err != nil {
		m.received, _ = fallback.Int64Counter("stream.messages.received")
	}
	if m.dropped, err = meter.Int64Counter("stream.messages.dropped",
		metric.WithDescription("Envelopes discarded before delivery (malformed, pre-connected, unknown type)"),
		metric.WithUnit("{message}")); err != nil {
		m.dropped, _ = fallback.Int64Counter("stream.messages.dropped")
	}
	if m.delivered, err = meter.Int64Counter("stream.events.delivered",
		metric.WithDescription("Events enqueued to subscribers"),
		metric.WithUnit("{event}")); err != nil {
		m.delivered, _ = fallback.Int64Counter("stream.events.delivered")
	}
	if m.deliveryDropped, err = meter.Int64Counter("stream.delivery.dropped",
		metric.WithDescription("Events evicted from full subscriber buffers"),
		metric.WithUnit("{event}")); err != nil {
		m.deliveryDropped, _ = fallback.Int64Counter("stream.delivery.dropped")
	}
	if m.subscribers, err = meter.Int64UpDownCounter("stream.subscribers",
		metric.WithDescription("Active subscriptions"),
		metric.WithUnit("{subscriber}")); err != nil {
		m.subscribers, _ = fallback.Int64UpDownCounter("stream.subscribers")
	}
	if m.transitions, err = meter.Int64Counter("stream.state.transitions",
		metric.WithDescription("Connection state transitions by target state"),
		metric.WithUnit("{transition}")); err != nil {
		m.transitions, _ = fallback.Int64Counter("stream.state.transitions")
	}
	if m.reconnectDelay, err = meter.Float64Histogram("stream.reconnect.delay",
		metric.WithDescription("Scheduled reconnect delays"),
		metric.WithUnit("ms")); err != nil {
		m.reconnectDelay, _ = fallback.Float64Histogram("stream.reconnect.delay")
	}
	if m.fatal, err = meter.Int64Counter("stream.fatal",
		metric.WithDescription("Connections closed after exhausting reconnect attempts or auth rejection"),
		metric.WithUnit("{event}")); err != nil {
		m.fatal, _ = fallback.Int64Counter("stream.fatal")
	}
	return m
}
