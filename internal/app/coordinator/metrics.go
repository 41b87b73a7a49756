package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

type coordinatorMetrics struct {
	events    metric.Int64Counter
	batchSize metric.Int64Histogram
}

func newCoordinatorMetrics() *coordinatorMetrics {
	meter := otel.Meter("coordinator")
	m := new(coordinatorMetrics)
	m.events, _ = meter.Int64Counter("coordinator.events",
		metric.WithDescription("Shaping outcomes (throttled, dedup_shared, debounce_fired)"),
		metric.WithUnit("{call}"))
	m.batchSize, _ = meter.Int64Histogram("coordinator.batch.size",
		metric.WithDescription("Distinct keys per flushed batch"),
		metric.WithUnit("{key}"))
	return m
}

func (m *coordinatorMetrics) record(operation, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.OperationResultAttributes(telemetry.Environment(), operation, result)...))
}

func (m *coordinatorMetrics) batch(operation string, size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Record(context.Background(), int64(size), metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrOperation.String(operation)))
}
