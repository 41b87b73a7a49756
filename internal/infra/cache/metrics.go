package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

const (
	reasonExpired  = "expired_on_get"
	reasonSwept    = "swept"
	reasonPressure = "pressure"
)

type cacheMetrics struct {
	name         string
	evictions    metric.Int64Counter
	registration metric.Registration
}

func newCacheMetrics(name string, observe func() (int, float64)) *cacheMetrics {
	meter := otel.Meter("cache")
	m := &cacheMetrics{name: name}
	m.evictions, _ = meter.Int64Counter("cache.evictions",
		metric.WithDescription("Entries removed by expiry or pressure"),
		metric.WithUnit("{entry}"))
	entries, _ := meter.Int64ObservableGauge("cache.entries",
		metric.WithDescription("Entries currently stored"),
		metric.WithUnit("{entry}"))
	ratio, _ := meter.Float64ObservableGauge("cache.hit_ratio",
		metric.WithDescription("Exponentially weighted hit ratio"))
	if entries == nil || ratio == nil {
		return m
	}
	m.registration, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, hitRatio := observe()
		attrs := metric.WithAttributes(telemetry.CacheAttributes(telemetry.Environment(), name)...)
		o.ObserveInt64(entries, int64(n), attrs)
		o.ObserveFloat64(ratio, hitRatio, attrs)
		return nil
	}, entries, ratio)
	return m
}

func (m *cacheMetrics) evicted(n int, reason string) {
	if m == nil || m.evictions == nil || n <= 0 {
		return
	}
	attrs := telemetry.CacheAttributes(telemetry.Environment(), m.name)
	attrs = append(attrs, telemetry.AttrReason.String(reason))
	m.evictions.Add(context.Background(), int64(n), metric.WithAttributes(attrs...))
}

func (m *cacheMetrics) close() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}
