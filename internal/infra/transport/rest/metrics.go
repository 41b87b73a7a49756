package rest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

type transportMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newTransportMetrics() *transportMetrics {
	meter := otel.Meter("transport.rest")
	m := new(transportMetrics)
	m.requests, _ = meter.Int64Counter("rest.requests",
		metric.WithDescription("REST calls issued to the venue"),
		metric.WithUnit("{request}"))
	m.duration, _ = meter.Float64Histogram("rest.request.duration",
		metric.WithDescription("Latency of REST calls including pacing"),
		metric.WithUnit("ms"))
	return m
}

func (m *transportMetrics) record(ctx context.Context, operation, method string, resp *Response, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := telemetry.ResultSuccess
	switch {
	case err == nil:
	case errs.IsCode(err, errs.CodeExchange):
		result = telemetry.ResultAPIError
	case errs.IsCode(err, errs.CodeTimeout), errors.Is(err, context.DeadlineExceeded):
		result = telemetry.ResultTimeout
	default:
		result = telemetry.ResultError
	}
	attrs := telemetry.OperationResultAttributes(telemetry.Environment(), operation, result)
	attrs = append(attrs, telemetry.AttrHTTPMethod.String(method))
	if resp != nil {
		attrs = append(attrs, telemetry.AttrHTTPStatus.String(strconv.Itoa(resp.StatusCode)))
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attrs...))
	}
}
