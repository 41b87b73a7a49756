// Package telemetry provides OpenTelemetry wiring and semantic conventions for the venue link.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrEnvironment specifies the venue environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrOperation differentiates venue operations (submit_order, fetch_positions, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, timeout, api_error, ...).
	AttrResult = attribute.Key("result")
	// AttrHTTPMethod labels REST calls by verb.
	AttrHTTPMethod = attribute.Key("http.method")
	// AttrHTTPStatus labels REST calls by response status.
	AttrHTTPStatus = attribute.Key("http.status_code")
	// AttrConnectionState labels connection lifecycle signals (connected, reconnecting, ...).
	AttrConnectionState = attribute.Key("connection.state")
	// AttrEventType annotates streaming counters with the envelope type (price, order, ...).
	AttrEventType = attribute.Key("event.type")
	// AttrCacheName distinguishes cache instances.
	AttrCacheName = attribute.Key("cache.name")
	// AttrReason provides free-form context for drops and evictions.
	AttrReason = attribute.Key("reason")
)

// Result values shared by REST and coordinator metrics.
const (
	ResultSuccess  = "success"
	ResultTimeout  = "timeout"
	ResultAPIError = "api_error"
	ResultError    = "error"
)

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrConnectionState.String(state),
	}
}

// EventAttributes returns attributes for streaming event metrics.
func EventAttributes(environment, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventType.String(eventType),
	}
}

// CacheAttributes returns attributes for cache metrics.
func CacheAttributes(environment, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrCacheName.String(name),
	}
}
