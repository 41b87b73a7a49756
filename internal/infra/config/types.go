package config

import (
	"strings"
	"time"
)

// TransportConfig tunes the REST transport.
type TransportConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rateLimit"`
	RateBurst int           `yaml:"rateBurst"`
}

// StreamConfig tunes the streaming connection and its reconnect policy.
type StreamConfig struct {
	AutoConnect      bool          `yaml:"autoConnect"`
	BaseDelay        time.Duration `yaml:"baseDelay"`
	MaxAttempts      int           `yaml:"maxAttempts"`
	Policy           string        `yaml:"policy"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	BufferSize       int           `yaml:"bufferSize"`
	FanoutWorkers    int           `yaml:"fanoutWorkers"`
}

// CacheConfig sets per-resource TTLs and the pressure valve.
type CacheConfig struct {
	SweepInterval          time.Duration `yaml:"sweepInterval"`
	PositionsTTL           time.Duration `yaml:"positionsTtl"`
	OrdersTTL              time.Duration `yaml:"ordersTtl"`
	AccountTTL             time.Duration `yaml:"accountTtl"`
	SymbolsTTL             time.Duration `yaml:"symbolsTtl"`
	MarketTTL              time.Duration `yaml:"marketTtl"`
	MaxEntries             int           `yaml:"maxEntries"`
	MemoryThresholdPercent float64       `yaml:"memoryThresholdPercent"`
}

// CoordinatorConfig shapes outbound load.
type CoordinatorConfig struct {
	OrderThrottle       time.Duration `yaml:"orderThrottle"`
	MarketBatchSize     int           `yaml:"marketBatchSize"`
	MarketBatchInterval time.Duration `yaml:"marketBatchInterval"`
	RefreshDebounce     time.Duration `yaml:"refreshDebounce"`
}

// APIServerConfig configures the read-only status surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func trimURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
