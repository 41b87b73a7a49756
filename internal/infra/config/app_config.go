// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/venuelink/errs"
	"github.com/coachpo/venuelink/internal/domain/schema"
)

const component = "config"

// Environment variables consulted after the YAML file.
const (
	EnvAPIKey         = "VENUELINK_API_KEY"
	EnvAPISecret      = "VENUELINK_API_SECRET"
	EnvClientID       = "VENUELINK_CLIENT_ID"
	EnvBaseURL        = "VENUELINK_BASE_URL"
	EnvStreamEndpoint = "VENUELINK_STREAM_ENDPOINT"
	EnvEnvironment    = "VENUELINK_ENV"
	EnvAPIAddr        = "VENUELINK_API_ADDR"
	EnvLogLevel       = "VENUELINK_LOG_LEVEL"
)

// AppConfig is the venue link configuration sourced from YAML and the environment.
type AppConfig struct {
	APIKey         string             `yaml:"apiKey"`
	APISecret      string             `yaml:"apiSecret"`
	BaseURL        string             `yaml:"baseUrl"`
	ClientID       string             `yaml:"clientId"`
	Environment    schema.Environment `yaml:"environment"`
	StreamEndpoint string             `yaml:"streamEndpoint"`

	Transport   TransportConfig   `yaml:"transport"`
	Stream      StreamConfig      `yaml:"stream"`
	Cache       CacheConfig       `yaml:"cache"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	APIServer   APIServerConfig   `yaml:"apiServer"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads the YAML file at configPath (skipped when empty), applies
// VENUELINK_* overrides, fills defaults and validates the result.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	var cfg AppConfig
	if strings.TrimSpace(configPath) != "" {
		reader, closer, err := openConfigFile(configPath)
		if err != nil {
			return AppConfig{}, err
		}
		defer closer()

		bytes, err := io.ReadAll(reader)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(bytes, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return AppConfig{}, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvAPIKey, &c.APIKey},
		{EnvAPISecret, &c.APISecret},
		{EnvClientID, &c.ClientID},
		{EnvBaseURL, &c.BaseURL},
		{EnvStreamEndpoint, &c.StreamEndpoint},
		{EnvAPIAddr, &c.APIServer.Addr},
		{EnvLogLevel, &c.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && strings.TrimSpace(v) != "" {
			*o.target = v
		}
	}
	if v, ok := lookup(EnvEnvironment); ok && strings.TrimSpace(v) != "" {
		c.Environment = schema.Environment(v)
	}
	if v, ok := lookup("VENUELINK_STREAM_MAX_ATTEMPTS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errs.Configuration(component, fmt.Sprintf("VENUELINK_STREAM_MAX_ATTEMPTS: invalid value %q", v))
		}
		c.Stream.MaxAttempts = n
	}
	return nil
}

// WithDefaults returns a copy with trimmed fields and defaults filled in, for
// configurations assembled in code rather than through Load.
func (c AppConfig) WithDefaults() AppConfig {
	c.normalise()
	return c
}

func (c *AppConfig) normalise() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.BaseURL = trimURL(c.BaseURL)
	c.StreamEndpoint = trimURL(c.StreamEndpoint)
	c.Environment = schema.Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	if c.Environment == "" {
		c.Environment = schema.EnvDev
	}

	c.Transport.Timeout = durationOr(c.Transport.Timeout, 10*time.Second)
	if c.Transport.RateLimit > 0 && c.Transport.RateBurst <= 0 {
		c.Transport.RateBurst = 1
	}

	c.Stream.BaseDelay = durationOr(c.Stream.BaseDelay, 5*time.Second)
	c.Stream.HandshakeTimeout = durationOr(c.Stream.HandshakeTimeout, 10*time.Second)
	if c.Stream.MaxAttempts == 0 {
		c.Stream.MaxAttempts = 5
	}
	c.Stream.Policy = strings.ToLower(strings.TrimSpace(c.Stream.Policy))
	if c.Stream.Policy == "" {
		c.Stream.Policy = "linear"
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 256
	}
	if c.Stream.FanoutWorkers <= 0 {
		c.Stream.FanoutWorkers = 4
	}

	c.Cache.SweepInterval = durationOr(c.Cache.SweepInterval, 30*time.Second)
	c.Cache.PositionsTTL = durationOr(c.Cache.PositionsTTL, 2*time.Second)
	c.Cache.OrdersTTL = durationOr(c.Cache.OrdersTTL, 2*time.Second)
	c.Cache.AccountTTL = durationOr(c.Cache.AccountTTL, 5*time.Second)
	c.Cache.SymbolsTTL = durationOr(c.Cache.SymbolsTTL, 10*time.Minute)
	c.Cache.MarketTTL = durationOr(c.Cache.MarketTTL, 500*time.Millisecond)
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 10000
	}

	c.Coordinator.OrderThrottle = durationOr(c.Coordinator.OrderThrottle, 100*time.Millisecond)
	if c.Coordinator.MarketBatchSize <= 0 {
		c.Coordinator.MarketBatchSize = 20
	}
	c.Coordinator.MarketBatchInterval = durationOr(c.Coordinator.MarketBatchInterval, 25*time.Millisecond)
	c.Coordinator.RefreshDebounce = durationOr(c.Coordinator.RefreshDebounce, 200*time.Millisecond)

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = ":8890"
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "venuelink"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate performs semantic validation on the configuration. Every failure is
// a configuration error and is never retried.
func (c AppConfig) Validate() error {
	if err := c.Credential().Validate(); err != nil {
		return err
	}
	if err := c.Endpoint().Validate(); err != nil {
		return err
	}
	if c.Transport.Timeout <= 0 {
		return errs.Configuration(component, "transport timeout must be >0")
	}
	if c.Transport.RateLimit < 0 {
		return errs.Configuration(component, "transport rateLimit must be >=0")
	}
	if c.Stream.MaxAttempts < 0 {
		return errs.Configuration(component, "stream maxAttempts must be >=0")
	}
	switch c.Stream.Policy {
	case "linear", "exponential":
	default:
		return errs.Configuration(component, fmt.Sprintf("stream policy %q must be linear or exponential", c.Stream.Policy))
	}
	if c.Cache.MemoryThresholdPercent < 0 || c.Cache.MemoryThresholdPercent > 100 {
		return errs.Configuration(component, "cache memoryThresholdPercent must be within [0,100]")
	}
	if c.Coordinator.MarketBatchSize <= 0 {
		return errs.Configuration(component, "coordinator marketBatchSize must be >0")
	}
	return nil
}

// Credential returns the in-memory credential.
func (c AppConfig) Credential() schema.Credential {
	return schema.NewCredential(c.APIKey, c.APISecret, c.ClientID)
}

// Endpoint returns the venue endpoints.
func (c AppConfig) Endpoint() schema.EndpointConfig {
	return schema.NewEndpointConfig(c.BaseURL, c.StreamEndpoint, c.Environment)
}

// Redacted returns a copy safe to log or expose: secrets are masked.
func (c AppConfig) Redacted() AppConfig {
	clone := c
	if clone.APISecret != "" {
		clone.APISecret = "***"
	}
	if n := len(clone.APIKey); n > 4 {
		clone.APIKey = strings.Repeat("*", n-4) + clone.APIKey[n-4:]
	}
	return clone
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
