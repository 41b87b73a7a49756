// Command venuelink runs the venue link with its status server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/venuelink/internal/app/venue"
	"github.com/coachpo/venuelink/internal/domain/schema"
	"github.com/coachpo/venuelink/internal/infra/config"
	httpserver "github.com/coachpo/venuelink/internal/infra/server/http"
	"github.com/coachpo/venuelink/internal/infra/telemetry"
)

const (
	defaultConfigPath = "config/app.yaml"

	shutdownTimeout             = 30 * time.Second
	statusServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout    = 10 * time.Second
	telemetryShutdownTimeout    = 5 * time.Second
	connectivityProbeTimeout    = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	_ = godotenv.Load()

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.Load(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(appCfg.Logging, os.Stdout)
	logger.Info().
		Str("env", string(appCfg.Environment)).
		Str("base_url", appCfg.BaseURL).
		Bool("stream", appCfg.StreamEndpoint != "").
		Msg("configuration loaded")

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise telemetry")
	}

	store, err := config.NewAppConfigStore(appCfg, func(cfg config.AppConfig) error {
		logger.Info().Str("api_key", cfg.Redacted().APIKey).Msg("configuration reloaded")
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise config store")
	}

	client, err := venue.New(appCfg, venue.WithLogger(logger), venue.WithCredentialSource(store))
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise venue client")
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, connectivityProbeTimeout)
	if client.TestConnectivity(probeCtx) {
		logger.Info().Msg("venue reachable")
	} else {
		logger.Warn().Msg("venue unreachable at startup; requests will fail until it recovers")
	}
	probeCancel()

	var lifecycle conc.WaitGroup
	if appCfg.StreamEndpoint != "" && appCfg.Stream.AutoConnect {
		startStream(ctx, &lifecycle, logger, client)
	}

	watchReload(ctx, &lifecycle, logger, store, configPath)

	statusServer := httpserver.New(appCfg.APIServer.Addr, client, appCfg, logger)
	lifecycle.Go(func() {
		if err := statusServer.Start(); err != nil {
			logger.Error().Err(err).Msg("status server")
		}
	})

	logger.Info().Msg("venue link started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	start := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     statusServer,
		client:     client,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
	})
	logger.Info().Dur("elapsed", time.Since(start)).Msg("shutdown completed")
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to configuration file (default: %s when present)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveConfigPath prefers the flag, then the default file when it exists.
// An empty result means environment-only configuration.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return filepath.Clean(defaultConfigPath)
	}
	return ""
}

func newLogger(cfg config.LoggingConfig, out *os.File) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	return logger.Level(level).With().Timestamp().Str("service", "venuelink").Logger()
}

func initTelemetry(ctx context.Context, logger zerolog.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	cfg := appCfg.Telemetry
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(appCfg.Environment)
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || cfg.OTLPInsecure
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Info().Str("endpoint", telemetryCfg.OTLPEndpoint).Str("service", telemetryCfg.ServiceName).Msg("telemetry initialised")
	} else {
		logger.Info().Msg("telemetry disabled")
	}
	return provider, nil
}

// startStream connects the stream and logs every fatal event. The fatal
// watcher exits when the client is closed.
func startStream(ctx context.Context, lifecycle *conc.WaitGroup, logger zerolog.Logger, client *venue.Client) {
	for i, typ := range schema.DataEventTypes {
		_, err := client.Subscribe(typ, streamEventLogger(logger, i == 0))
		if err != nil {
			logger.Error().Err(err).Str("type", string(typ)).Msg("subscribe")
		}
	}
	lifecycle.Go(func() {
		if err := client.Connect(ctx); err != nil {
			logger.Error().Err(err).Msg("stream connect")
		}
	})
}

// streamEventLogger logs delivered events. Fatal events reach every
// subscription, so only the handler with reportFatal set logs them.
func streamEventLogger(logger zerolog.Logger, reportFatal bool) func(schema.Event) {
	return func(evt schema.Event) {
		if evt.Type == schema.EventTypeFatal {
			if reportFatal {
				logger.Error().Err(evt.Err).Msg("stream gave up; reconnect manually")
			}
			return
		}
		logger.Debug().Str("type", string(evt.Type)).Int("bytes", len(evt.Data)).Msg("stream event")
	}
}

// watchReload re-reads configuration on SIGHUP. Rotated credentials apply to
// the next REST call; the stream session and tuning sections keep their startup values.
func watchReload(ctx context.Context, lifecycle *conc.WaitGroup, logger zerolog.Logger, store *config.AppConfigStore, configPath string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	lifecycle.Go(func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := store.Reload(ctx, configPath); err != nil {
					logger.Error().Err(err).Msg("configuration reload rejected")
				}
			}
		}
	})
}

type gracefulShutdownConfig struct {
	server     *httpserver.Server
	client     *venue.Client
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger zerolog.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Warn().Err(err).Str("step", name).Msg("shutdown step failed")
			return
		}
		logger.Info().Str("step", name).Msg("shutdown step completed")
	}

	if cfg.server != nil {
		shutdownStep("stopping status server", statusServerShutdownTimeout, cfg.server.Shutdown)
	}
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}
	if cfg.client != nil {
		shutdownStep("closing venue client", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitDone(stepCtx, cfg.client.Close)
		})
	}
	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitDone(stepCtx, cfg.lifecycle.Wait)
		})
	}
	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
}

func waitDone(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}
