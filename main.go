package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/edgerelay/cmd"
	"github.com/smazurov/edgerelay/internal/api"
	"github.com/smazurov/edgerelay/internal/config"
	"github.com/smazurov/edgerelay/internal/events"
	"github.com/smazurov/edgerelay/internal/logging"
	"github.com/smazurov/edgerelay/internal/metrics"
	"github.com/smazurov/edgerelay/internal/relay"
	"github.com/smazurov/edgerelay/internal/systemd"
	"github.com/smazurov/edgerelay/internal/version"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":9000" toml:"server.port" env:"SERVER_PORT"`

	// Relay settings
	RelayMaxBodyBytes int    `help:"Maximum upload body size in bytes" default:"10485760" toml:"relay.max_body_bytes" env:"RELAY_MAX_BODY_BYTES"`
	RelayQueueSize    int    `help:"Outbound messages buffered per subscriber" default:"16" toml:"relay.queue_size" env:"RELAY_QUEUE_SIZE"`
	RelayRedisAddr    string `help:"Redis address for the latest frame (empty keeps it in memory)" default:"" toml:"relay.redis_addr" env:"RELAY_REDIS_ADDR"`
	RelayRedisKey     string `help:"Redis key holding the latest frame" default:"edgerelay:latest" toml:"relay.redis_key" env:"RELAY_REDIS_KEY"`
	RelayRedisTTL     string `help:"Expiry of the stored frame (0 keeps it)" default:"0" toml:"relay.redis_ttl" env:"RELAY_REDIS_TTL"`
	RelayRedisDB      int    `help:"Redis database" default:"0" toml:"relay.redis_db" env:"RELAY_REDIS_DB"`
	RelayRedisPass    string `help:"Redis password" default:"" toml:"relay.redis_password" env:"RELAY_REDIS_PASSWORD"`
	RelayWriteTimeout string `help:"Deadline for each push channel write" default:"10s" toml:"relay.write_timeout" env:"RELAY_WRITE_TIMEOUT"`

	// Observability settings
	ObsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRelay  string `help:"Relay logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingAPI    string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP   string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"relay": opts.LoggingRelay,
				"api":   opts.LoggingAPI,
				"http":  opts.LoggingHTTP,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Forward log records to /api/logs/stream subscribers
		api.ForwardLogs(eventBus)

		writeTimeout, err := time.ParseDuration(opts.RelayWriteTimeout)
		if err != nil {
			logger.Warn("Invalid relay write timeout, using default", "value", opts.RelayWriteTimeout, "error", err)
			writeTimeout = 0
		}

		relayLogger := logging.GetLogger("relay")
		store := newFrameStore(opts, relayLogger)
		state := relay.NewState(relay.Options{
			Store:        store,
			Bus:          eventBus,
			Logger:       relayLogger,
			QueueSize:    opts.RelayQueueSize,
			WriteTimeout: writeTimeout,
		})

		watchdogCtx, stopWatchdog := context.WithCancel(context.Background())

		apiOpts := &api.Options{
			Relay:        state,
			EventBus:     eventBus,
			MaxBodyBytes: int64(opts.RelayMaxBodyBytes),
			OnListening: func() {
				systemd.Ready(logger)
				systemd.Status(logger, "relaying on "+opts.Port)
				go systemd.Watchdog(watchdogCtx, logger)
			},
		}
		if opts.ObsPrometheusEnabled {
			apiOpts.PrometheusHandler = metrics.Handler()
		}
		server := api.NewServer(apiOpts)

		hooks.OnStart(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := state.Restore(ctx); err != nil {
				logger.Warn("Failed to restore latest frame", "error", err)
			}
			cancel()

			logger.Info("Starting relay", "port", opts.Port, "max_body_bytes", opts.RelayMaxBodyBytes)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down relay")
			systemd.Stopping(logger)
			stopWatchdog()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
		})
	})

	cli.Root().Use = "edgerelay"
	cli.Root().Short = "Frame relay with an edge-detection capture pipeline"

	cli.Root().AddCommand(
		cmd.CreateCaptureCmd(),
		cmd.CreateDevicesCmd(),
		cmd.CreateWatchCmd(),
		versionCmd(),
	)

	// Run the CLI
	cli.Run()
}

// newFrameStore picks redis when an address is configured. An unreachable
// redis falls back to memory so the relay still serves live frames.
func newFrameStore(opts *Options, logger *slog.Logger) relay.FrameStore {
	if opts.RelayRedisAddr == "" {
		return relay.NewMemoryStore()
	}

	ttl, err := time.ParseDuration(opts.RelayRedisTTL)
	if err != nil {
		ttl = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := relay.NewRedisStore(ctx, relay.RedisStoreConfig{
		Addr:     opts.RelayRedisAddr,
		Password: opts.RelayRedisPass,
		DB:       opts.RelayRedisDB,
		Key:      opts.RelayRedisKey,
		TTL:      ttl,
	})
	if err != nil {
		logger.Warn("Redis unavailable, keeping the latest frame in memory", "addr", opts.RelayRedisAddr, "error", err)
		return relay.NewMemoryStore()
	}
	logger.Info("Persisting latest frame to redis", "addr", opts.RelayRedisAddr, "key", opts.RelayRedisKey)
	return store
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Printf("edgerelay %s (commit %s, built %s, %s %s)\n",
				info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
		},
	}
}
