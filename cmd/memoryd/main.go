// Memoryd is a tiered memory daemon for long-lived learner inferences.
//
// This binary starts the memoryd HTTP server with full service
// initialization, including the record store, NATS change events, and
// background maintenance sweeps. With --stdio it serves the Model
// Context Protocol over stdin/stdout instead of HTTP.
//
// Configuration is loaded from an optional YAML file, then overridden by
// MEMORYD_ environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	memoryd
//
//	# Configure via file and environment
//	memoryd --config ~/.config/memoryd/config.yaml
//	MEMORYD_SERVER__PORT=9280 memoryd
//
//	# Serve MCP over stdio for agent integration
//	memoryd --stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/events"
	httpserver "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	mcpserver "github.com/fyrsmithlabs/memoryd/internal/mcp"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/recordstore"
	"github.com/fyrsmithlabs/memoryd/internal/scheduler"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	stdio := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  memoryd            Start the memoryd daemon\n")
			fmt.Fprintf(os.Stderr, "  memoryd --stdio    Serve MCP over stdin/stdout\n")
			fmt.Fprintf(os.Stderr, "  memoryd version    Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *stdio); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("memoryd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the memoryd daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Opens the record store and connects to NATS (when enabled)
//  4. Creates the memory engine
//  5. Starts the background sweep scheduler (when enabled)
//  6. Serves HTTP, or MCP over stdio with --stdio
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string, stdio bool) error {
	// Load configuration
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize telemetry before the logger so the OTEL bridge can hook in
	tel, err := telemetry.New(ctx, telemetry.NewConfigFromApp(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	// Initialize logger
	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Underlying()

	zlog.Info("Starting memoryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_provider", cfg.Store.Provider),
		zap.Bool("stdio", stdio),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	// Initialize infrastructure dependencies
	deps, err := initDependencies(cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	zlog.Info("Dependencies initialized",
		zap.Bool("store_ready", deps.store != nil),
		zap.Bool("nats_connected", deps.natsConn != nil))

	// Create the memory engine
	service, err := initService(cfg, deps, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize memory service: %w", err)
	}
	defer func() {
		_ = service.Close()
	}()

	// Start background sweeps
	if cfg.Sweep.Enabled {
		sched, err := scheduler.NewSweepScheduler(service, deps.store, zlog,
			scheduler.WithInterval(cfg.Sweep.Interval.Duration()),
			scheduler.WithJitter(cfg.Sweep.Jitter.Duration()))
		if err != nil {
			return fmt.Errorf("failed to create sweep scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start sweep scheduler: %w", err)
		}
		defer sched.Stop()

		zlog.Info("Sweep scheduler started",
			zap.Duration("interval", cfg.Sweep.Interval.Duration()),
			zap.Duration("jitter", cfg.Sweep.Jitter.Duration()))
	}

	if stdio {
		return runStdio(ctx, cfg, service, zlog)
	}
	return runHTTP(ctx, cfg, deps, service, zlog)
}

// runStdio serves MCP over stdin/stdout and blocks until the context is
// cancelled or the transport closes.
func runStdio(ctx context.Context, cfg *config.Config, service memory.Service, zlog *zap.Logger) error {
	if !cfg.MCP.Enabled {
		return errors.New("mcp is disabled in configuration; cannot serve --stdio")
	}

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "memoryd",
		Version: version,
		Logger:  zlog,
	}, service)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.Run(ctx)
}

// runHTTP serves the REST API and blocks until the context is cancelled.
func runHTTP(ctx context.Context, cfg *config.Config, deps *dependencies, service memory.Service, zlog *zap.Logger) error {
	srv, err := httpserver.NewServer(service, deps.store, zlog, &cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Register metrics endpoint
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zlog.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    memory.Store
	natsConn *nats.Conn
	sink     memory.EventSink
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initLogger initializes the structured logger, with the OTEL bridge
// attached when telemetry is on.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg, err := logging.NewConfigFromApp(cfg.Logging, tel.IsEnabled())
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// initDependencies opens the record store and, when events are enabled,
// connects to NATS. A failed NATS connection degrades to running without
// change events rather than refusing to start.
func initDependencies(cfg *config.Config, zlog *zap.Logger) (*dependencies, error) {
	store, err := recordstore.NewStore(&cfg.Store, zlog)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	deps := &dependencies{store: store}

	if cfg.Events.Enabled {
		nc, err := events.Connect(&cfg.Events, zlog)
		if err != nil {
			zlog.Warn("Change events disabled: NATS connection failed", zap.Error(err))
			return deps, nil
		}

		publisher, err := events.NewPublisher(nc, cfg.Events.SubjectPrefix, zlog)
		if err != nil {
			nc.Close()
			_ = store.Close()
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}

		deps.natsConn = nc
		deps.sink = publisher
	}

	return deps, nil
}

// initService builds the memory engine from configuration.
func initService(cfg *config.Config, deps *dependencies, zlog *zap.Logger) (memory.Service, error) {
	engineCfg := &memory.Config{
		DefaultTTLDays:     cfg.Engine.DefaultTTLDays,
		DecayAfterDays:     cfg.Engine.DecayAfterDays,
		SummaryRecentLimit: cfg.Engine.SummaryRecentLimit,
	}

	var opts []memory.Option
	if deps.sink != nil {
		opts = append(opts, memory.WithEventSink(deps.sink))
	}

	return memory.NewService(engineCfg, deps.store, zlog, opts...)
}
