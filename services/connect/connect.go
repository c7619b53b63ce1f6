// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connect provides the renshuu-connect service shell.
//
// This package contains the main service type that assembles every
// component of the bridge: HTTP routing, the Renshuu API client, the
// SQLite cache, logging destinations, and observability infrastructure.
//
// # Hardened Deployments
//
// The service supports dependency injection via extensions.ServiceOptions.
// The stock build runs with no-op defaults; deployments on shared
// networks can inject an AuditLogger to record state-changing operations.
//
// # Usage
//
// Stock build (no-op extensions):
//
//	cfg, err := connect.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := connect.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// Hardened (custom audit sink):
//
//	opts := &extensions.ServiceOptions{
//	    AuditLogger: siemForwarder,
//	}
//	svc, err := connect.New(cfg, opts)
package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/renshuu-connect/pkg/extensions"
	"github.com/AleutianAI/renshuu-connect/pkg/logging"
	"github.com/AleutianAI/renshuu-connect/services/connect/middleware"
	"github.com/AleutianAI/renshuu-connect/services/connect/observability"
	"github.com/AleutianAI/renshuu-connect/services/connect/routes"
	"github.com/AleutianAI/renshuu-connect/services/connect/services"
	"github.com/AleutianAI/renshuu-connect/services/connect/storage/sqlite"
	"github.com/AleutianAI/renshuu-connect/services/connect/telemetry"
	"github.com/AleutianAI/renshuu-connect/services/renshuu"
	"github.com/caarlos0/env/v11"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// serviceName identifies this service in logs, traces, and the otelgin
// middleware.
const serviceName = "renshuu-connect"

// cacheDBFile is the SQLite file name under DataDir. The data directory
// is the volume; the file name is an implementation detail.
const cacheDBFile = "renshuu_connect.db"

// shutdownTimeout bounds connection draining after a stop signal.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the renshuu-connect service.
//
// # Description
//
// Service abstracts the bridge lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until the context is
	// cancelled or the server fails.
	//
	// # Description
	//
	// Starts the HTTP server on the configured port. When ctx is
	// cancelled (typically by SIGINT/SIGTERM via signal.NotifyContext),
	// in-flight requests are drained for up to shutdownTimeout before
	// the method returns. All service resources are released on return.
	//
	// # Inputs
	//
	//   - ctx: Cancellation signals shutdown. Must not be nil.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or drain
	//
	// # Examples
	//
	//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	//	defer stop()
	//	if err := svc.Run(ctx); err != nil {
	//	    log.Fatalf("server error: %v", err)
	//	}
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	//
	// # Description
	//
	// Provides access to the configured Gin router, primarily for
	// integration testing where direct HTTP calls are needed.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds renshuu-connect configuration options.
//
// # Description
//
// Config centralizes all configuration for the service. LoadConfig()
// populates it from environment variables; tests build it directly.
// Zero values get defaults applied by New().
//
// # Required Fields
//
// None. The service starts without a Renshuu API key; envelopes must
// then carry their own key.
//
// # Examples
//
//	// From the environment (normal startup path)
//	cfg, err := LoadConfig()
//
//	// Programmatic (tests)
//	cfg := Config{
//	    Port:    8765,
//	    DataDir: t.TempDir(),
//	    LogsDir: t.TempDir(),
//	}
type Config struct {
	// Port is the HTTP listen port. Default: 8765
	Port int `env:"CONNECT_PORT" envDefault:"8765"`

	// DataDir holds durable state, most importantly the SQLite cache
	// file. The container image sets this to /data and declares it a
	// volume. Default: ./data
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// LogsDir receives daily JSON log files. The container image sets
	// this to /logs. Default: ./logs
	LogsDir string `env:"LOGS_DIR" envDefault:"./logs"`

	// RenshuuKey is the fallback Renshuu API key used when a request
	// envelope carries none. Empty means every request must bring its
	// own key.
	RenshuuKey string `env:"RENSHUU_API_KEY"`

	// RenshuuBaseURL overrides the Renshuu API root. Integration tests
	// point this at a local fake. Empty uses the public API.
	RenshuuBaseURL string `env:"RENSHUU_BASE_URL"`

	// RenshuuRateRPS caps sustained upstream requests per second.
	// Zero uses the client default.
	RenshuuRateRPS float64 `env:"RENSHUU_RATE_LIMIT_RPS"`

	// LogLevel sets the minimum log severity.
	// Valid values: "debug", "info", "warn", "error". Default: "info"
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// EnableMetrics enables the Prometheus registry and the /metrics
	// endpoint. Default: true
	EnableMetrics bool `env:"ENABLE_METRICS" envDefault:"true"`

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test". Default: "release"
	GinMode string `env:"GIN_MODE" envDefault:"release"`
}

// LoadConfig builds a Config from environment variables.
//
// # Outputs
//
//   - Config: Populated configuration with env defaults applied
//   - error: Non-nil if a variable fails to parse (bad port, bad float)
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills in missing configuration values.
//
// # Description
//
// LoadConfig already applies env defaults; this covers Configs built
// programmatically (tests, embedding callers) with zero values.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "./logs"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - The Renshuu API client with rate limiting
//   - The SQLite word/membership cache
//   - Multi-destination logging (stderr, file, showlog ring)
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Limitations
//
//   - No hot-reload of configuration
type service struct {
	config            Config
	opts              extensions.ServiceOptions
	router            *gin.Engine
	bridge            *services.Bridge
	store             *sqlite.Store
	logger            *logging.Logger
	ring              *logging.RingHandler
	telemetryShutdown func(context.Context) error
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new renshuu-connect Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Sets up logging (stderr JSON, daily file under LogsDir, showlog ring)
//  3. Initializes OpenTelemetry tracing and metrics
//  4. Opens the SQLite cache under DataDir, creating the directory if needed
//  5. Builds the Renshuu API client and the bridge
//  6. Sets up HTTP routes with middleware
//
// If opts is nil, extensions.DefaultOptions() is used (no-op
// implementations).
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for hardened deployments. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run bridge service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg, _ := LoadConfig()
//	svc, err := New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// # Limitations
//
//   - Telemetry exporter failures are fatal; pick "none" exporters to
//     run without a collector
//
// # Assumptions
//
//   - DataDir and LogsDir are writable (the container mounts them)
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	// Logging first so every later init step lands in the ring and file
	s.initLogging()

	// Initialize OpenTelemetry tracing and metrics
	shutdown, err := s.initTelemetry()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for action dispatch")
	}

	// Open the SQLite cache
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	// Build the Renshuu client and the bridge
	s.initBridge()

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the HTTP server on the configured port. Blocks until ctx is
// cancelled or the server fails. On cancellation, in-flight requests
// drain for up to shutdownTimeout. Cleanup is automatic on return.
//
// # Inputs
//
//   - ctx: Cancellation signals shutdown
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or drain
//
// # Assumptions
//
//   - Service was successfully created via New()
//   - Port is available
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	slog.Info("renshuu-connect listening",
		"port", s.config.Port,
		"data_dir", s.config.DataDir,
		"metrics", s.config.EnableMetrics,
		"fallback_key_present", s.config.RenshuuKey != "")

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	}
}

// Router returns the underlying Gin engine for testing.
//
// # Outputs
//
//   - *gin.Engine: The configured router
//
// # Limitations
//
//   - Should not be used to modify routes after construction
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initLogging wires the multi-destination logger and installs it as the
// process default.
//
// # Description
//
// Three destinations: stderr as JSON for `docker logs`, a daily file
// under LogsDir, and the in-memory ring behind "GET /?showlog=1".
// Destinations that fail to initialize (unwritable LogsDir) are skipped
// by the logging package rather than failing startup.
func (s *service) initLogging() {
	level := logging.ParseLevel(s.config.LogLevel)
	s.ring = logging.NewRingHandler(logging.DefaultRingCapacity, level)
	s.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  s.config.LogsDir,
		Service: serviceName,
		JSON:    true,
		Ring:    s.ring,
	})
	slog.SetDefault(s.logger.Slog())
}

// initTelemetry initializes OpenTelemetry tracing and metrics.
//
// # Description
//
// Exporters come from the standard OTEL_* environment variables via
// telemetry.DefaultConfig(). When metrics are disabled in the service
// config, the metric exporter is forced off regardless of environment.
//
// # Outputs
//
//   - func(context.Context) error: Shutdown function to call on exit
//   - error: Non-nil if an exporter fails to initialize
func (s *service) initTelemetry() (func(context.Context) error, error) {
	tcfg := telemetry.DefaultConfig()
	if !s.config.EnableMetrics {
		tcfg.MetricExporter = "none"
	}
	return telemetry.Init(context.Background(), tcfg)
}

// initStore opens the SQLite cache under DataDir.
//
// # Description
//
// Creates DataDir if missing and opens (or creates) the cache database.
// Migrations run inside Open.
//
// # Outputs
//
//   - error: Non-nil if the directory or database cannot be prepared
func (s *service) initStore() error {
	if err := os.MkdirAll(s.config.DataDir, 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(s.config.DataDir, cacheDBFile)
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return err
	}
	s.store = store

	slog.Info("Cache store opened", "path", dbPath)
	return nil
}

// initBridge builds the Renshuu API client and the action bridge.
func (s *service) initBridge() {
	client := renshuu.NewAPIClient(renshuu.Config{
		BaseURL:      s.config.RenshuuBaseURL,
		RateLimitRPS: s.config.RenshuuRateRPS,
	})
	s.bridge = services.NewBridge(client, s.store, s.config.RenshuuKey, &s.opts)
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies middleware, and registers all routes.
// Middleware order matters: the recovery middleware sits ahead of
// everything that can panic so failures still come back in the protocol
// envelope, and request IDs are assigned before tracing so spans can
// carry them.
//
// # Limitations
//
//   - Routes are fixed after initialization
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)

	s.router = gin.New()

	// Access lines go to stdout and the showlog ring.
	s.router.Use(gin.LoggerWithWriter(io.MultiWriter(os.Stdout, s.ring.Writer())))
	s.router.Use(middleware.ProtocolRecovery())
	s.router.Use(corsMiddleware())
	s.router.Use(middleware.RequestID())
	s.router.Use(otelgin.Middleware(serviceName))

	var metricsHandler http.Handler
	if s.config.EnableMetrics {
		metricsHandler = telemetry.MetricsHandler()
	}

	routes.SetupRoutes(s.router, s.bridge, s.ring, metricsHandler)
}

// corsMiddleware builds the permissive CORS policy browser extensions
// need.
//
// # Description
//
// Yomitan and AnkiConnect-compatible clients call from extension and
// page origins that cannot be enumerated, and they send credentialed
// requests. AllowOriginFunc echoes whatever origin calls, which is how
// a wildcard coexists with AllowCredentials.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Closes the
// cache store, flushes the audit logger, shuts down telemetry, and
// closes the log file last so the other steps can still log.
func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Cache store close error", "error", err)
		}
	}

	if s.opts.AuditLogger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.opts.AuditLogger.Flush(ctx); err != nil {
			slog.Warn("Audit logger flush error", "error", err)
		}
		cancel()
	}

	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.telemetryShutdown(ctx); err != nil {
			slog.Warn("Telemetry shutdown error", "error", err)
		}
		cancel()
	}

	if s.logger != nil {
		_ = s.logger.Close()
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
