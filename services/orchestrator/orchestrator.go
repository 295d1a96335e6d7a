// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the Pulse HTTP service.
//
// The orchestrator owns process start-up: it opens the store, the cache
// and the optional broker relay, builds the agent graph over them and
// serves the HTTP routes, the websocket event stream and /metrics.
//
// # Usage
//
//	cfg := orchestrator.Config{DatabaseURL: "sqlite://pulse.db"}
//	svc, err := orchestrator.New(ctx, cfg, nil, logger)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianPulse/pkg/extensions"
	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
	"github.com/AleutianAI/AleutianPulse/services/analytics/connectors"
	"github.com/AleutianAI/AleutianPulse/services/analytics/insights"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/llm"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/monitor"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/routes"
)

// ServiceName is the otel service name and the logger "service" attribute.
const ServiceName = "pulse"

// Trace exporters accepted by Config.TracesExporter.
const (
	TracesOTLP   = "otlp"
	TracesStdout = "stdout"
	TracesNone   = "none"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the Pulse HTTP service.
//
// # Description
//
// Run blocks until ctx is cancelled or the listener fails, then shuts
// down gracefully: in-flight requests drain, background ingestion
// returns, the agent graph and scheduler stop, and every backend closes.
//
// # Assumptions
//
//   - Run is called at most once per Service instance.
type Service interface {
	Run(ctx context.Context) error

	// Router returns the configured gin engine for tests.
	Router() *gin.Engine

	// Graph returns the agent graph.
	Graph() *agents.Graph

	// Close releases every backend without serving. Run calls it on exit.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration. Zero values take defaults from
// applyConfigDefaults.
type Config struct {
	// Port is the HTTP port. Default: 8000
	Port int

	// Addr overrides Port with a full listen address, e.g. "127.0.0.1:0".
	Addr string

	// Environment labels the deployment. "production" puts gin in release
	// mode. Default: "development"
	Environment string

	// DatabaseURL is sqlite://path, file:path or a postgres:// DSN.
	// Default: "sqlite://pulse.db"
	DatabaseURL string

	// DBMaxOpenConns caps the connection pool. Zero keeps the driver
	// default.
	DBMaxOpenConns int

	// RedisURL selects the redis cache backend when set.
	RedisURL string

	// CacheDir holds the badger cache when RedisURL is empty. Empty keeps
	// the cache in memory.
	CacheDir string

	// BrokerURL enables the NATS relay when set.
	BrokerURL string

	// SecretKey enables bearer auth on /api when set.
	SecretKey string

	// TokenAlgorithm labels the token scheme. Default: "HS256"
	TokenAlgorithm string

	// AllowedOrigins restricts CORS and the websocket origin check.
	AllowedOrigins []string

	// GoogleCredentialsFile is used by the Sheets connector and for gs://
	// CSV paths.
	GoogleCredentialsFile string

	// AirtableAPIKey authenticates the Airtable connector.
	AirtableAPIKey string

	// OpenAIAPIKey enables AI insights. OpenAIModel defaults in the client.
	OpenAIAPIKey string
	OpenAIModel  string

	// Influx configures the optional time-series mirror. Ignored when
	// Influx.URL is empty.
	Influx store.InfluxConfig

	// TracesExporter is otlp, stdout or none. Default: otlp when
	// OTelEndpoint is set, none otherwise.
	TracesExporter string

	// OTelEndpoint is the OTLP/gRPC collector address.
	OTelEndpoint string

	// MonitorInterval re-runs KPI monitoring for every identifier when
	// positive.
	MonitorInterval time.Duration

	// HeartbeatInterval logs the agent status board. Default: 30s
	HeartbeatInterval time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// RetryBaseDelay is the connector backoff unit. Default: 1s
	RetryBaseDelay time.Duration
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite://pulse.db"
	}
	if cfg.TokenAlgorithm == "" {
		cfg.TokenAlgorithm = "HS256"
	}
	if cfg.TracesExporter == "" {
		if cfg.OTelEndpoint != "" {
			cfg.TracesExporter = TracesOTLP
		} else {
			cfg.TracesExporter = TracesNone
		}
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return cfg
}

// listenAddr returns the address Run listens on.
func (c Config) listenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// Thread-safe after construction. Fields are read-only after New returns.
type service struct {
	config Config
	opts   extensions.ServiceOptions
	logger *logging.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics

	store     *store.Store
	mirror    *store.InfluxMirror
	cache     *cache.Cache
	relay     *bus.NATSRelay
	bus       *bus.Bus
	board     *agents.StatusBoard
	graph     *agents.Graph
	analytics *handlers.Analytics
	scheduler *monitor.Scheduler
	router    *gin.Engine

	base          context.Context
	cancelBase    context.CancelFunc
	tracerCleanup func(context.Context)
}

// New builds the service.
//
// # Description
//
// Initialization order:
//  1. Apply configuration defaults
//  2. Tracing (otlp, stdout or none)
//  3. Prometheus registry and metrics
//  4. Cache backend (redis, badger on disk, or badger in memory)
//  5. Store, with the Influx mirror when configured
//  6. NATS relay and the bus
//  7. LLM oracle, connectors, status board and agent graph
//  8. Monitor scheduler and HTTP routes
//
// A failing optional backend (Influx, NATS) is logged and skipped. A
// failing required one (store, cache) fails New and releases whatever was
// already opened.
//
// # Inputs
//
//   - ctx: Bounds start-up I/O only.
//   - cfg: Configuration. Zero values use defaults.
//   - opts: Extension options. nil uses DefaultOptions, replaced by a
//     token provider when cfg.SecretKey is set.
//   - logger: nil uses logging.Default().
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions, logger *logging.Logger) (Service, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: logger.With("component", "orchestrator"),
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())

	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init(ctx context.Context) error {
	cleanup, err := s.initTracer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.registry)

	if err := s.initAuth(); err != nil {
		return err
	}
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if err := s.initStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	s.initBus()
	s.initGraph()
	s.initRouter()
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	if err := s.graph.Start(s.base); err != nil {
		return fmt.Errorf("failed to start agent graph: %w", err)
	}
	go s.board.Heartbeat(s.base, s.config.HeartbeatInterval, s.logger)
	if s.scheduler != nil {
		if err := s.scheduler.Start(s.base); err != nil {
			return fmt.Errorf("failed to start monitor scheduler: %w", err)
		}
	}

	ln, err := net.Listen("tcp", s.config.listenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting pulse server", "addr", ln.Addr().String(), "environment", s.config.Environment)
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down pulse server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked and not tracked by Shutdown;
	// closing the bus subscribers ends their handlers.
	s.bus.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", "error", err)
	}
	return nil
}

// Router returns the gin engine.
func (s *service) Router() *gin.Engine { return s.router }

// Graph returns the agent graph.
func (s *service) Graph() *agents.Graph { return s.graph }

// Close stops background work and releases every backend. Safe to call
// more than once.
func (s *service) Close() error {
	if s.cancelBase != nil {
		s.cancelBase()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.analytics != nil {
		s.analytics.Wait()
	}
	if s.graph != nil {
		s.graph.Stop()
	}
	if s.bus != nil {
		s.bus.CloseAll()
	}

	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
		s.relay = nil
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	if s.mirror != nil {
		s.mirror.Close()
		s.mirror = nil
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
		s.cache = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer installs the global tracer provider.
//
// # Limitations
//
//   - The OTLP exporter uses an insecure gRPC connection, which suits a
//     collector on the internal network.
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	var exporter sdktrace.SpanExporter
	switch s.config.TracesExporter {
	case TracesNone:
		return nil, nil
	case TracesStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	case TracesOTLP:
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown traces exporter %q", s.config.TracesExporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.DeploymentEnvironmentKey.String(s.config.Environment),
		))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	s.logger.Info("tracing enabled", "exporter", s.config.TracesExporter)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initAuth installs the token provider when a secret key is configured and
// the caller did not supply a provider of their own.
func (s *service) initAuth() error {
	if s.config.SecretKey == "" {
		return nil
	}
	if _, nop := s.opts.AuthProvider.(*extensions.NopAuthProvider); !nop {
		return nil
	}
	provider, err := extensions.NewTokenAuthProvider([]byte(s.config.SecretKey))
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}
	s.opts = s.opts.WithAuth(provider)
	s.logger.Info("bearer auth enabled for /api", "algorithm", s.config.TokenAlgorithm)
	return nil
}

func (s *service) initCache() error {
	var backend cache.Backend
	switch {
	case s.config.RedisURL != "":
		rb, err := cache.NewRedisBackend(s.config.RedisURL)
		if err != nil {
			return err
		}
		backend = rb
		s.logger.Info("cache backend: redis")
	default:
		bcfg := cache.InMemoryBadgerConfig()
		if s.config.CacheDir != "" {
			bcfg = cache.DefaultBadgerConfig(s.config.CacheDir)
		}
		bcfg.Logger = s.logger.Slog()
		bb, err := cache.OpenBadger(bcfg)
		if err != nil {
			return err
		}
		backend = bb
		s.logger.Info("cache backend: badger", "dir", s.config.CacheDir, "in_memory", bcfg.InMemory)
	}
	s.cache = cache.New(backend, cache.Options{Logger: s.logger, Metrics: s.metrics})
	return nil
}

func (s *service) initStore(ctx context.Context) error {
	cfg := store.Config{
		URL:          s.config.DatabaseURL,
		MaxOpenConns: s.config.DBMaxOpenConns,
		Logger:       s.logger,
		Metrics:      s.metrics,
	}
	if s.config.Influx.URL != "" {
		mirror, err := store.NewInfluxMirror(ctx, s.config.Influx)
		if err != nil {
			s.logger.Warn("influx mirror unavailable, continuing without it", "error", err)
		} else {
			s.mirror = mirror
			cfg.Mirror = mirror
		}
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

func (s *service) initBus() {
	opts := bus.Options{Logger: s.logger, Metrics: s.metrics}
	if s.config.BrokerURL != "" {
		relay, err := bus.DialNATS(s.config.BrokerURL)
		if err != nil {
			s.logger.Warn("NATS unavailable, continuing without event relay", "error", err)
		} else {
			s.relay = relay
			opts.Relay = relay
			s.logger.Info("relaying bus events to NATS", "url", s.config.BrokerURL)
		}
	}
	s.bus = bus.New(opts)
}

func (s *service) initGraph() {
	var oracle *insights.Oracle
	if s.config.OpenAIAPIKey != "" {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: s.config.OpenAIAPIKey, Model: s.config.OpenAIModel})
		if err != nil {
			s.logger.Warn("LLM client unavailable, AI insights disabled", "error", err)
		} else {
			oracle = insights.New(client, s.cache, insights.Options{Model: client.Model(), Logger: s.logger})
		}
	}

	csv := connectors.NewCSVConnector(nil)
	csv.CredentialsFile = s.config.GoogleCredentialsFile
	registry := connectors.NewRegistry(
		csv,
		connectors.NewSQLConnector(),
		connectors.NewSheetsConnector(s.config.GoogleCredentialsFile),
		connectors.NewAirtableConnector(s.config.AirtableAPIKey),
		connectors.NewAPIConnector(),
	)

	s.board = agents.NewStatusBoard(nil, agents.DefaultAgentIDs...)
	deps := agents.Deps{
		Store:          s.store,
		Bus:            s.bus,
		Cache:          s.cache,
		Oracle:         oracle,
		Connectors:     registry,
		Board:          s.board,
		RetryBaseDelay: s.config.RetryBaseDelay,
		Logger:         s.logger,
		Metrics:        s.metrics,
	}
	s.graph = agents.NewGraph(deps, agents.NewSet(deps, agents.Config{}))
	s.analytics = handlers.NewAnalytics(s.base, s.graph, s.store, s.logger.Slog())

	if s.config.MonitorInterval > 0 {
		s.scheduler = monitor.NewScheduler(s.store, s.graph.Agents().KPI, s.config.MonitorInterval, s.logger)
	}
}

// initRouter creates the gin engine, applies middleware and registers
// every route.
func (s *service) initRouter() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware(ServiceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Analytics:      s.analytics,
		Graph:          s.graph,
		Bus:            s.bus,
		DB:             s.store,
		Cache:          s.cache,
		Board:          s.board,
		Metrics:        promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
		AllowedOrigins: middleware.Origins(s.config.AllowedOrigins),
		Logger:         s.logger.Slog(),
	}, s.opts)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
