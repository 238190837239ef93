package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/Stochify/vizhost/internal/api/http"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/api/middleware"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/api/ws"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/library"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/pipeline"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/router"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sanitize"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/tracing"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	pipeline *pipeline.Orchestrator
	registry *library.Registry
	runtime  *sandbox.Runtime
	pool     *sandbox.Pool
	tracer   *tracing.Tracer
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	config   *config.Config
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger = logging.OrNop(logger)
	logger.Info("Initializing vizhost",
		zap.String("port", cfg.Server.Port),
		zap.String("container", cfg.Sandbox.ContainerID),
		zap.String("import_policy", cfg.Sandbox.ImportPolicy),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("vizhost", logger)

	registry, remote, err := newRegistry(cfg.Libraries, metrics, logger)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	policy, err := sanitize.ParsePolicy(cfg.Sandbox.ImportPolicy)
	if err != nil {
		tracer.Close()
		return nil, err
	}
	sanitizer := sanitize.New(sanitize.Options{
		Policy:      policy,
		ContainerID: cfg.Sandbox.ContainerID,
	})
	rt := router.New(registry.Catalog())

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Sandbox.Timeout

	h := host.New(cfg.Sandbox.ContainerID, logger)
	runtime, err := sandbox.New(sandboxCfg,
		sandbox.WithHost(h),
		sandbox.WithRegistry(registry),
		sandbox.WithLogger(logger),
	)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	pool, err := sandbox.NewPool(sandboxCfg, cfg.Sandbox.PoolSize, registry, logger)
	if err != nil {
		runtime.Close()
		tracer.Close()
		return nil, fmt.Errorf("create sandbox pool: %w", err)
	}

	orch, err := pipeline.New(pipeline.Deps{
		Sanitizer: sanitizer,
		Router:    rt,
		Loader:    registry,
		Runtime:   runtime,
		Host:      h,
	},
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithTracer(tracer),
	)
	if err != nil {
		pool.Close()
		runtime.Close()
		tracer.Close()
		return nil, err
	}

	handlers := apihttp.NewHandlers(orch, registry, pool, sanitizer, rt, metrics, logger).
		WithBreaker(remote.Breaker())
	wsHandler := ws.NewHandler(orch, metrics, logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(tracing.HTTPMiddleware(tracer))
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	if cfg.RateLimit.Enabled {
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		engine.Use(middleware.RateLimit(limits))
		logger.Info("Rate limiting enabled",
			zap.Int("rps", limits.RequestsPerSecond),
			zap.Int("burst", limits.Burst),
		)
	}

	// skeleton scripts and the demo snippet
	if cfg.Libraries.StaticRoot != "" {
		engine.Static(library.StaticPrefix, cfg.Libraries.StaticRoot)
	}

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", monitoring.Handler(metrics))

	v1 := engine.Group("/v1")
	{
		v1.POST("/visualizations", handlers.SubmitVisualization)
		v1.GET("/state", handlers.GetState)
		v1.PUT("/state/mode", handlers.SetMode)
		v1.GET("/container", handlers.QueryContainer)
		v1.GET("/libraries", handlers.ListLibraries)
		v1.POST("/sandbox/check", handlers.CheckSnippet)
		v1.GET("/metrics", handlers.GetMetricsJSON)
		v1.GET("/stream", wsHandler.HandleConnection)
	}

	logger.Info("Server initialized successfully")

	return &Server{
		router:   engine,
		pipeline: orch,
		registry: registry,
		runtime:  runtime,
		pool:     pool,
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}, nil
}

// newRegistry builds the library registry: remote locators over HTTP, the
// rest from the static root.
func newRegistry(cfg config.LibraryConfig, metrics *monitoring.Metrics, logger *logging.Logger) (*library.Registry, *library.HTTPFetcher, error) {
	catalog := library.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := library.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		catalog = c
	}

	allow, err := library.NewAllowlist(cfg.AllowedHosts)
	if err != nil {
		return nil, nil, fmt.Errorf("library allowlist: %w", err)
	}

	httpCfg := library.DefaultHTTPConfig()
	httpCfg.RPS = cfg.FetchRPS
	remote := library.NewHTTPFetcher(httpCfg)
	fetcher := library.MultiFetcher{
		Remote: remote,
		Local:  library.NewLocalFetcher(cfg.StaticRoot),
	}

	return library.NewRegistry(fetcher,
		library.WithCatalog(catalog),
		library.WithAllowlist(allow),
		library.WithFetchTimeout(cfg.FetchTimeout),
		library.WithMetrics(metrics),
		library.WithLogger(logger),
	), remote, nil
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Pipeline returns the orchestrator behind the API
func (s *Server) Pipeline() *pipeline.Orchestrator {
	return s.pipeline
}

// Run serves HTTP until ctx is cancelled or the listener fails. The demo
// snippet, when enabled, is submitted once the listener is up so that its
// skeleton and module fetches can reach /static.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	if s.config.Demo.Enabled && s.config.Demo.Path != "" {
		go s.runDemo(ctx)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) runDemo(ctx context.Context) {
	out, err := s.pipeline.RunDemo(ctx, s.config.Demo.Path)
	if err != nil {
		s.logger.Warn("Demo snippet unavailable", zap.String("path", s.config.Demo.Path), zap.Error(err))
		return
	}
	s.logger.Info("Demo snippet settled",
		zap.String("status", string(out.Status)),
		zap.String("error", out.ErrorMessage),
	)
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sandbox pool: %w", err))
	}
	if err := s.runtime.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sandbox: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown incomplete", zap.Error(err))
		return err
	}
	s.logger.Info("Server shutdown complete")
	return nil
}
