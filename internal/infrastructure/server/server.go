package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/DocRefine/backend/internal/api/http"
	"github.com/GriffinCanCode/DocRefine/backend/internal/api/middleware"
	"github.com/GriffinCanCode/DocRefine/backend/internal/api/ws"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/document"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/jobs"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/orchestrator"
	"github.com/GriffinCanCode/DocRefine/backend/internal/domain/suggestion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/cache"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/completion"
	"github.com/GriffinCanCode/DocRefine/backend/internal/providers/vectorsearch"
)

const redisDialTimeout = 5 * time.Second

// jobObserver forwards job transitions to metrics
type jobObserver struct {
	metrics *monitoring.Metrics
}

func (o jobObserver) Transition(kind string, to jobs.Status) {
	o.metrics.RecordJobTransition(kind, string(to))
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	engine  *gin.Engine
	http    *http.Server
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	cache   *cache.Tiered
	runner  *jobs.Runner
	router  *orchestrator.Router
	shadow  *orchestrator.Shadow

	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// New creates a new server instance
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Service:     "docrefine",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger creates a server that logs through logger
func NewWithLogger(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing DocRefine server",
		zap.String("port", cfg.Server.Port),
		zap.Bool("shared_cache", cfg.Redis.URL != ""),
		zap.Bool("vector_search", cfg.VectorSearch.Enabled),
		zap.Float64("shadow_sample_rate", cfg.Shadow.SampleRate),
	)

	// Metrics first; every other component reports into it
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("docrefine", logger.Component("tracing"))

	defaults, overrides := breakerSettings(cfg, metrics, logger.Component("breaker"))
	breakers := resilience.NewRegistry(defaults, overrides)
	retry, retryOverrides := retryPolicies(cfg)

	tiered, err := newCache(cfg, metrics, logger)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	store := jobs.NewStore(cfg.Jobs.PurgeTTL, logger.Component("jobs")).
		WithObserver(jobObserver{metrics: metrics})
	runner := jobs.NewRunner(store, jobs.RunnerConfig{
		Workers:    cfg.Jobs.Workers,
		QueueSize:  cfg.Jobs.QueueSize,
		JobTimeout: cfg.Jobs.Timeout,
	}, logger.Component("jobs"))

	// Jobs and local cache entries share one lifetime for their sweepers
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.RunSweeper(sweepCtx, cfg.Jobs.SweepInterval)
		}()
		go func() {
			defer wg.Done()
			tiered.RunPurger(sweepCtx, cfg.Cache.PurgeInterval)
		}()
		wg.Wait()
	}()

	client := completion.NewOpenAI(completion.Config{
		APIKey:         cfg.Completion.APIKey,
		BaseURL:        cfg.Completion.BaseURL,
		PrimaryModel:   cfg.Completion.PrimaryModel,
		SecondaryModel: cfg.Completion.SecondaryModel,
		EmbeddingModel: cfg.Completion.EmbeddingModel,
		MaxTokens:      cfg.Completion.MaxTokens,
		Temperature:    cfg.Completion.Temperature,
	}, logger.Component("completion"))
	if cfg.Completion.APIKey == "" {
		logger.Warn("No completion API key configured; requests will be served by heuristics")
	}

	var handlerOpts []apihttp.Option
	var searcher vectorsearch.Searcher
	if cfg.VectorSearch.Enabled {
		w, err := vectorsearch.NewWeaviate(vectorsearch.Config{
			Host:   cfg.VectorSearch.Host,
			Scheme: cfg.VectorSearch.Scheme,
			Class:  cfg.VectorSearch.Class,
		}, logger.Component("vectorsearch"))
		if err != nil {
			logger.Warn("Vector search disabled", zap.Error(err))
		} else {
			searcher = w
			handlerOpts = append(handlerOpts, apihttp.WithCheck(vectorsearch.Dependency, w.Ready))
		}
	}

	engine := suggestion.NewEngine(client, searcher, suggestion.Config{
		RetrievalLimit: cfg.VectorSearch.Limit,
	}, logger.Component("suggestion"))

	routerOpts := []orchestrator.Option{
		orchestrator.WithObserver(metrics),
		orchestrator.WithTracer(tracer),
	}

	var shadow *orchestrator.Shadow
	if cfg.Shadow.SampleRate > 0 {
		var sink orchestrator.ShadowSink = orchestrator.NewLogSink(logger.Logger)
		if cfg.Shadow.CollectorURL != "" {
			sink = orchestrator.NewHTTPSink(orchestrator.HTTPSinkConfig{
				URL:      cfg.Shadow.CollectorURL,
				RetryMax: 2,
				RPS:      50,
			})
		}
		shadow = orchestrator.NewShadow(orchestrator.ShadowConfig{
			SampleRate:      cfg.Shadow.SampleRate,
			Concurrency:     cfg.Shadow.Concurrency,
			Timeout:         cfg.Shadow.Timeout,
			MaxContentBytes: cfg.Router.AsyncThresholdBytes,
		}, engine, breakers, sink, metrics, logger.Logger)
		routerOpts = append(routerOpts, orchestrator.WithShadow(shadow))
		logger.Info("Shadow execution enabled",
			zap.Float64("sample_rate", cfg.Shadow.SampleRate),
			zap.Bool("collector", cfg.Shadow.CollectorURL != ""),
		)
	}

	router, err := orchestrator.NewRouter(orchestrator.Config{
		InlineTimeout:       cfg.Router.InlineTimeout,
		CodeVersion:         cfg.Router.CodeVersion,
		AsyncThresholdBytes: cfg.Router.AsyncThresholdBytes,
		MaxContentBytes:     cfg.Router.MaxContentBytes,
		ChunkBytes:          cfg.Router.ChunkBytes,
	}, orchestrator.Resilience{
		Breakers:       breakers,
		Cache:          tiered,
		Jobs:           runner,
		Retry:          retry,
		RetryOverrides: retryOverrides,
	}, engine, logger.Logger, routerOpts...)
	if err != nil {
		stopSweeper()
		tracer.Close()
		return nil, err
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	ginEngine := gin.New()

	// Add middleware
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(tracing.HTTPMiddleware(tracer))
	ginEngine.Use(monitoring.Middleware(metrics))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	ginEngine.Use(middleware.CORS(corsCfg))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Int("global_rps", cfg.RateLimit.GlobalRPS),
		)
		ginEngine.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.GlobalRPS,
			Burst:             cfg.RateLimit.GlobalRPS,
		}))
		ginEngine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apihttp.NewHandlers(router, document.NewExtractor(cfg.Router.MaxContentBytes), metrics, logger.Logger, handlerOpts...).
		Register(ginEngine)
	ws.NewHandler(router, metrics, ws.Config{AllowedOrigins: cfg.Server.AllowedOrigins}, logger.Logger).
		Register(ginEngine)

	logger.Info("Server initialized successfully")

	return &Server{
		config:  cfg,
		logger:  logger,
		engine:  ginEngine,
		metrics: metrics,
		tracer:  tracer,
		cache:   tiered,
		runner:  runner,
		router:  router,
		shadow:  shadow,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           ginEngine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		stopSweeper: stopSweeper,
		sweeperDone: sweeperDone,
	}, nil
}

// newCache builds the tiered cache. An unreachable Redis is logged and the
// cache runs local-only.
func newCache(cfg *config.Config, metrics *monitoring.Metrics, logger *logging.Logger) (*cache.Tiered, error) {
	opts := cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: cfg.Cache.DefaultTTL,
		ShortTTL:   cfg.Cache.ShortTTL,
		LongTTL:    cfg.Cache.LongTTL,
		Observer:   monitoring.NewCacheObserver(metrics),
	}

	if cfg.Redis.URL == "" {
		return cache.New(opts, nil, logger.Component("cache")), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	shared, err := cache.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix, cfg.Redis.CompressThreshold)
	if err != nil {
		logger.Warn("Shared cache unavailable, continuing local-only", zap.Error(err))
		return cache.New(opts, nil, logger.Component("cache")), nil
	}
	logger.Info("Connected to shared cache")
	return cache.New(opts, shared, logger.Component("cache")), nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run starts the HTTP server and blocks until it stops. A graceful
// shutdown returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight work and releases
// every resource. ctx bounds the whole sequence.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("job runner shutdown: %w", err))
	}
	if s.shadow != nil {
		if err := s.shadow.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shadow drain: %w", err))
		}
	}

	s.stopSweeper()
	select {
	case <-s.sweeperDone:
	case <-ctx.Done():
	}

	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}
	s.tracer.Close()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Shutdown complete")
	_ = s.logger.Sync()
	return nil
}
