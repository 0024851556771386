package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/analytics"
	"github.com/outlawai/outlaw-service/batch"
	"github.com/outlawai/outlaw-service/cache"
	"github.com/outlawai/outlaw-service/config"
	"github.com/outlawai/outlaw-service/cron"
	"github.com/outlawai/outlaw-service/dataset"
	"github.com/outlawai/outlaw-service/health"
	"github.com/outlawai/outlaw-service/legal"
	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/metrics"
	"github.com/outlawai/outlaw-service/middleware"
	"github.com/outlawai/outlaw-service/ratelimit"
	"github.com/outlawai/outlaw-service/render"
	"github.com/outlawai/outlaw-service/server"
	"github.com/outlawai/outlaw-service/tls"
	"github.com/outlawai/outlaw-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	defaultStartTimeout    = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Service owns the full component graph. Every dependency is wired
// explicitly in the constructor; components never look each other up at
// runtime. Optional components (metrics, health, cache, cron) stay nil
// when disabled in config and every consumer tolerates that.
type Service struct {
	ctx        context.Context
	cancel     context.CancelFunc
	configPath string

	config      types.ConfigManager
	logger      types.LoggerManager
	router      *server.Router
	metrics     types.MetricsManager
	health      types.HealthManager
	cache       types.CacheManager
	limiter     types.RateLimiter
	analytics   *analytics.Collector
	dataset     types.DatasetManager
	lookup      *legal.GovinfoClient
	engine      *legal.Engine
	dispatcher  types.BatchDispatcher
	renderer    *render.Renderer
	cron        types.CronManager
	middlewares types.MiddlewareManager
	tlsManager  types.TLSManager
	handlers    *Handlers
	httpServer  *server.HTTPServer

	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	startTimeout    time.Duration
	shutdownTimeout time.Duration
}

// NewService assembles the service from a config file path. An empty
// path runs on built-in defaults.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, types.Errorf(types.ErrConfigNotFound, "config file %s is not accessible", configPath)
		}
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	svc := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configPath:      configPath,
		done:            make(chan struct{}),
		startTimeout:    defaultStartTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}
	svc.state.Store(StateStopped)

	if err := svc.buildComponents(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to assemble service")
	}

	return svc, nil
}

func (s *Service) buildComponents() error {
	configManager, err := config.NewConfigurationManager(s.ctx, s.configPath)
	if err != nil {
		return err
	}
	s.config = configManager

	loggerManager, err := logger.NewManager(s.ctx, configManager)
	if err != nil {
		return err
	}
	s.logger = loggerManager

	cfg := configManager.GetConfig()

	router, err := server.NewRouter()
	if err != nil {
		return err
	}
	s.router = router

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(s.ctx, configManager, loggerManager)
		if err != nil {
			return err
		}
		s.metrics = metricsManager
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err := health.NewManager(s.ctx, configManager, loggerManager, router)
		if err != nil {
			return err
		}
		s.health = healthManager
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		cacheManager, err := cache.NewCacheManager(s.ctx, configManager, loggerManager, s.metrics, s.health)
		if err != nil {
			return err
		}
		s.cache = cacheManager
	}

	limiter, err := ratelimit.NewSlidingWindowLimiter(cfg.RateLimit, loggerManager)
	if err != nil {
		return err
	}
	s.limiter = limiter
	if s.health != nil {
		s.health.RegisterChecker("ratelimit", limiter.HealthCheck)
	}

	s.analytics = analytics.NewCollector(s.cache)

	datasetConfig := cfg.Dataset
	if datasetConfig == nil {
		datasetConfig = &types.DatasetConfig{}
	}
	store, err := dataset.NewStore(s.ctx, loggerManager, datasetConfig, s.health)
	if err != nil {
		return err
	}
	s.dataset = store

	lookup, err := legal.NewGovinfoClient(cfg.Lookup, loggerManager, s.metrics)
	if err != nil {
		return err
	}
	s.lookup = lookup
	if s.health != nil {
		s.health.RegisterChecker("lookup", lookup.HealthCheck)
	}

	cacheTTL := time.Hour
	if cfg.Cache != nil && cfg.Cache.DefaultTTL > 0 {
		cacheTTL = cfg.Cache.DefaultTTL
	}
	engine := legal.NewEngine(s.cache, lookup, s.dataset, cacheTTL, loggerManager, s.metrics)
	s.engine = engine

	dispatcher, err := batch.NewDispatcher(cfg.Batch, loggerManager, s.metrics,
		func(ctx context.Context, _ int, input *types.AnalysisRequest) (*types.Report, error) {
			return engine.Analyze(ctx, input)
		})
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher

	s.renderer = render.NewRenderer(loggerManager)

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(s.ctx, configManager, loggerManager, s.metrics, s.health)
		if err != nil {
			return err
		}
		s.cron = cronManager
	}

	middlewareManager, err := middleware.NewManager(s.ctx, configManager, loggerManager, s.metrics, limiter)
	if err != nil {
		return err
	}
	s.middlewares = middlewareManager

	tlsManager, err := tls.NewCertManager(s.ctx, loggerManager, configManager)
	if err != nil {
		return err
	}
	s.tlsManager = tlsManager

	s.handlers = NewHandlers(loggerManager, cfg.Version,
		engine, dispatcher, s.renderer, s.analytics, s.cache, limiter, s.dataset)
	s.handlers.RegisterRoutes(router)

	httpServer, err := server.NewHTTPServer(s.ctx, configManager, loggerManager, s.metrics, middlewareManager, tlsManager, router)
	if err != nil {
		return err
	}
	s.httpServer = httpServer

	return nil
}

// Start brings every component up and then blocks until the service is
// stopped by a signal, a cancelled parent context, or an explicit Stop.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = types.NewErrorf("service panicked: %v", r)
				s.setState(StateStopped)
			}
		}()
		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	startCtx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(startCtx); err != nil {
		s.stopComponents()
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)

	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	cfg := s.config.GetConfig()
	s.logger.Info("Service started",
		zap.String("name", cfg.Name),
		zap.String("version", cfg.Version))

	<-s.done

	s.logger.Info("Service shutting down")

	err := s.stopComponents()
	s.wg.Wait()
	s.setState(StateStopped)

	if err != nil {
		return types.WrapError(err, "shutdown completed with errors")
	}

	s.logger.Info("Service stopped")

	return nil
}

// Stop initiates shutdown. The Start call unblocks and performs the
// actual teardown.
func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	close(s.done)

	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) startComponents(ctx context.Context) error {
	steps := []struct {
		name  string
		start func() error
	}{
		{"config", s.config.Start},
		{"logger", s.logger.Start},
		{"metrics", s.startMetrics},
		{"health", s.startOptional(s.health)},
		{"cache", s.startOptional(s.cache)},
		{"dataset", s.dataset.Start},
		{"middlewares", s.middlewares.RegisterMiddlewares},
		{"cron", s.startCron},
		{"tls", s.tlsManager.Start},
		{"http_server", s.httpServer.Start},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return types.Errorf(types.ErrComponentStartFailed, "start deadline reached before %s", step.name)
		}

		if err := step.start(); err != nil {
			return types.WrapError(err, "failed to start "+step.name)
		}

		s.logger.Debug("Component ready", zap.String("component", step.name))
	}

	return nil
}

func (s *Service) startOptional(component types.LifecycleManager) func() error {
	return func() error {
		if component == nil {
			return nil
		}
		return component.Start()
	}
}

func (s *Service) startMetrics() error {
	if s.metrics == nil {
		return nil
	}

	if err := s.metrics.Start(); err != nil {
		return err
	}

	// Routes must exist before the HTTP server finalizes the table.
	s.metrics.RegisterRoutes(s.router)

	if err := s.metrics.RegisterSystemMetrics(); err != nil {
		s.logger.Warn("Failed to register system metrics", zap.Error(err))
	}
	if err := s.metrics.StartSystemCollection(); err != nil {
		s.logger.Warn("Failed to start system metric collection", zap.Error(err))
	}

	return nil
}

func (s *Service) startCron() error {
	if s.cron == nil {
		return nil
	}

	if err := s.cron.Start(); err != nil {
		return err
	}

	return s.registerCronJobs()
}

func (s *Service) registerCronJobs() error {
	if s.cache != nil {
		if err := s.cron.Add("cache_sweep", "0 */5 * * * *", func() {
			if removed := s.cache.Sweep(); removed > 0 {
				s.logger.Debug("Swept expired cache entries", zap.Int("removed", removed))
			}
		}); err != nil {
			return err
		}
	}

	if err := s.cron.Add("ratelimit_prune", "0 * * * * *", func() {
		if pruned := s.limiter.Prune(time.Now()); pruned > 0 {
			s.logger.Debug("Pruned idle rate limit clients", zap.Int("clients", pruned))
		}
	}); err != nil {
		return err
	}

	return nil
}

// stopComponents tears down in reverse start order: the server first so
// no new requests arrive, the logger last so teardown itself is logged.
// Components that never started are skipped.
func (s *Service) stopComponents() error {
	components := []struct {
		name      string
		component types.LifecycleManager
	}{
		{"http_server", s.httpServer},
		{"tls", s.tlsManager},
		{"cron", s.cron},
		{"dataset", s.dataset},
		{"cache", s.cache},
		{"health", s.health},
		{"metrics", s.metrics},
		{"logger", s.logger},
		{"config", s.config},
	}

	var firstErr error
	for _, entry := range components {
		if entry.component == nil || !entry.component.IsRunning() {
			continue
		}

		if err := entry.component.Stop(); err != nil {
			s.logger.Error("Component stop failed",
				zap.String("component", entry.name),
				zap.Error(err))
			if firstErr == nil {
				firstErr = types.WrapError(err, "failed to stop "+entry.name)
			}
		}
	}

	s.cancel()

	return firstErr
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			s.Stop()
		case <-s.done:
		}
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		if s.Stop() == nil {
			s.logger.Info("Parent context cancelled, stopping service")
		}
	case <-s.done:
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	return s.state.CompareAndSwap(s.getState(), newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
