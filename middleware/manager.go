package middleware

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

const (
	CacheSize      = 512
	MaxMiddlewares = 64
)

// Manager holds the weight-ordered middleware set and executes compiled
// chains per route. Middlewares registered with enabled: false stay
// available so routes can attach them through RouteConfig.Middlewares;
// removing the config block drops a middleware entirely.
type Manager struct {
	ctx                context.Context
	config             types.ConfigManager
	logger             types.Logger
	metrics            types.MetricsManager
	limiter            types.RateLimiter
	orderedMiddlewares []types.MiddlewareEntry
	defaultEnabledMask uint64
	nameToIndex        map[string]int
	mu                 sync.RWMutex
	maskCache          [CacheSize]*CacheEntry
	cacheIndex         map[string]int
	cacheSize          int32
	cacheMu            sync.RWMutex
	compiledChains     map[uint64]*CompiledChain
	chainsMu           sync.RWMutex
	initialized        int32
	middlewareMap      map[string]*types.MiddlewareEntry
	defaultOn          map[string]bool
	keyBuilderPool     sync.Pool
}

type CacheEntry struct {
	key  string
	mask uint64
	used int64
}

type CompiledChain struct {
	mask        uint64
	middlewares []types.Middleware
	handler     func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig)
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, limiter types.RateLimiter) (*Manager, error) {
	manager := &Manager{
		ctx:            ctx,
		config:         config,
		logger:         logger,
		metrics:        metrics,
		limiter:        limiter,
		nameToIndex:    make(map[string]int),
		cacheIndex:     make(map[string]int),
		compiledChains: make(map[uint64]*CompiledChain),
		middlewareMap:  make(map[string]*types.MiddlewareEntry),
		defaultOn:      make(map[string]bool),
		keyBuilderPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 128)
				return &buf
			},
		},
	}

	for i := 0; i < CacheSize; i++ {
		manager.maskCache[i] = &CacheEntry{}
	}

	return manager, nil
}

func (m *Manager) RegisterMiddlewares() error {
	middlewares := m.config.GetConfig().Middlewares
	if middlewares == nil || !middlewares.Enabled {
		m.logger.Warn("Middleware chain disabled, requests run bare handlers")
		return m.finalizeConfiguration()
	}

	if item := middlewares.Recovery; item != nil {
		if err := m.register(NewRecoveryMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.Metadata; item != nil {
		if err := m.register(NewMetadataMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.Logging; item != nil {
		if err := m.register(NewLoggingMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.CORS; item != nil {
		if err := m.register(NewCORSMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.RateLimit; item != nil && m.limiter != nil {
		if err := m.register(NewRateLimitMiddleware(m.config, m.logger, m.metrics, m.limiter), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.BodyLimit; item != nil {
		if err := m.register(NewBodyLimitMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	if item := middlewares.Compression; item != nil {
		if err := m.register(NewCompressionMiddleware(m.config, m.logger, m.metrics), item.Enabled); err != nil {
			return err
		}
	}

	return m.finalizeConfiguration()
}

// Register adds a custom middleware to the default chain. It must be
// called before RegisterMiddlewares finalizes the configuration.
func (m *Manager) Register(middleware types.Middleware) error {
	return m.register(middleware, true)
}

func (m *Manager) register(middleware types.Middleware, defaultOn bool) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.NewErrorf("cannot register middleware after finalization")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.middlewareMap) >= MaxMiddlewares {
		return types.NewErrorf("maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	name := middleware.Name()

	m.middlewareMap[name] = &types.MiddlewareEntry{
		Name:       name,
		Middleware: middleware,
		Weight:     middleware.Weight(),
	}
	m.defaultOn[name] = defaultOn

	m.logger.Info("Middleware registered",
		zap.String("middleware", name),
		zap.Bool("default", defaultOn))

	return nil
}

func (m *Manager) finalizeConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.NewErrorf("configuration already finalized")
	}

	weights := make(map[int]string)
	for name, entry := range m.middlewareMap {
		if existingName, exists := weights[entry.Weight]; exists {
			return types.NewErrorf("duplicate weight %d for middlewares '%s' and '%s'",
				entry.Weight, existingName, name)
		}
		weights[entry.Weight] = name
	}

	m.orderedMiddlewares = make([]types.MiddlewareEntry, 0, len(m.middlewareMap))
	for _, entry := range m.middlewareMap {
		m.orderedMiddlewares = append(m.orderedMiddlewares, *entry)
	}

	sort.Slice(m.orderedMiddlewares, func(i, j int) bool {
		return m.orderedMiddlewares[i].Weight < m.orderedMiddlewares[j].Weight
	})

	m.nameToIndex = make(map[string]int, len(m.orderedMiddlewares))
	m.defaultEnabledMask = 0
	for i, entry := range m.orderedMiddlewares {
		m.nameToIndex[entry.Name] = i
		if m.defaultOn[entry.Name] {
			m.defaultEnabledMask |= 1 << uint(i)
		}
	}

	m.middlewareMap = nil

	atomic.StoreInt32(&m.initialized, 1)

	return nil
}

func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		handler(ctx)
		return
	}

	mask := m.computeRouteMask(config)
	if mask == 0 {
		handler(ctx)
		return
	}

	if compiled := m.getCompiledChain(mask); compiled != nil {
		compiled.handler(ctx, handler, config)
	} else {
		m.executeAndCompile(ctx, handler, mask, config)
	}
}

func (m *Manager) computeRouteMask(config *types.RouteConfig) uint64 {
	if config == nil {
		return m.defaultEnabledMask
	}

	if len(config.Middlewares) == 0 && len(config.DisabledMiddlewares) == 0 {
		return m.defaultEnabledMask
	}

	cacheKey := m.buildCacheKey(config)

	if mask, found := m.getCachedMask(cacheKey); found {
		return mask
	}

	mask := m.calculateMask(config)
	m.setCachedMask(cacheKey, mask)

	return mask
}

func (m *Manager) getCachedMask(key string) (uint64, bool) {
	m.cacheMu.RLock()
	if idx, exists := m.cacheIndex[key]; exists {
		entry := m.maskCache[idx]
		if entry.key == key {
			atomic.StoreInt64(&entry.used, time.Now().UnixNano())
			mask := entry.mask
			m.cacheMu.RUnlock()
			return mask, true
		}
	}
	m.cacheMu.RUnlock()
	return 0, false
}

func (m *Manager) setCachedMask(key string, mask uint64) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if idx, exists := m.cacheIndex[key]; exists {
		entry := m.maskCache[idx]
		entry.mask = mask
		atomic.StoreInt64(&entry.used, time.Now().UnixNano())
		return
	}

	idx := m.findCacheSlot()
	entry := m.maskCache[idx]
	if entry.key != "" {
		delete(m.cacheIndex, entry.key)
	}

	entry.key = key
	entry.mask = mask
	atomic.StoreInt64(&entry.used, time.Now().UnixNano())
	m.cacheIndex[key] = idx
}

func (m *Manager) findCacheSlot() int {
	currentSize := atomic.LoadInt32(&m.cacheSize)

	if int(currentSize) < CacheSize {
		newSize := atomic.AddInt32(&m.cacheSize, 1)
		return int(newSize) - 1
	}

	oldestIdx := 0
	oldestTime := atomic.LoadInt64(&m.maskCache[0].used)

	for i := 1; i < CacheSize; i++ {
		used := atomic.LoadInt64(&m.maskCache[i].used)
		if used < oldestTime {
			oldestTime = used
			oldestIdx = i
		}
	}

	return oldestIdx
}

func (m *Manager) buildCacheKey(config *types.RouteConfig) string {
	buf := m.keyBuilderPool.Get().(*[]byte)
	defer func() {
		*buf = (*buf)[:0]
		m.keyBuilderPool.Put(buf)
	}()

	key := (*buf)[:0]

	key = append(key, "e:"...)
	for i, name := range config.Middlewares {
		if i > 0 {
			key = append(key, ',')
		}
		key = append(key, name...)
	}

	key = append(key, "|d:"...)
	for _, name := range config.DisabledMiddlewares {
		key = append(key, name...)
		key = append(key, ',')
	}

	return utils.Intern(key)
}

func (m *Manager) calculateMask(config *types.RouteConfig) uint64 {
	finalMask := m.defaultEnabledMask

	for _, name := range config.Middlewares {
		if index, exists := m.nameToIndex[name]; exists {
			finalMask |= 1 << uint(index)
		}
	}

	for _, name := range config.DisabledMiddlewares {
		if index, exists := m.nameToIndex[name]; exists {
			finalMask &= ^(1 << uint(index))
		}
	}

	return finalMask
}

func (m *Manager) getCompiledChain(mask uint64) *CompiledChain {
	m.chainsMu.RLock()
	chain := m.compiledChains[mask]
	m.chainsMu.RUnlock()
	return chain
}

func (m *Manager) executeAndCompile(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), mask uint64, config *types.RouteConfig) {
	m.mu.RLock()
	activeMiddlewares := make([]types.Middleware, 0, len(m.orderedMiddlewares))
	for i, entry := range m.orderedMiddlewares {
		if mask&(1<<uint(i)) != 0 {
			activeMiddlewares = append(activeMiddlewares, entry.Middleware)
		}
	}
	m.mu.RUnlock()

	compiledHandler := compileChain(activeMiddlewares)

	compiled := &CompiledChain{
		mask:        mask,
		middlewares: activeMiddlewares,
		handler:     compiledHandler,
	}

	m.chainsMu.Lock()
	m.compiledChains[mask] = compiled
	m.chainsMu.Unlock()

	compiledHandler(ctx, handler, config)
}

func compileChain(middlewares []types.Middleware) func(*fasthttp.RequestCtx, func(*fasthttp.RequestCtx), *types.RouteConfig) {
	if len(middlewares) == 0 {
		return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
			handler(ctx)
		}
	}

	return func(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
		var index int

		var next func(*fasthttp.RequestCtx)
		next = func(ctx *fasthttp.RequestCtx) {
			if index >= len(middlewares) {
				handler(ctx)
				return
			}

			mw := middlewares[index]
			index++
			mw.Handle(ctx, next, config)
		}

		next(ctx)
	}
}

func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orderedMiddlewares = nil
	m.nameToIndex = make(map[string]int)
	m.defaultEnabledMask = 0
	m.middlewareMap = make(map[string]*types.MiddlewareEntry)
	m.defaultOn = make(map[string]bool)

	m.cacheMu.Lock()
	for i := 0; i < CacheSize; i++ {
		m.maskCache[i] = &CacheEntry{}
	}
	m.cacheIndex = make(map[string]int)
	atomic.StoreInt32(&m.cacheSize, 0)
	m.cacheMu.Unlock()

	m.chainsMu.Lock()
	m.compiledChains = make(map[uint64]*CompiledChain)
	m.chainsMu.Unlock()

	atomic.StoreInt32(&m.initialized, 0)

	m.logger.Info("Middleware manager cleared")
}
