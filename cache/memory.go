package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxTTL          = 24 * time.Hour
	DefaultTTL      = 1 * time.Hour
	DefaultCapacity = 1000
)

type MemoryConfig struct {
	Capacity      int    `json:"capacity"`
	SweepInterval string `json:"sweep_interval"`
}

// entry is a single cached value. expiresAt is absolute from insertion;
// access refreshes recency only, never the deadline.
type entry struct {
	key            string
	value          interface{}
	insertedAt     time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time
}

// MemoryCache is a bounded LRU store with TTL expiry. Recency order lives in
// a doubly linked list: front is most recently accessed, back is the
// eviction victim. Entries that are never read keep insertion order, so
// eviction ties resolve to the earliest inserted entry.
type MemoryCache struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *MemoryConfig
	logger          types.Logger
	health          types.HealthManager
	items           map[string]*list.Element
	order           *list.List
	hits            uint64
	misses          uint64
	evictions       uint64
	expirations     uint64
	mu              sync.Mutex
	state           atomic.Value
	entryPool       sync.Pool
	nowFunc         func() time.Time
	shutdownTimeout time.Duration
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig, health types.HealthManager) (types.CacheManager, error) {
	var memConfig = &MemoryConfig{
		Capacity:      DefaultCapacity,
		SweepInterval: "5m",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	if memConfig.Capacity <= 0 {
		memConfig.Capacity = DefaultCapacity
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:             cacheCtx,
		cancel:          cancel,
		logger:          logger,
		health:          health,
		config:          memConfig,
		items:           make(map[string]*list.Element, memConfig.Capacity),
		order:           list.New(),
		nowFunc:         time.Now,
		shutdownTimeout: 10 * time.Second,
		entryPool: sync.Pool{
			New: func() interface{} {
				return &entry{}
			},
		},
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	now := m.nowFunc()

	m.mu.Lock()
	elem, exists := m.items[key]
	if !exists {
		m.mu.Unlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	ent := elem.Value.(*entry)
	if !now.Before(ent.expiresAt) {
		m.removeElementUnsafe(elem)
		m.mu.Unlock()
		atomic.AddUint64(&m.expirations, 1)
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	ent.lastAccessedAt = now
	m.order.MoveToFront(elem)
	value := ent.value
	m.mu.Unlock()

	atomic.AddUint64(&m.hits, 1)

	return value, true
}

func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		m.logger.Error("Attempted to set cache entry with empty key")
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.items[key]; exists {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.insertedAt = now
		ent.lastAccessedAt = now
		ent.expiresAt = now.Add(ttl)
		m.order.MoveToFront(elem)
		return nil
	}

	if m.order.Len() >= m.config.Capacity {
		m.evictOneUnsafe(now)
	}

	ent := m.entryPool.Get().(*entry)
	ent.key = key
	ent.value = value
	ent.insertedAt = now
	ent.lastAccessedAt = now
	ent.expiresAt = now.Add(ttl)

	m.items[key] = m.order.PushFront(ent)

	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, exists := m.items[key]; exists {
		m.removeElementUnsafe(elem)
	}

	return nil
}

func (m *MemoryCache) Clear() error {
	m.mu.Lock()

	cleared := m.order.Len()
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		m.returnEntryToPool(elem.Value.(*entry))
	}
	m.items = make(map[string]*list.Element, m.config.Capacity)
	m.order.Init()

	m.mu.Unlock()

	m.logger.Info("Cache cleared", zap.Int("cleared_entries", cleared))

	return nil
}

// Sweep removes expired entries. Expiry correctness never depends on it;
// Get and Set enforce the deadline on their own. Sweep only bounds the
// memory held by entries nobody reads again.
func (m *MemoryCache) Sweep() int {
	now := m.nowFunc()

	m.mu.Lock()

	var expired []*list.Element
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		if !now.Before(elem.Value.(*entry).expiresAt) {
			expired = append(expired, elem)
		}
	}

	for _, elem := range expired {
		m.removeElementUnsafe(elem)
	}

	m.mu.Unlock()

	count := len(expired)
	if count > 0 {
		atomic.AddUint64(&m.expirations, uint64(count))
		m.logger.Debug("Sweep completed", zap.Int("expired_entries", count))
	}

	return count
}

func (m *MemoryCache) Stats() types.CacheStats {
	m.mu.Lock()
	size := m.order.Len()
	m.mu.Unlock()

	return types.CacheStats{
		Size:     size,
		Capacity: m.config.Capacity,
	}
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.health != nil {
		m.health.RegisterChecker("cache", m.healthCheck)
	}

	m.logger.Info("Memory cache started",
		zap.Int("capacity", m.config.Capacity))

	return nil
}

func (m *MemoryCache) healthCheck(ctx context.Context) types.HealthCheck {
	stats := m.Stats()

	status := types.StatusHealthy
	message := "cache operational"
	if !m.IsRunning() {
		status = types.StatusUnhealthy
		message = "cache not running"
	}

	return types.HealthCheck{
		Name:      "cache",
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"size":        stats.Size,
			"capacity":    stats.Capacity,
			"hits":        atomic.LoadUint64(&m.hits),
			"misses":      atomic.LoadUint64(&m.misses),
			"evictions":   atomic.LoadUint64(&m.evictions),
			"expirations": atomic.LoadUint64(&m.expirations),
		},
	}
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory cache is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.mu.Lock()

		entriesCount := m.order.Len()
		for elem := m.order.Front(); elem != nil; elem = elem.Next() {
			m.returnEntryToPool(elem.Value.(*entry))
		}
		m.items = make(map[string]*list.Element)
		m.order.Init()

		m.mu.Unlock()

		m.logger.Info("Memory cache cleared",
			zap.Int("cleared_entries", entriesCount))
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			m.logger.Warn("Memory cache stop timeout")
		default:
			m.logger.Error("Error during memory cache shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory cache stopped gracefully")
	}

	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

// evictOneUnsafe frees one slot. The back of the list is removed: when it is
// already expired this is an expiry removal, otherwise it is the
// least-recently-accessed live entry.
func (m *MemoryCache) evictOneUnsafe(now time.Time) {
	victim := m.order.Back()
	if victim == nil {
		return
	}

	expired := !now.Before(victim.Value.(*entry).expiresAt)
	m.removeElementUnsafe(victim)

	if expired {
		atomic.AddUint64(&m.expirations, 1)
	} else {
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryCache) removeElementUnsafe(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(m.items, ent.key)
	m.order.Remove(elem)
	m.returnEntryToPool(ent)
}

func (m *MemoryCache) returnEntryToPool(ent *entry) {
	if ent == nil {
		return
	}

	ent.key = ""
	ent.value = nil
	ent.insertedAt = time.Time{}
	ent.lastAccessedAt = time.Time{}
	ent.expiresAt = time.Time{}

	m.entryPool.Put(ent)
}
