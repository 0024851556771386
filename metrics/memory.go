package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
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

type MemoryConfig struct {
	Path            string        `yaml:"path" json:"path"`
	MaxMetrics      int           `yaml:"max_metrics" json:"max_metrics"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// MemoryMetrics is the in-process backend used when no Prometheus scraper
// exists. Metrics are served as JSON from the configured path.
type MemoryMetrics struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *MemoryConfig
	counters        map[string]*MemoryCounter
	gauges          map[string]*MemoryGauge
	histograms      map[string]*MemoryHistogram
	summaries       map[string]*MemorySummary
	systemMetrics   atomic.Pointer[SystemMetricsCollector]
	state           atomic.Value
	mu              sync.RWMutex
	collections     uint64
	errors          uint64
	stopCleanup     chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	var memConfig = &MemoryConfig{
		Path:            "/metrics",
		MaxMetrics:      10000,
		CleanupInterval: time.Hour,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	memoryCtx, cancel := context.WithCancel(ctx)

	metrics := &MemoryMetrics{
		ctx:             memoryCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		counters:        make(map[string]*MemoryCounter),
		gauges:          make(map[string]*MemoryGauge),
		histograms:      make(map[string]*MemoryHistogram),
		summaries:       make(map[string]*MemorySummary),
		stopCleanup:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	metrics.state.Store(MemoryStateStopped)

	return metrics, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory metrics is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			go m.cleanupRoutine()
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.setState(MemoryStateStopped)
			return types.NewErrorf("memory metrics start timeout")
		default:
			m.setState(MemoryStateStopped)
			return types.WrapError(err, "failed to start memory metrics")
		}
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory metrics is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
		m.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	if collector := m.systemMetrics.Load(); collector != nil {
		g.Go(func() error {
			if err := collector.Stop(); err != nil {
				m.logger.Error("Failed to stop system collection", zap.Error(err))
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			close(m.stopCleanup)
			return m.cleanup()
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.logger.Warn("Memory metrics stop timeout, some components may not have stopped gracefully")
		default:
			m.logger.Error("Error during memory metrics shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory metrics stopped gracefully")
	}

	m.systemMetrics.Store(nil)
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryMetrics) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryMetrics) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryMetrics) cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]*MemoryCounter)
	m.gauges = make(map[string]*MemoryGauge)
	m.histograms = make(map[string]*MemoryHistogram)
	m.summaries = make(map[string]*MemorySummary)

	m.logger.Info("Memory metrics cleaned up")
	return nil
}

func (m *MemoryMetrics) RegisterRoutes(router types.HTTPRouter) {
	config := &types.RouteConfig{
		Timeout:             5 * time.Second,
		DisabledMiddlewares: []string{"cors", "logging", "body_limit"},
		Doc: &types.DocConfig{
			Title:       "Service metrics",
			Description: "Collected metrics as JSON",
			Tag:         "System",
		},
	}

	router.Add("GET", m.config.Path, m.handleMetrics, config)
	router.Add("GET", m.config.Path+"/stats", m.handleStats, config)
}

func (m *MemoryMetrics) handleMetrics(ctx *fasthttp.RequestCtx) {
	if !m.IsRunning() {
		utils.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "Service Unavailable", types.ErrMetricsNotRunning.Error())
		return
	}

	metricsData, err := m.GetMetrics()
	if err != nil {
		atomic.AddUint64(&m.errors, 1)
		utils.CreateErrorResponse(ctx)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(metricsData)
}

func (m *MemoryMetrics) handleStats(ctx *fasthttp.RequestCtx) {
	if !m.IsRunning() {
		utils.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "Service Unavailable", types.ErrMetricsNotRunning.Error())
		return
	}

	statsData, err := m.GetStats()
	if err != nil {
		atomic.AddUint64(&m.errors, 1)
		utils.CreateErrorResponse(ctx)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(statsData)
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	if !m.IsRunning() {
		return &MemoryCounter{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{
		name:   name,
		labels: labels,
	}
	m.counters[key] = counter

	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.IsRunning() {
		return &MemoryGauge{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{
		name:   name,
		labels: labels,
	}
	m.gauges[key] = gauge

	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.IsRunning() {
		return &MemoryHistogram{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: make([]float64, len(buckets)),
		counts:  make([]uint64, len(buckets)+1),
	}

	copy(histogram.buckets, buckets)

	m.histograms[key] = histogram

	return histogram
}

func (m *MemoryMetrics) Summary(name string, objectives map[float64]float64, labels map[string]string) types.Summary {
	if !m.IsRunning() {
		return &MemorySummary{}
	}

	key := buildMemoryKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if summary, exists := m.summaries[key]; exists {
		return summary
	}

	summary := &MemorySummary{
		name:       name,
		labels:     labels,
		objectives: objectives,
	}
	m.summaries[key] = summary

	m.logger.Debug("Summary created", zap.String("name", name))
	return summary
}

func (m *MemoryMetrics) RegisterSystemMetrics() error {
	state := m.getState()
	if state != MemoryStateRunning && state != MemoryStateStarting {
		return types.ErrMetricsNotRunning
	}

	m.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"})
	m.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_alloc"})
	m.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"})
	m.Gauge("system_memory_usage_bytes", map[string]string{"type": "stack_inuse"})
	m.Gauge("system_goroutines_count", nil)
	m.Gauge("system_heap_objects_count", nil)
	m.Gauge("system_uptime_seconds", nil)
	m.Gauge("system_cpu_usage_percent", nil)
	m.Gauge("system_last_gc_timestamp", nil)
	m.Histogram("system_gc_duration_seconds", []float64{0.001, 0.01, 0.1, 1.0}, nil)

	m.logger.Info("Memory system metrics registered")
	return nil
}

func (m *MemoryMetrics) StartSystemCollection() error {
	if collector := m.systemMetrics.Load(); collector != nil {
		return collector.Start()
	}

	collector := NewSystemMetricsCollector(m.ctx, m.logger, m)
	m.systemMetrics.Store(collector)
	return collector.Start()
}

func (m *MemoryMetrics) StopSystemCollection() error {
	if collector := m.systemMetrics.Load(); collector != nil {
		return collector.Stop()
	}
	return nil
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	metrics := make([]types.MetricValue, 0,
		len(m.counters)+len(m.gauges)+len(m.histograms)+len(m.summaries))

	for _, counter := range m.counters {
		metrics = append(metrics, types.MetricValue{
			Name:      counter.name,
			Type:      "counter",
			Value:     counter.Get(),
			Labels:    counter.labels,
			Timestamp: now,
		})
	}

	for _, gauge := range m.gauges {
		metrics = append(metrics, types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: now,
		})
	}

	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: now,
		})
	}

	for _, summary := range m.summaries {
		metrics = append(metrics, types.MetricValue{
			Name:      summary.name,
			Type:      "summary",
			Value:     summary.GetSum(),
			Labels:    summary.labels,
			Timestamp: now,
		})
	}

	atomic.AddUint64(&m.collections, 1)
	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		SummaryMetrics:   len(m.summaries),
		LastUpdate:       time.Now(),
		Collections:      atomic.LoadUint64(&m.collections),
		Errors:           atomic.LoadUint64(&m.errors),
	}

	return utils.Marshal(stats)
}

func buildMemoryKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, name...)

	for k, v := range labels {
		buf = append(buf, '_')
		buf = append(buf, k...)
		buf = append(buf, '_')
		buf = append(buf, v...)
	}

	return utils.Intern(buf)
}

func (m *MemoryMetrics) cleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryMetrics) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalMetrics := len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries)
	if totalMetrics <= m.config.MaxMetrics {
		return
	}

	toRemove := totalMetrics - m.config.MaxMetrics
	removed := 0

	for key := range m.counters {
		if removed >= toRemove {
			break
		}
		delete(m.counters, key)
		removed++
	}

	m.logger.Debug("Memory metrics cleanup completed", zap.Int("removed", removed))
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *MemoryCounter) Add(value float64) {
	atomic.AddUint64(&c.value, uint64(value))
}

func (c *MemoryCounter) Get() float64 {
	return float64(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	g.Add(1)
}

func (g *MemoryGauge) Dec() {
	g.Add(-1)
}

func (g *MemoryGauge) Add(value float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		newValue := math.Float64bits(math.Float64frombits(old) + value)
		if atomic.CompareAndSwapUint64(&g.value, old, newValue) {
			return
		}
	}
}

func (g *MemoryGauge) Sub(value float64) {
	g.Add(-value)
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

// Observe keeps the sum in microsecond units so it fits a single atomic word.
func (h *MemoryHistogram) Observe(value float64) {
	if h == nil || len(h.buckets) == 0 || len(h.counts) == 0 {
		return
	}

	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1000000))

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	if bucketIndex < len(h.counts) {
		atomic.AddUint64(&h.counts[bucketIndex], 1)
	}
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1000000
}

type MemorySummary struct {
	name       string
	labels     map[string]string
	objectives map[float64]float64
	sum        uint64
	count      uint64
}

func (s *MemorySummary) Observe(value float64) {
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, uint64(value*1000000))
}

func (s *MemorySummary) ObserveDuration(start time.Time) {
	s.Observe(time.Since(start).Seconds())
}

func (s *MemorySummary) GetCount() uint64 {
	return atomic.LoadUint64(&s.count)
}

func (s *MemorySummary) GetSum() float64 {
	return float64(atomic.LoadUint64(&s.sum)) / 1000000
}
