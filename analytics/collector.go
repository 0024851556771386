package analytics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/outlawai/outlaw-service/types"
)

// Collector tracks process-wide request totals and uptime. The counter is
// atomic, so snapshot reads never block the request hot path.
type Collector struct {
	totalRequests atomic.Uint64
	startedAt     time.Time
	cache         types.CacheManager
	nowFunc       func() time.Time
}

func NewCollector(cache types.CacheManager) *Collector {
	return &Collector{
		startedAt: time.Now(),
		cache:     cache,
		nowFunc:   time.Now,
	}
}

// RecordRequest counts one admitted top-level request. A batch call counts
// once for the call itself, not once per case.
func (c *Collector) RecordRequest() {
	c.totalRequests.Add(1)
}

func (c *Collector) Snapshot() types.AnalyticsSnapshot {
	uptime := c.nowFunc().Sub(c.startedAt).Seconds()

	snapshot := types.AnalyticsSnapshot{
		TotalRequests: c.totalRequests.Load(),
		UptimeSeconds: math.Round(uptime*100) / 100,
	}

	if c.cache != nil {
		snapshot.CacheStats = c.cache.Stats()
	}

	return snapshot
}
