package types

type AnalyticsCollector interface {
	RecordRequest()
	Snapshot() AnalyticsSnapshot
}

type AnalyticsSnapshot struct {
	TotalRequests uint64     `json:"total_requests"`
	CacheStats    CacheStats `json:"cache_stats"`
	UptimeSeconds float64    `json:"uptime_seconds"`
}
