package types

import (
	"time"
)

type RateLimiter interface {
	Allow(clientKey string, now time.Time) Decision
	Stats() RateLimiterStats
	Reset(clientKey string)
	ResetAll()
	Prune(now time.Time) int
}

// Decision is the admission outcome for a single request. A denial is a
// normal result, not an error; RetryAfterSeconds is only meaningful when
// Admitted is false.
type Decision struct {
	Admitted          bool `json:"admitted"`
	Remaining         int  `json:"remaining"`
	RetryAfterSeconds int  `json:"retry_after_seconds"`
}

type RateLimiterStats struct {
	TrackedClients int `json:"tracked_clients"`
	MaxRequests    int `json:"max_requests"`
	WindowSeconds  int `json:"window_seconds"`
}
