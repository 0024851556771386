package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
)

const (
	DefaultMaxRequests   = 100
	DefaultWindowSeconds = 60
)

// clientWindow holds the request timestamps for one client that still fall
// inside the trailing window, oldest first.
type clientWindow struct {
	stamps []time.Time
}

// SlidingWindowLimiter admits at most maxRequests per client over any
// trailing window interval. Unlike fixed buckets, the window slides with
// every call, so a burst cannot double up across a bucket boundary.
//
// Client identity is an opaque string; the HTTP boundary decides how to
// derive it. All state lives behind a single mutex and no operation
// performs I/O, so callers may hold requests on the hot path.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientWindow
	maxRequests int
	window      time.Duration
	logger      types.Logger
}

func NewSlidingWindowLimiter(config *types.RateLimitConfig, logger types.Logger) (*SlidingWindowLimiter, error) {
	maxRequests := DefaultMaxRequests
	windowSeconds := DefaultWindowSeconds

	if config != nil {
		if config.MaxRequests > 0 {
			maxRequests = config.MaxRequests
		}
		if config.WindowSeconds > 0 {
			windowSeconds = config.WindowSeconds
		}
	}

	limiter := &SlidingWindowLimiter{
		clients:     make(map[string]*clientWindow),
		maxRequests: maxRequests,
		window:      time.Duration(windowSeconds) * time.Second,
		logger:      logger,
	}

	logger.Info("Rate limiter initialized",
		zap.Int("max_requests", maxRequests),
		zap.Int("window_seconds", windowSeconds))

	return limiter, nil
}

// Allow purges the client's stale timestamps, then either records now and
// admits, or denies with the number of seconds until the oldest retained
// timestamp exits the window. A denial is a normal outcome.
func (l *SlidingWindowLimiter) Allow(clientKey string, now time.Time) types.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	window, exists := l.clients[clientKey]
	if !exists {
		window = &clientWindow{}
		l.clients[clientKey] = window
	}

	l.purgeUnsafe(window, now)

	if len(window.stamps) < l.maxRequests {
		window.stamps = append(window.stamps, now)
		return types.Decision{
			Admitted:  true,
			Remaining: l.maxRequests - len(window.stamps),
		}
	}

	oldest := window.stamps[0]
	retryAfter := int(math.Ceil(oldest.Add(l.window).Sub(now).Seconds()))

	return types.Decision{
		Admitted:          false,
		Remaining:         0,
		RetryAfterSeconds: retryAfter,
	}
}

func (l *SlidingWindowLimiter) Stats() types.RateLimiterStats {
	l.mu.Lock()
	tracked := len(l.clients)
	l.mu.Unlock()

	return types.RateLimiterStats{
		TrackedClients: tracked,
		MaxRequests:    l.maxRequests,
		WindowSeconds:  int(l.window / time.Second),
	}
}

func (l *SlidingWindowLimiter) Reset(clientKey string) {
	l.mu.Lock()
	delete(l.clients, clientKey)
	l.mu.Unlock()

	l.logger.Debug("Rate limit reset", zap.String("client", clientKey))
}

func (l *SlidingWindowLimiter) ResetAll() {
	l.mu.Lock()
	cleared := len(l.clients)
	l.clients = make(map[string]*clientWindow)
	l.mu.Unlock()

	l.logger.Info("Rate limits reset for all clients", zap.Int("cleared", cleared))
}

// Prune drops clients whose windows hold no live timestamps, bounding memory
// against clients that went silent longer than the window.
func (l *SlidingWindowLimiter) Prune(now time.Time) int {
	l.mu.Lock()

	var idle []string
	for key, window := range l.clients {
		l.purgeUnsafe(window, now)
		if len(window.stamps) == 0 {
			idle = append(idle, key)
		}
	}

	for _, key := range idle {
		delete(l.clients, key)
	}

	l.mu.Unlock()

	if len(idle) > 0 {
		l.logger.Debug("Pruned idle rate limit clients", zap.Int("pruned", len(idle)))
	}

	return len(idle)
}

// HealthCheck reports window occupancy; the service wires it into the
// health manager under the "ratelimit" name.
func (l *SlidingWindowLimiter) HealthCheck(ctx context.Context) types.HealthCheck {
	stats := l.Stats()

	return types.HealthCheck{
		Name:      "ratelimit",
		Status:    types.StatusHealthy,
		Message:   "limiter operational",
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"tracked_clients": stats.TrackedClients,
			"max_requests":    stats.MaxRequests,
			"window_seconds":  stats.WindowSeconds,
		},
	}
}

// purgeUnsafe removes timestamps that left the trailing window. Retained
// timestamps satisfy now - ts < window; the slice stays oldest first.
func (l *SlidingWindowLimiter) purgeUnsafe(window *clientWindow, now time.Time) {
	cut := 0
	for cut < len(window.stamps) && now.Sub(window.stamps[cut]) >= l.window {
		cut++
	}

	if cut == 0 {
		return
	}

	remaining := copy(window.stamps, window.stamps[cut:])
	window.stamps = window.stamps[:remaining]
}
