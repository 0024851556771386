package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/types"
)

func newTestLimiter(t *testing.T, maxRequests, windowSeconds int) *SlidingWindowLimiter {
	t.Helper()

	limiter, err := NewSlidingWindowLimiter(&types.RateLimitConfig{
		MaxRequests:   maxRequests,
		WindowSeconds: windowSeconds,
	}, logger.NewZapWrapper(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter: %v", err)
	}

	return limiter
}

func TestAllowUpToLimit(t *testing.T) {
	limiter := newTestLimiter(t, 3, 60)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		decision := limiter.Allow("x", base)
		if !decision.Admitted {
			t.Fatalf("call %d should be admitted", i+1)
		}
		if decision.Remaining != 3-i-1 {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, 3-i-1, decision.Remaining)
		}
	}
}

func TestDenyBeyondLimitWithRetryAfter(t *testing.T) {
	limiter := newTestLimiter(t, 3, 60)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		limiter.Allow("x", base)
	}

	// A 4th call one second later is denied; the oldest call exits the
	// window at base+60s, so 59 seconds remain.
	decision := limiter.Allow("x", base.Add(time.Second))
	if decision.Admitted {
		t.Fatal("4th call should be denied")
	}
	if decision.RetryAfterSeconds != 59 {
		t.Errorf("expected retry after 59s, got %d", decision.RetryAfterSeconds)
	}
	if decision.Remaining != 0 {
		t.Errorf("expected remaining 0 on denial, got %d", decision.Remaining)
	}
}

func TestRetryAfterRoundsUpFractionalSeconds(t *testing.T) {
	limiter := newTestLimiter(t, 1, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("x", base)

	decision := limiter.Allow("x", base.Add(1200*time.Millisecond))
	if decision.Admitted {
		t.Fatal("second call should be denied")
	}
	if decision.RetryAfterSeconds != 59 {
		t.Errorf("expected ceil(58.8) = 59, got %d", decision.RetryAfterSeconds)
	}
}

func TestWindowSlides(t *testing.T) {
	limiter := newTestLimiter(t, 3, 60)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		limiter.Allow("x", base)
	}

	if limiter.Allow("x", base.Add(time.Second)).Admitted {
		t.Fatal("should be denied inside the window")
	}

	// At base+61s the three t=0 timestamps have left the window.
	decision := limiter.Allow("x", base.Add(61*time.Second))
	if !decision.Admitted {
		t.Fatal("should admit after the window slides past the burst")
	}
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	limiter := newTestLimiter(t, 1, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("x", base)

	// Exactly window seconds later the old timestamp no longer counts.
	if !limiter.Allow("x", base.Add(60*time.Second)).Admitted {
		t.Error("timestamp aged exactly window seconds should be purged")
	}
}

func TestDenialIsNotRecorded(t *testing.T) {
	limiter := newTestLimiter(t, 2, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("x", base)
	limiter.Allow("x", base)

	// Denied calls must not extend the client's window.
	for i := 0; i < 10; i++ {
		if limiter.Allow("x", base.Add(time.Duration(i)*time.Second)).Admitted {
			t.Fatalf("call at t=%d should be denied", i)
		}
	}

	if !limiter.Allow("x", base.Add(61*time.Second)).Admitted {
		t.Error("denied calls should not have pushed the window forward")
	}
}

func TestClientsAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, 2, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("a", base)
	limiter.Allow("a", base)

	if limiter.Allow("a", base).Admitted {
		t.Fatal("client a should be exhausted")
	}

	// Client b is unaffected by a's denials.
	if !limiter.Allow("b", base).Admitted {
		t.Error("client b should be admitted")
	}
	if !limiter.Allow("b", base).Admitted {
		t.Error("client b second call should be admitted")
	}
}

func TestResetSingleClient(t *testing.T) {
	limiter := newTestLimiter(t, 1, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("a", base)
	limiter.Allow("b", base)

	limiter.Reset("a")

	if !limiter.Allow("a", base).Admitted {
		t.Error("reset client should be admitted again")
	}
	if limiter.Allow("b", base).Admitted {
		t.Error("other client should remain exhausted")
	}
}

func TestResetAll(t *testing.T) {
	limiter := newTestLimiter(t, 1, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("a", base)
	limiter.Allow("b", base)

	limiter.ResetAll()

	if stats := limiter.Stats(); stats.TrackedClients != 0 {
		t.Errorf("expected 0 tracked clients after reset, got %d", stats.TrackedClients)
	}
	if !limiter.Allow("a", base).Admitted {
		t.Error("client a should be admitted after reset")
	}
	if !limiter.Allow("b", base).Admitted {
		t.Error("client b should be admitted after reset")
	}
}

func TestStats(t *testing.T) {
	limiter := newTestLimiter(t, 5, 30)
	base := time.Unix(1700000000, 0)

	limiter.Allow("a", base)
	limiter.Allow("b", base)
	limiter.Allow("c", base)

	stats := limiter.Stats()
	if stats.TrackedClients != 3 {
		t.Errorf("expected 3 tracked clients, got %d", stats.TrackedClients)
	}
	if stats.MaxRequests != 5 {
		t.Errorf("expected max 5, got %d", stats.MaxRequests)
	}
	if stats.WindowSeconds != 30 {
		t.Errorf("expected window 30s, got %d", stats.WindowSeconds)
	}
}

func TestPruneRemovesIdleClients(t *testing.T) {
	limiter := newTestLimiter(t, 5, 60)
	base := time.Unix(1700000000, 0)

	limiter.Allow("idle", base)
	limiter.Allow("active", base.Add(50*time.Second))

	pruned := limiter.Prune(base.Add(70 * time.Second))
	if pruned != 1 {
		t.Errorf("expected 1 pruned client, got %d", pruned)
	}

	stats := limiter.Stats()
	if stats.TrackedClients != 1 {
		t.Errorf("expected 1 tracked client after prune, got %d", stats.TrackedClients)
	}
}

func TestDefaultsApplied(t *testing.T) {
	limiter, err := NewSlidingWindowLimiter(nil, logger.NewZapWrapper(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter: %v", err)
	}

	stats := limiter.Stats()
	if stats.MaxRequests != DefaultMaxRequests {
		t.Errorf("expected default max %d, got %d", DefaultMaxRequests, stats.MaxRequests)
	}
	if stats.WindowSeconds != DefaultWindowSeconds {
		t.Errorf("expected default window %d, got %d", DefaultWindowSeconds, stats.WindowSeconds)
	}
}

func TestManyClientsBounded(t *testing.T) {
	limiter := newTestLimiter(t, 2, 60)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 500; i++ {
		limiter.Allow(fmt.Sprintf("client-%d", i), base)
	}

	if stats := limiter.Stats(); stats.TrackedClients != 500 {
		t.Fatalf("expected 500 tracked clients, got %d", stats.TrackedClients)
	}

	limiter.Prune(base.Add(2 * time.Minute))

	if stats := limiter.Stats(); stats.TrackedClients != 0 {
		t.Errorf("expected all clients pruned, got %d", stats.TrackedClients)
	}
}
