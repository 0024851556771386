package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, capacity int) (*MemoryCache, *fakeClock) {
	t.Helper()

	config := &types.CacheConfig{
		Enabled:    true,
		Type:       "memory",
		DefaultTTL: time.Hour,
		Config: map[string]interface{}{
			"capacity": capacity,
		},
	}

	manager, err := NewMemoryCache(context.Background(), logger.NewZapWrapper(zap.NewNop()), config, nil)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}

	cache := manager.(*MemoryCache)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cache.nowFunc = clock.Now

	if err := cache.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = cache.Stop() })

	return cache, clock
}

func TestCacheSetGet(t *testing.T) {
	cache, _ := newTestCache(t, 10)

	if err := cache.Set("statutes:california:riverside", "v1", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok := cache.Get("statutes:california:riverside")
	if !ok {
		t.Fatal("expected hit")
	}
	if value != "v1" {
		t.Errorf("expected v1, got %v", value)
	}

	if _, ok := cache.Get("statutes:texas:harris"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCacheEmptyKeyRejected(t *testing.T) {
	cache, _ := newTestCache(t, 10)

	if err := cache.Set("", "v", time.Hour); err != types.ErrCacheKeyEmpty {
		t.Errorf("expected ErrCacheKeyEmpty, got %v", err)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, clock := newTestCache(t, 10)

	cache.Set("k", "v", time.Hour)

	clock.Advance(59 * time.Minute)
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("entry should be retrievable before TTL elapses")
	}

	clock.Advance(time.Minute)
	if _, ok := cache.Get("k"); ok {
		t.Fatal("entry should be absent once TTL elapses")
	}

	// Expired entry must be physically removed by the failed Get.
	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("expected size 0 after lazy expiry, got %d", stats.Size)
	}
}

func TestCacheGetDoesNotExtendTTL(t *testing.T) {
	cache, clock := newTestCache(t, 10)

	cache.Set("k", "v", time.Hour)

	// Repeated reads keep recency fresh but never move the deadline.
	clock.Advance(30 * time.Minute)
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("expected hit at 30m")
	}

	clock.Advance(29 * time.Minute)
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("expected hit at 59m")
	}

	clock.Advance(time.Minute)
	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected expiry at 60m despite recent reads")
	}
}

func TestCacheOverwriteResetsTTL(t *testing.T) {
	cache, clock := newTestCache(t, 10)

	cache.Set("k", "v1", time.Hour)
	clock.Advance(50 * time.Minute)
	cache.Set("k", "v2", time.Hour)

	clock.Advance(50 * time.Minute)
	value, ok := cache.Get("k")
	if !ok {
		t.Fatal("overwrite should have reset the deadline")
	}
	if value != "v2" {
		t.Errorf("expected v2, got %v", value)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	cache, _ := newTestCache(t, 2)

	// Insert A, B, C in order with no reads between: A is evicted on C.
	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)
	cache.Set("c", 3, time.Hour)

	if _, ok := cache.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if v, ok := cache.Get("b"); !ok || v != 2 {
		t.Errorf("b should survive, got %v ok=%v", v, ok)
	}
	if v, ok := cache.Get("c"); !ok || v != 3 {
		t.Errorf("c should survive, got %v ok=%v", v, ok)
	}

	if stats := cache.Stats(); stats.Size != 2 {
		t.Errorf("size should stay at capacity, got %d", stats.Size)
	}
}

func TestCacheAccessRefreshesRecency(t *testing.T) {
	cache, _ := newTestCache(t, 2)

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)

	// Touch a so b becomes the LRU victim.
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	cache.Set("c", 3, time.Hour)

	if _, ok := cache.Get("b"); ok {
		t.Error("b should have been evicted after a was touched")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Error("a should survive")
	}
}

func TestCacheOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	cache, _ := newTestCache(t, 2)

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)
	cache.Set("a", 10, time.Hour)

	if _, ok := cache.Get("b"); !ok {
		t.Error("overwriting an existing key must not evict")
	}
	if v, _ := cache.Get("a"); v != 10 {
		t.Errorf("expected overwritten value 10, got %v", v)
	}
}

func TestCacheSizeNeverExceedsCapacity(t *testing.T) {
	cache, _ := newTestCache(t, 5)

	for i := 0; i < 50; i++ {
		cache.Set(fmt.Sprintf("key-%d", i), i, time.Hour)
		if stats := cache.Stats(); stats.Size > 5 {
			t.Fatalf("size %d exceeds capacity after insert %d", stats.Size, i)
		}
	}
}

func TestCacheEvictionPrefersExpiredSlot(t *testing.T) {
	cache, clock := newTestCache(t, 2)

	cache.Set("short", 1, time.Minute)
	cache.Set("long", 2, time.Hour)

	clock.Advance(2 * time.Minute)

	// "short" is expired; inserting at capacity reclaims its slot and the
	// live entry survives even though it is least recently accessed.
	cache.Set("fresh", 3, time.Hour)

	if _, ok := cache.Get("long"); !ok {
		t.Error("live entry should survive when an expired slot can be reclaimed")
	}
	if _, ok := cache.Get("fresh"); !ok {
		t.Error("fresh entry should be present")
	}
}

func TestCacheClear(t *testing.T) {
	cache, _ := newTestCache(t, 10)

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("expected size 0 after clear, got %d", stats.Size)
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("cleared entry should be absent")
	}

	// Store stays usable after clear.
	cache.Set("c", 3, time.Hour)
	if _, ok := cache.Get("c"); !ok {
		t.Error("expected hit after post-clear insert")
	}
}

func TestCacheDelete(t *testing.T) {
	cache, _ := newTestCache(t, 10)

	cache.Set("a", 1, time.Hour)
	if err := cache.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("deleted entry should be absent")
	}

	// Deleting a missing key is not an error.
	if err := cache.Delete("missing"); err != nil {
		t.Errorf("Delete on missing key: %v", err)
	}
}

func TestCacheSweep(t *testing.T) {
	cache, clock := newTestCache(t, 10)

	cache.Set("a", 1, time.Minute)
	cache.Set("b", 2, time.Minute)
	cache.Set("c", 3, time.Hour)

	clock.Advance(2 * time.Minute)

	removed := cache.Sweep()
	if removed != 2 {
		t.Errorf("expected 2 swept entries, got %d", removed)
	}
	if stats := cache.Stats(); stats.Size != 1 {
		t.Errorf("expected size 1 after sweep, got %d", stats.Size)
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("unexpired entry should survive sweep")
	}

	if removed := cache.Sweep(); removed != 0 {
		t.Errorf("second sweep should remove nothing, got %d", removed)
	}
}

func TestCacheStats(t *testing.T) {
	cache, _ := newTestCache(t, 7)

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)

	stats := cache.Stats()
	if stats.Size != 2 {
		t.Errorf("expected size 2, got %d", stats.Size)
	}
	if stats.Capacity != 7 {
		t.Errorf("expected capacity 7, got %d", stats.Capacity)
	}
}

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		parts []string
		want  string
	}{
		{"lowercase", "statutes", []string{"California", "Riverside"}, "statutes:california:riverside"},
		{"trimmed", "statutes", []string{"  California  ", "Riverside"}, "statutes:california:riverside"},
		{"inner whitespace collapsed", "statutes", []string{"New   York", "Kings"}, "statutes:new york:kings"},
		{"no parts", "jurisdictions", nil, "jurisdictions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.kind, tt.parts...)
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("statutes", "California", "Riverside")
	b := Key("statutes", "california", " riverside ")
	if a != b {
		t.Errorf("equivalent inputs produced different keys: %q vs %q", a, b)
	}
}
