package middleware

import (
	"context"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/ratelimit"
	"github.com/outlawai/outlaw-service/types"
)

type stubConfig struct {
	cfg *types.ServiceConfig
}

func (s *stubConfig) Load() error {
	return nil
}

func (s *stubConfig) GetConfig() *types.ServiceConfig {
	return s.cfg
}

func (s *stubConfig) GetValue(path string, defaultValue interface{}) interface{} {
	return defaultValue
}

func (s *stubConfig) GetAs(path string, target interface{}) error {
	return nil
}

func (s *stubConfig) Start() error {
	return nil
}

func (s *stubConfig) Stop() error {
	return nil
}

func (s *stubConfig) IsRunning() bool {
	return true
}

func testConfig() *stubConfig {
	return &stubConfig{
		cfg: &types.ServiceConfig{
			Name:    "outlaw-legal-ai",
			Version: "1.0.0",
			RateLimit: &types.RateLimitConfig{
				MaxRequests:   100,
				WindowSeconds: 60,
			},
			Middlewares: &types.MiddlewaresConfig{
				Enabled:     true,
				Recovery:    &types.MiddlewareItemConfig{Enabled: true, Weight: 5},
				Metadata:    &types.MiddlewareItemConfig{Enabled: true, Weight: 10},
				Logging:     &types.MiddlewareItemConfig{Enabled: true, Weight: 20},
				CORS:        &types.MiddlewareItemConfig{Enabled: true, Weight: 30},
				RateLimit:   &types.MiddlewareItemConfig{Enabled: false, Weight: 35},
				BodyLimit:   &types.MiddlewareItemConfig{Enabled: true, Weight: 50},
				Compression: &types.MiddlewareItemConfig{Enabled: true, Weight: 60},
			},
		},
	}
}

func testLimiter(t *testing.T, maxRequests, windowSeconds int) types.RateLimiter {
	t.Helper()

	limiter, err := ratelimit.NewSlidingWindowLimiter(&types.RateLimitConfig{
		MaxRequests:   maxRequests,
		WindowSeconds: windowSeconds,
	}, logger.NewZapWrapper(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter: %v", err)
	}

	return limiter
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	manager, err := NewManager(context.Background(), testConfig(), logger.NewZapWrapper(zap.NewNop()), nil, testLimiter(t, 100, 60))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	return manager
}

type namedMiddleware struct {
	name   string
	weight int
	visit  func(name string)
	block  bool
}

func (n *namedMiddleware) Name() string { return n.name }
func (n *namedMiddleware) Weight() int  { return n.weight }

func (n *namedMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if n.visit != nil {
		n.visit(n.name)
	}
	if n.block {
		return
	}
	next(ctx)
}

func TestExecuteRunsChainInWeightOrder(t *testing.T) {
	manager := newTestManager(t)

	var order []string
	visit := func(name string) { order = append(order, name) }

	if err := manager.Register(&namedMiddleware{name: "second", weight: 20, visit: visit}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.Register(&namedMiddleware{name: "first", weight: 10, visit: visit}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	var ctx fasthttp.RequestCtx
	handled := false
	manager.Execute(&ctx, func(*fasthttp.RequestCtx) {
		handled = true
		order = append(order, "handler")
	}, nil)

	if !handled {
		t.Fatal("expected handler to run")
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "handler" {
		t.Fatalf("unexpected chain order: %v", order)
	}
}

func TestExecuteBeforeFinalizeRunsBareHandler(t *testing.T) {
	manager := newTestManager(t)

	var ctx fasthttp.RequestCtx
	handled := false
	manager.Execute(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if !handled {
		t.Fatal("expected handler to run without finalized configuration")
	}
}

func TestRouteDisablesMiddleware(t *testing.T) {
	manager := newTestManager(t)

	var order []string
	visit := func(name string) { order = append(order, name) }

	if err := manager.Register(&namedMiddleware{name: "keep", weight: 10, visit: visit}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.Register(&namedMiddleware{name: "skip", weight: 20, visit: visit}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	var ctx fasthttp.RequestCtx
	manager.Execute(&ctx, func(*fasthttp.RequestCtx) {}, &types.RouteConfig{
		DisabledMiddlewares: []string{"skip"},
	})

	if len(order) != 1 || order[0] != "keep" {
		t.Fatalf("expected only 'keep' to run, got %v", order)
	}
}

func TestRouteEnablesOptInMiddleware(t *testing.T) {
	manager := newTestManager(t)

	var order []string
	visit := func(name string) { order = append(order, name) }

	if err := manager.register(&namedMiddleware{name: "optin", weight: 10, visit: visit}, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	var ctx fasthttp.RequestCtx

	manager.Execute(&ctx, func(*fasthttp.RequestCtx) {}, nil)
	if len(order) != 0 {
		t.Fatalf("opt-in middleware should not run by default, got %v", order)
	}

	manager.Execute(&ctx, func(*fasthttp.RequestCtx) {}, &types.RouteConfig{
		Middlewares: []string{"optin"},
	})
	if len(order) != 1 || order[0] != "optin" {
		t.Fatalf("expected opt-in middleware to run when attached, got %v", order)
	}
}

func TestBlockingMiddlewareStopsChain(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Register(&namedMiddleware{name: "gate", weight: 10, block: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	var ctx fasthttp.RequestCtx
	handled := false
	manager.Execute(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if handled {
		t.Fatal("handler should not run when a middleware blocks the chain")
	}
}

func TestFinalizeRejectsDuplicateWeights(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Register(&namedMiddleware{name: "a", weight: 10}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.Register(&namedMiddleware{name: "b", weight: 10}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := manager.finalizeConfiguration(); err == nil {
		t.Fatal("expected duplicate weight error")
	}
}

func TestRegisterAfterFinalizeFails(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	if err := manager.Register(&namedMiddleware{name: "late", weight: 10}); err == nil {
		t.Fatal("expected registration after finalize to fail")
	}
}

func TestRegisterMiddlewaresFromConfig(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.RegisterMiddlewares(); err != nil {
		t.Fatalf("RegisterMiddlewares: %v", err)
	}

	expected := []string{"recovery", "metadata", "logging", "cors", "rate_limit", "body_limit", "compression"}
	for _, name := range expected {
		if _, ok := manager.nameToIndex[name]; !ok {
			t.Errorf("expected middleware %q to be registered", name)
		}
	}

	rateLimitIdx := manager.nameToIndex["rate_limit"]
	if manager.defaultEnabledMask&(1<<uint(rateLimitIdx)) != 0 {
		t.Error("rate_limit should not be in the default mask")
	}

	recoveryIdx := manager.nameToIndex["recovery"]
	if manager.defaultEnabledMask&(1<<uint(recoveryIdx)) == 0 {
		t.Error("recovery should be in the default mask")
	}
}

func TestClearResetsState(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Register(&namedMiddleware{name: "a", weight: 10}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	manager.Clear()

	if err := manager.Register(&namedMiddleware{name: "b", weight: 20}); err != nil {
		t.Fatalf("Register after Clear: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration after Clear: %v", err)
	}
}

func TestMaskCacheReusesComputedMasks(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Register(&namedMiddleware{name: "a", weight: 10}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.finalizeConfiguration(); err != nil {
		t.Fatalf("finalizeConfiguration: %v", err)
	}

	routeConfig := &types.RouteConfig{DisabledMiddlewares: []string{"a"}}

	first := manager.computeRouteMask(routeConfig)
	second := manager.computeRouteMask(routeConfig)

	if first != second {
		t.Fatalf("cached mask mismatch: %d != %d", first, second)
	}
	if first != 0 {
		t.Fatalf("expected empty mask with the only middleware disabled, got %d", first)
	}
}
