package middleware

import (
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/types"
)

func corsConfigWith(origins []string) *stubConfig {
	config := testConfig()
	config.cfg.Middlewares.CORS.Params = map[string]interface{}{
		"allowed_origins": origins,
	}
	return config
}

func TestCORSPassthroughWithoutOrigin(t *testing.T) {
	mw := NewCORSMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if !handled {
		t.Fatal("expected handler to run for same-origin request")
	}
	if len(ctx.Response.Header.Peek("Access-Control-Allow-Origin")) != 0 {
		t.Fatal("expected no CORS headers without an Origin header")
	}
}

func TestCORSAllowsAllByDefault(t *testing.T) {
	mw := NewCORSMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Origin", "https://app.example.com")

	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if !handled {
		t.Fatal("expected handler to run")
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Vary")); got != "Origin" {
		t.Fatalf("expected Vary: Origin, got %q", got)
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	mw := NewCORSMiddleware(corsConfigWith([]string{"https://trusted.example.com"}), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Origin", "https://evil.example.org")

	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if handled {
		t.Fatal("handler should not run for a blocked origin")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "CORS policy violation") {
		t.Fatalf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestCORSWildcardSubdomains(t *testing.T) {
	mw := NewCORSMiddleware(corsConfigWith([]string{"*.example.com"}), logger.NewZapWrapper(zap.NewNop()), nil)

	cases := []struct {
		origin  string
		allowed bool
	}{
		{"app.example.com", true},
		{"deep.app.example.com", true},
		{"example.com", true},
		{"badexample.com", false},
		{"evil.org", false},
	}

	for _, tc := range cases {
		if got := mw.isOriginAllowed([]byte(tc.origin)); got != tc.allowed {
			t.Errorf("origin %q: allowed=%v, want %v", tc.origin, got, tc.allowed)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	mw := NewCORSMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodOptions)
	ctx.Request.Header.Set("Origin", "https://app.example.com")
	ctx.Request.Header.Set("Access-Control-Request-Method", "POST")

	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if handled {
		t.Fatal("preflight should short-circuit the chain")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")); !strings.Contains(got, "POST") {
		t.Fatalf("expected POST in allowed methods, got %q", got)
	}
	if got := string(ctx.Response.Header.Peek("Access-Control-Max-Age")); got != "86400" {
		t.Fatalf("expected max age 86400, got %q", got)
	}
}

func TestCORSRouteConfigIgnored(t *testing.T) {
	mw := NewCORSMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Origin", "https://app.example.com")

	mw.Handle(&ctx, func(*fasthttp.RequestCtx) {}, &types.RouteConfig{Middlewares: []string{"cors"}})

	if got := string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")); got != "*" {
		t.Fatalf("expected wildcard allow origin, got %q", got)
	}
}
