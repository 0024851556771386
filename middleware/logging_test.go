package middleware

import (
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
)

func TestRequestIDPrefersMetadataValue(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("X-Request-ID", "req_header")
	ctx.SetUserValue("metadata", map[string]string{"request_id": "req_generated"})

	if got := requestID(&ctx); got != "req_generated" {
		t.Fatalf("expected metadata request id, got %q", got)
	}
}

func TestRequestIDFallsBackToHeader(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("X-Request-ID", "req_header")

	if got := requestID(&ctx); got != "req_header" {
		t.Fatalf("expected header request id, got %q", got)
	}
}

func TestSanitizeHeadersRedactsSensitiveValues(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Authorization", "Bearer secret")
	ctx.Request.Header.Set("X-Api-Key", "key123")
	ctx.Request.Header.Set("Accept", "application/json")

	sanitized := sanitizeHeaders(&ctx)

	if sanitized["Authorization"] != "[REDACTED]" {
		t.Fatalf("Authorization should be redacted, got %q", sanitized["Authorization"])
	}
	if sanitized["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("X-Api-Key should be redacted, got %q", sanitized["X-Api-Key"])
	}
	if sanitized["Accept"] != "application/json" {
		t.Fatalf("Accept should be preserved, got %q", sanitized["Accept"])
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	mw := NewLoggingMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/analytics")

	handled := false
	mw.Handle(&ctx, func(c *fasthttp.RequestCtx) {
		handled = true
		c.SetStatusCode(fasthttp.StatusOK)
	}, nil)

	if !handled {
		t.Fatal("expected handler to run")
	}
}
