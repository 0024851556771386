package middleware

import (
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
)

func TestRecoveryReturnsInternalErrorOnPanic(t *testing.T) {
	mw := NewRecoveryMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/legal-support")

	mw.Handle(&ctx, func(*fasthttp.RequestCtx) {
		panic("handler exploded")
	}, nil)

	if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "Internal Server Error") {
		t.Fatalf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestRecoveryPassesThroughWithoutPanic(t *testing.T) {
	mw := NewRecoveryMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	var ctx fasthttp.RequestCtx
	handled := false

	mw.Handle(&ctx, func(c *fasthttp.RequestCtx) {
		handled = true
		c.SetStatusCode(fasthttp.StatusOK)
	}, nil)

	if !handled {
		t.Fatal("expected next handler to run")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
}

func TestRecoveryWeightFromConfig(t *testing.T) {
	mw := NewRecoveryMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil)

	if mw.Name() != "recovery" {
		t.Fatalf("unexpected name %q", mw.Name())
	}
	if mw.Weight() != 5 {
		t.Fatalf("unexpected weight %d", mw.Weight())
	}
}
