package middleware

import (
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
)

func rateLimitRequest(mw *RateLimitMiddleware, clientIP string) (*fasthttp.RequestCtx, bool) {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/legal-support")
	ctx.SetUserValue("metadata", map[string]string{"real_ip": clientIP})

	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	return &ctx, handled
}

func TestRateLimitAdmitsUnderLimit(t *testing.T) {
	mw := NewRateLimitMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil, testLimiter(t, 2, 60))

	for i := 0; i < 2; i++ {
		_, handled := rateLimitRequest(mw, "203.0.113.1")
		if !handled {
			t.Fatalf("request %d should have been admitted", i+1)
		}
	}
}

func TestRateLimitDeniesOverLimit(t *testing.T) {
	mw := NewRateLimitMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil, testLimiter(t, 2, 60))

	rateLimitRequest(mw, "203.0.113.1")
	rateLimitRequest(mw, "203.0.113.1")
	ctx, handled := rateLimitRequest(mw, "203.0.113.1")

	if handled {
		t.Fatal("third request should have been denied")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", ctx.Response.StatusCode())
	}
	if retryAfter := string(ctx.Response.Header.Peek("Retry-After")); retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}

	body := string(ctx.Response.Body())
	if !strings.Contains(body, "Rate limit exceeded. Try again in") {
		t.Fatalf("unexpected denial body: %s", body)
	}
	if !strings.Contains(body, "seconds.") {
		t.Fatalf("unexpected denial body: %s", body)
	}
}

func TestRateLimitTracksClientsIndependently(t *testing.T) {
	mw := NewRateLimitMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil, testLimiter(t, 1, 60))

	if _, handled := rateLimitRequest(mw, "203.0.113.1"); !handled {
		t.Fatal("first client should be admitted")
	}
	if _, handled := rateLimitRequest(mw, "203.0.113.2"); !handled {
		t.Fatal("second client should be admitted")
	}
	if _, handled := rateLimitRequest(mw, "203.0.113.1"); handled {
		t.Fatal("first client should now be denied")
	}
}

func TestRateLimitFallsBackToHeadersWithoutMetadata(t *testing.T) {
	mw := NewRateLimitMiddleware(testConfig(), logger.NewZapWrapper(zap.NewNop()), nil, testLimiter(t, 1, 60))

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("X-Real-IP", "198.51.100.9")

	handled := false
	mw.Handle(&ctx, func(*fasthttp.RequestCtx) { handled = true }, nil)

	if !handled {
		t.Fatal("expected request to be admitted")
	}
}
