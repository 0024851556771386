package server

import (
	"context"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
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

func newTestServer(t *testing.T, router *Router) *HTTPServer {
	t.Helper()

	config := &stubConfig{
		cfg: &types.ServiceConfig{
			Name:    "outlaw-legal-ai",
			Version: "1.0.0",
			Server: &types.ServerConfig{
				HTTP: &types.HTTPConfig{
					Host:         "127.0.0.1",
					Port:         8080,
					ReadTimeout:  30,
					WriteTimeout: 30,
					IdleTimeout:  60,
				},
			},
		},
	}

	server, err := NewHTTPServer(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), nil, nil, nil, router)
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}

	return server
}

func TestHandleRequestDispatchesKnownRoute(t *testing.T) {
	router := newTestRouter(t)
	router.Add("GET", "/analytics", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString(`{"total_requests":0}`)
	}, nil)

	server := newTestServer(t, router)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI("/analytics")

	server.handleRequest(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected 200, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "total_requests") {
		t.Fatalf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestHandleRequestUnknownPath(t *testing.T) {
	server := newTestServer(t, newTestRouter(t))

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI("/missing")

	server.handleRequest(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
	if !strings.Contains(string(ctx.Response.Body()), "Not Found") {
		t.Fatalf("unexpected body: %s", ctx.Response.Body())
	}
}

func TestHandleRequestWrongMethod(t *testing.T) {
	router := newTestRouter(t)
	router.Add("GET", "/analytics", func(*fasthttp.RequestCtx) {}, nil)

	server := newTestServer(t, router)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodDelete)
	ctx.Request.SetRequestURI("/analytics")

	server.handleRequest(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Header.Peek("Allow")); got != "GET" {
		t.Fatalf("expected Allow: GET, got %q", got)
	}
}

func TestHandleRequestOptionsFallthrough(t *testing.T) {
	router := newTestRouter(t)
	router.Add("POST", "/legal-support", func(*fasthttp.RequestCtx) {}, nil)

	server := newTestServer(t, router)

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodOptions)
	ctx.Request.SetRequestURI("/legal-support")

	server.handleRequest(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("expected preflight fallthrough to succeed, got %d", ctx.Response.StatusCode())
	}
}
