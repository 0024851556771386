package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultShutdownTimeout = 5 * time.Second

type HTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	middlewares     types.MiddlewareManager
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	tlsManager      types.TLSManager
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	middlewares types.MiddlewareManager,
	tlsManager types.TLSManager,
	router *Router) (*HTTPServer, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := defaultShutdownTimeout
	if config.GetConfig().Server.HTTP.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(config.GetConfig().Server.HTTP.ShutdownTimeout) * time.Second
	}

	server := &HTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          config,
		logger:          logger,
		metrics:         metrics,
		middlewares:     middlewares,
		tlsManager:      tlsManager,
		router:          router,
		httpConfig:      config.GetConfig().Server.HTTP,
		tlsConfig:       config.GetConfig().Server.TLS,
		shutdownTimeout: shutdownTimeout,
	}

	server.state.Store(StateStopped)

	return server, nil
}

func (h *HTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := h.router.FinalizePendingRoutes(); err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "failed to finalize routes")
	}

	h.server = &fasthttp.Server{
		Name:                         h.config.GetConfig().Name,
		Handler:                      h.handleRequest,
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		Concurrency:                  fasthttp.DefaultConcurrency,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	if h.metrics != nil {
		openConns := h.metrics.Gauge("http_open_connections", nil)
		h.server.ConnState = func(_ net.Conn, state fasthttp.ConnState) {
			switch state {
			case fasthttp.StateNew:
				openConns.Inc()
			case fasthttp.StateClosed, fasthttp.StateHijacked:
				openConns.Dec()
			}
		}
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	var err error
	if h.tlsConfig != nil && h.tlsConfig.Enabled {
		h.listener, err = h.tlsManager.Serve(addr)
	} else {
		h.listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "failed to bind listener")
	}

	go func() {
		if err := h.server.Serve(h.listener); err != nil {
			if h.getState() == StateRunning || h.getState() == StateStarting {
				h.logger.Error("HTTP server failed", zap.Error(err))
				h.setState(StateStopped)
			}
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully",
		zap.String("address", addr),
		zap.Bool("tls", h.tlsConfig != nil && h.tlsConfig.Enabled),
		zap.Int("routes", len(h.router.GetAllRoutes())))

	return nil
}

func (h *HTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(ctx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have drained")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *HTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *HTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *HTTPServer) setState(newState State) bool {
	return h.state.CompareAndSwap(h.getState(), newState)
}

func (h *HTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *HTTPServer) handleRequest(ctx *fasthttp.RequestCtx) {
	info := h.router.Lookup(ctx.Method(), ctx.Path())
	if info != nil {
		h.executeHandler(ctx, info.Handler, info.Config)
		return
	}

	// Preflight requests for known paths have no OPTIONS route of
	// their own; run the default chain so CORS can answer.
	if string(ctx.Method()) == fasthttp.MethodOptions {
		h.executeHandler(ctx, func(*fasthttp.RequestCtx) {}, &types.RouteConfig{})
		return
	}

	if allowed := h.router.AllowedMethods(ctx.Path()); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		utils.WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "Method Not Allowed",
			fmt.Sprintf("method %s is not allowed for this resource", ctx.Method()))
		return
	}

	utils.WriteJSONError(ctx, fasthttp.StatusNotFound, "Not Found", "the requested resource does not exist")
}

func (h *HTTPServer) executeHandler(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if handler == nil {
		utils.WriteJSONError(ctx, fasthttp.StatusNotFound, "Not Found", "the requested resource does not exist")
		return
	}

	if h.middlewares != nil {
		h.middlewares.Execute(ctx, handler, config)
		return
	}

	handler(ctx)
}
