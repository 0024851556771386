package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

var requestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

type LoggingMiddleware struct {
	config        types.ConfigManager
	logger        types.Logger
	metrics       types.MetricsManager
	loggingConfig *LoggingConfig
	weight        int
}

type LoggingConfig struct {
	LogLevel   string `json:"log_level"`
	LogHeaders bool   `json:"log_headers"`
	LogBody    bool   `json:"log_body"`
}

func NewLoggingMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *LoggingMiddleware {
	var loggingConfig = &LoggingConfig{
		LogLevel:   "info",
		LogHeaders: false,
		LogBody:    false,
	}

	if config.GetConfig().Middlewares.Logging.Params != nil {
		err := utils.UnmarshalConfig(config.GetConfig().Middlewares.Logging.Params, loggingConfig)
		if err != nil {
			logger.Error("Failed to unmarshal Logging middleware config", zap.Error(err))
		}
	}

	return &LoggingMiddleware{
		config:        config,
		logger:        logger,
		metrics:       metrics,
		loggingConfig: loggingConfig,
		weight:        config.GetConfig().Middlewares.Logging.Weight,
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return l.weight }

func (l *LoggingMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	start := time.Now()

	l.logRequest(ctx)

	next(ctx)

	duration := time.Since(start)
	l.logResponse(ctx, duration)
	l.recordMetrics(ctx, duration)
}

func (l *LoggingMiddleware) logRequest(ctx *fasthttp.RequestCtx) {
	fields := []zap.Field{
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
		zap.String("remote_addr", remoteAddr(ctx)),
		zap.String("user_agent", string(ctx.UserAgent())),
	}

	if len(ctx.QueryArgs().QueryString()) > 0 {
		fields = append(fields, zap.String("query", string(ctx.QueryArgs().QueryString())))
	}

	if requestID := requestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", sanitizeHeaders(ctx)))
	}

	l.logWithLevel("Request started", fields...)
}

func (l *LoggingMiddleware) logResponse(ctx *fasthttp.RequestCtx, duration time.Duration) {
	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.Int("status", ctx.Response.StatusCode()),
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
	}

	if requestID := requestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogBody && len(ctx.Response.Body()) > 0 {
		body := ctx.Response.Body()
		if len(body) > 1000 {
			fields = append(fields, zap.String("response", string(body[:1000])+"..."))
			fields = append(fields, zap.Int("response_body_truncated", len(body)))
		} else {
			fields = append(fields, zap.String("response", string(body)))
		}
	}

	if ctx.Response.StatusCode() >= 500 {
		l.logger.Error("Request completed", fields...)
	} else if ctx.Response.StatusCode() >= 400 {
		l.logger.Warn("Request completed", fields...)
	} else {
		l.logWithLevel("Request completed", fields...)
	}
}

func (l *LoggingMiddleware) recordMetrics(ctx *fasthttp.RequestCtx, duration time.Duration) {
	if l.metrics == nil {
		return
	}

	labels := map[string]string{
		"method": string(ctx.Method()),
		"path":   string(ctx.Path()),
		"status": strconv.Itoa(ctx.Response.StatusCode()),
	}

	l.metrics.Counter("http_requests_total", labels).Inc()
	l.metrics.Histogram("http_request_duration_seconds", requestDurationBuckets, map[string]string{
		"method": labels["method"],
		"path":   labels["path"],
	}).Observe(duration.Seconds())
}

// requestID prefers the id resolved by the metadata middleware, which
// includes generated ids, and falls back to the raw header.
func requestID(ctx *fasthttp.RequestCtx) string {
	if metadata, ok := ctx.UserValue("metadata").(map[string]string); ok {
		if id := metadata["request_id"]; id != "" {
			return id
		}
	}

	return string(ctx.Request.Header.Peek("X-Request-ID"))
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if metadata, ok := ctx.UserValue("metadata").(map[string]string); ok {
		if ip := metadata["real_ip"]; ip != "" {
			return ip
		}
	}

	return extractRealIP(ctx)
}

func sanitizeHeaders(ctx *fasthttp.RequestCtx) map[string]string {
	sensitiveHeaders := map[string]bool{
		"authorization": true,
		"x-api-key":     true,
		"cookie":        true,
		"set-cookie":    true,
	}

	sanitized := make(map[string]string, ctx.Request.Header.Len())
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		keyStr := string(key)
		if sensitiveHeaders[strings.ToLower(keyStr)] {
			sanitized[keyStr] = "[REDACTED]"
		} else {
			sanitized[keyStr] = string(value)
		}
	})

	return sanitized
}

func (l *LoggingMiddleware) logWithLevel(msg string, fields ...zap.Field) {
	switch l.loggingConfig.LogLevel {
	case "debug":
		l.logger.Debug(msg, fields...)
	case "info":
		l.logger.Info(msg, fields...)
	case "warn":
		l.logger.Warn(msg, fields...)
	case "error":
		l.logger.Error(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
