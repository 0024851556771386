package middleware

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

// MetadataMiddleware resolves the caller identity for every request and
// stores it under the "metadata" user value. The "real_ip" entry is the
// rate limiter's client key, so it runs early in the chain.
type MetadataMiddleware struct {
	config         types.ConfigManager
	logger         types.Logger
	metrics        types.MetricsManager
	metadataConfig *MetadataConfig
	weight         int
}

type MetadataConfig struct {
	PropagatedHeaders []string `json:"propagated_headers"`
	GenerateRequestID bool     `json:"generate_request_id"`
}

func NewMetadataMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *MetadataMiddleware {
	var metadataConfig = &MetadataConfig{
		GenerateRequestID: true,
		PropagatedHeaders: []string{
			"X-Real-IP",
			"X-Forwarded-For",
			"X-Request-ID",
			"X-Trace-ID",
			"X-Client-ID",
		},
	}

	if config.GetConfig().Middlewares.Metadata.Params != nil {
		err := utils.UnmarshalConfig(config.GetConfig().Middlewares.Metadata.Params, metadataConfig)
		if err != nil {
			logger.Error("Failed to unmarshal Metadata middleware config", zap.Error(err))
		}
	}

	return &MetadataMiddleware{
		config:         config,
		logger:         logger,
		metrics:        metrics,
		metadataConfig: metadataConfig,
		weight:         config.GetConfig().Middlewares.Metadata.Weight,
	}
}

func (m *MetadataMiddleware) Name() string { return "metadata" }
func (m *MetadataMiddleware) Weight() int  { return m.weight }

func (m *MetadataMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	start := time.Now()
	metadata := m.extractMetadata(ctx)

	if m.metadataConfig.GenerateRequestID && metadata["request_id"] == "" {
		metadata["request_id"] = genRequestID()
	}

	m.enrichRequest(ctx, metadata)

	next(ctx)

	duration := time.Since(start)

	m.logger.Debug("Metadata processed",
		zap.String("request_id", metadata["request_id"]),
		zap.String("real_ip", metadata["real_ip"]),
		zap.String("path", string(ctx.Path())),
		zap.Duration("duration", duration))
}

func (m *MetadataMiddleware) extractMetadata(ctx *fasthttp.RequestCtx) map[string]string {
	metadata := make(map[string]string)

	headerMappings := map[string]string{
		"X-Request-ID": "request_id",
		"X-Trace-ID":   "trace_id",
		"X-Client-ID":  "client_id",
	}

	for header, key := range headerMappings {
		if value := string(ctx.Request.Header.Peek(header)); value != "" {
			metadata[key] = value
		}
	}

	metadata["real_ip"] = extractRealIP(ctx)

	return metadata
}

// extractRealIP prefers X-Real-IP, then the first hop of X-Forwarded-For,
// then falls back to the connection address.
func extractRealIP(ctx *fasthttp.RequestCtx) string {
	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return strings.TrimSpace(forwarded)
	}

	return ctx.RemoteIP().String()
}

func (m *MetadataMiddleware) enrichRequest(ctx *fasthttp.RequestCtx, metadata map[string]string) {
	ctx.SetUserValue("metadata", metadata)

	propagationHeaders := make(map[string]string)

	headerToKey := map[string]string{
		"x-request-id": "request_id",
		"x-trace-id":   "trace_id",
		"x-real-ip":    "real_ip",
		"x-client-id":  "client_id",
	}

	for _, headerName := range m.metadataConfig.PropagatedHeaders {
		lowerHeader := strings.ToLower(headerName)
		if key, exists := headerToKey[lowerHeader]; exists {
			if value := metadata[key]; value != "" {
				propagationHeaders[headerName] = value
			}
		}
	}

	if len(propagationHeaders) > 0 {
		ctx.SetUserValue("propagation_headers", propagationHeaders)
	}
}

func genRequestID() string {
	return "req_" + uuid.NewString()
}
