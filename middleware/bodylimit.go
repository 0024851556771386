package middleware

import (
	"bytes"
	"fmt"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

type BodyLimitMiddleware struct {
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	bodyLimitConfig *BodyLimitConfig
	name            string
	weight          int
	errorResponse   []byte
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

var (
	bodyMethods  = []byte("POSTPUTPATCHDELETE")
	chunkedBytes = []byte("chunked")
)

func NewBodyLimitMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *BodyLimitMiddleware {
	var bodyLimitConfig = &BodyLimitConfig{
		MaxBodySize: 1024 * 1024,
	}

	if config.GetConfig().Middlewares.BodyLimit.Params != nil {
		err := utils.UnmarshalConfig(config.GetConfig().Middlewares.BodyLimit.Params, bodyLimitConfig)
		if err != nil {
			logger.Error("Failed to unmarshal BodyLimit middleware config", zap.Error(err))
		}
	}

	bl := &BodyLimitMiddleware{
		name:            "body_limit",
		config:          config,
		logger:          logger,
		metrics:         metrics,
		bodyLimitConfig: bodyLimitConfig,
		weight:          config.GetConfig().Middlewares.BodyLimit.Weight,
	}

	bl.errorResponse = []byte(fmt.Sprintf(
		`{"error":"Request entity too large","message":"Request body exceeds maximum size of %d bytes","max_size":%d,"error_code":"BODY_TOO_LARGE"}`,
		bodyLimitConfig.MaxBodySize, bodyLimitConfig.MaxBodySize))

	return bl
}

func (bl *BodyLimitMiddleware) Name() string { return bl.name }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if !bytes.Contains(bodyMethods, ctx.Method()) {
		next(ctx)
		return
	}

	contentLength := ctx.Request.Header.ContentLength()

	if contentLength > 0 && int64(contentLength) > bl.bodyLimitConfig.MaxBodySize {
		bl.createBodyLimitResponse(ctx)
		return
	}

	// Chunked uploads carry no Content-Length, check the buffered body.
	if contentLength <= 0 || bl.isChunkedEncoding(ctx) {
		bodySize := int64(len(ctx.PostBody()))
		if bodySize > bl.bodyLimitConfig.MaxBodySize {
			bl.createBodyLimitResponse(ctx)
			return
		}
	}

	next(ctx)
}

func (bl *BodyLimitMiddleware) isChunkedEncoding(ctx *fasthttp.RequestCtx) bool {
	return bytes.Equal(ctx.Request.Header.Peek("Transfer-Encoding"), chunkedBytes)
}

func (bl *BodyLimitMiddleware) createBodyLimitResponse(ctx *fasthttp.RequestCtx) {
	bl.logger.Warn("Request body too large",
		zap.ByteString("path", ctx.Path()),
		zap.Int("content_length", ctx.Request.Header.ContentLength()),
		zap.Int64("max_size", bl.bodyLimitConfig.MaxBodySize))

	if bl.metrics != nil {
		bl.metrics.Counter("http_body_rejected_total", nil).Inc()
	}

	ctx.SetStatusCode(fasthttp.StatusRequestEntityTooLarge)
	ctx.SetContentType("application/json")
	ctx.SetConnectionClose()

	ctx.SetBody(bl.errorResponse)
}
