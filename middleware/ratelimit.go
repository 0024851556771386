package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

// RateLimitMiddleware enforces the shared per-client limiter on the
// routes that attach it. It is registered disabled by default, so only
// routes listing "rate_limit" in RouteConfig.Middlewares pay for it.
type RateLimitMiddleware struct {
	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager
	limiter types.RateLimiter
	weight  int
}

func NewRateLimitMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, limiter types.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		config:  config,
		logger:  logger,
		metrics: metrics,
		limiter: limiter,
		weight:  config.GetConfig().Middlewares.RateLimit.Weight,
	}
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	clientKey := clientKey(ctx)

	decision := rl.limiter.Allow(clientKey, time.Now())
	if !decision.Admitted {
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", clientKey),
			zap.ByteString("path", ctx.Path()),
			zap.Int("retry_after", decision.RetryAfterSeconds))

		if rl.metrics != nil {
			rl.metrics.Counter("ratelimit_denied_total", nil).Inc()
		}

		rl.createRateLimitResponse(ctx, decision.RetryAfterSeconds)
		return
	}

	if rl.metrics != nil {
		rl.metrics.Counter("ratelimit_admitted_total", nil).Inc()
	}

	next(ctx)
}

func (rl *RateLimitMiddleware) createRateLimitResponse(ctx *fasthttp.RequestCtx, retryAfter int) {
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
	utils.WriteJSON(ctx, fasthttp.StatusTooManyRequests, map[string]string{
		"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
	})
}

// clientKey reuses the ip resolved by the metadata middleware when it
// already ran for this request.
func clientKey(ctx *fasthttp.RequestCtx) string {
	if metadata, ok := ctx.UserValue("metadata").(map[string]string); ok {
		if ip := metadata["real_ip"]; ip != "" {
			return ip
		}
	}

	return extractRealIP(ctx)
}
