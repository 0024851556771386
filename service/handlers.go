package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/render"
	"github.com/outlawai/outlaw-service/server"
	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

const (
	serviceTitle       = "Outlaw Legal AI"
	serviceDescription = "Automated legal-support and analysis engine"
	minFactsLength     = 20
)

// Handlers exposes the application endpoints. Component routes (health,
// version, metrics) are registered by their owners; everything else
// lives here.
type Handlers struct {
	logger     types.Logger
	version    string
	engine     types.LegalEngine
	dispatcher types.BatchDispatcher
	renderer   types.ReportRenderer
	analytics  types.AnalyticsCollector
	cache      types.CacheManager
	limiter    types.RateLimiter
	dataset    types.DatasetManager
	router     *server.Router
	validate   *validator.Validate
}

func NewHandlers(
	logger types.Logger,
	version string,
	engine types.LegalEngine,
	dispatcher types.BatchDispatcher,
	renderer types.ReportRenderer,
	analytics types.AnalyticsCollector,
	cache types.CacheManager,
	limiter types.RateLimiter,
	dataset types.DatasetManager) *Handlers {
	return &Handlers{
		logger:     logger,
		version:    version,
		engine:     engine,
		dispatcher: dispatcher,
		renderer:   renderer,
		analytics:  analytics,
		cache:      cache,
		limiter:    limiter,
		dataset:    dataset,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handlers) RegisterRoutes(router *server.Router) {
	h.router = router

	router.GET("/", h.handleRoot).
		WithDoc("Welcome", "API welcome message and entry points", "General")

	router.GET("/api", h.handleCatalog).
		WithDoc("Service catalog", "Service metadata, endpoint catalog and supported output formats", "General")

	router.GET("/ui", h.handleUI).
		WithDoc("Web interface", "Browser form for submitting analysis requests", "General")

	router.POST("/legal-support", h.handleAnalyze).
		WithDoc("Legal support report", "Generate a legal support report in the requested output format", "Legal").
		WithMiddlewares("rate_limit").
		WithTimeout(30 * time.Second)

	router.POST("/legal-support/batch", h.handleBatch).
		WithDoc("Batch analysis", "Process multiple cases concurrently in one request", "Legal").
		WithMiddlewares("rate_limit").
		WithTimeout(120 * time.Second)

	router.GET("/jurisdictions", h.handleJurisdictions).
		WithDoc("Jurisdictions", "Jurisdictions and counties with their support status", "Legal")

	router.GET("/analytics", h.handleAnalytics).
		WithDoc("Analytics", "Request totals, cache statistics and uptime", "Operations")

	router.DELETE("/cache", h.handleCacheClear).
		WithDoc("Clear cache", "Drop every cached statute entry", "Operations")

	rateLimitRoutes := router.Group("/rate-limit")

	rateLimitRoutes.GET("/stats", h.handleRateLimitStats).
		WithDoc("Rate limit stats", "Rate limiter configuration and tracked client count", "Operations")

	rateLimitRoutes.DELETE("/reset", h.handleRateLimitReset).
		WithDoc("Reset rate limits", "Reset request counters for one client or for all clients", "Operations")
}

func (h *Handlers) handleRoot(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{
		"message":       "Welcome to " + serviceTitle + " API",
		"usage":         "POST /legal-support with JSON body",
		"web_interface": "/ui",
		"documentation": "/api",
	})
}

func (h *Handlers) handleCatalog(ctx *fasthttp.RequestCtx) {
	routes := h.router.SortedRoutes()

	endpoints := make(map[string]string, len(routes))
	for _, route := range routes {
		description := ""
		if route.Config != nil && route.Config.Doc != nil {
			description = route.Config.Doc.Description
		}
		endpoints[route.Method+" "+route.Path] = description
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"name":              serviceTitle,
		"version":           h.version,
		"description":       serviceDescription,
		"endpoints":         endpoints,
		"supported_outputs": h.renderer.SupportedFormats(),
		"min_facts_length":  minFactsLength,
	})
}

func (h *Handlers) handleAnalyze(ctx *fasthttp.RequestCtx) {
	var req types.AnalysisRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.CreateBadRequestResponse(ctx, "request body must be valid JSON")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		utils.CreateBadRequestResponse(ctx, validationDetail(err))
		return
	}

	format := req.RequestedOutput
	if strings.TrimSpace(format) == "" {
		format = render.FormatJSON
	}
	if _, err := render.ResolveFormat(format); err != nil {
		utils.CreateBadRequestResponse(ctx, err.Error())
		return
	}

	h.analytics.RecordRequest()

	report, err := h.engine.Analyze(ctx, &req)
	if err != nil {
		h.logger.Error("Analysis failed",
			zap.String("jurisdiction", req.Jurisdiction),
			zap.String("county", req.County),
			zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	rendered, err := h.renderer.Render(format, report)
	if err != nil {
		h.logger.Error("Render failed", zap.String("format", format), zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	if !rendered.Attachment {
		utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
			"status": "success",
			"data":   report,
		})
		return
	}

	filename := render.AttachmentFileName(report.County, rendered.Extension)
	ctx.Response.Header.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(rendered.ContentType)
	ctx.SetBody(rendered.Body)
}

type batchAnalysisRequest struct {
	Cases []*types.AnalysisRequest `json:"cases"`
}

type batchCaseResult struct {
	CaseIndex int           `json:"case_index"`
	Status    string        `json:"status"`
	Data      *types.Report `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type batchResponse struct {
	Status                string            `json:"status"`
	Results               []batchCaseResult `json:"results"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	TotalCases            int               `json:"total_cases"`
	Successful            int               `json:"successful"`
	Failed                int               `json:"failed"`
}

func (h *Handlers) handleBatch(ctx *fasthttp.RequestCtx) {
	var req batchAnalysisRequest
	if err := utils.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.CreateBadRequestResponse(ctx, "request body must be valid JSON")
		return
	}

	// The whole batch is rejected if any single case is malformed, so a
	// partial run never silently swallows an operator mistake.
	for i, batchCase := range req.Cases {
		if batchCase == nil {
			utils.CreateBadRequestResponse(ctx, fmt.Sprintf("case %d: entry must be an object", i))
			return
		}
		if err := h.validate.Struct(batchCase); err != nil {
			utils.CreateBadRequestResponse(ctx, fmt.Sprintf("case %d: %s", i, validationDetail(err)))
			return
		}
	}

	run, err := h.dispatcher.Run(ctx, req.Cases)
	if err != nil {
		if types.IsError(err, types.ErrBatchEmpty) || types.IsError(err, types.ErrBatchTooLarge) {
			utils.CreateBadRequestResponse(ctx, err.Error())
			return
		}
		h.logger.Error("Batch execution failed", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	h.analytics.RecordRequest()

	results := make([]batchCaseResult, 0, len(run.Jobs))
	for _, job := range run.Jobs {
		result := batchCaseResult{
			CaseIndex: job.CaseID,
			Status:    "error",
			Error:     job.ErrorDetail,
		}
		if job.Status == types.JobStatusSucceeded {
			result.Status = "success"
			result.Data = job.Result
			result.Error = ""
		}
		results = append(results, result)
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, batchResponse{
		Status:                "completed",
		Results:               results,
		ProcessingTimeSeconds: math.Round(run.Duration.Seconds()*100) / 100,
		TotalCases:            len(run.Jobs),
		Successful:            run.SuccessCount,
		Failed:                run.FailureCount,
	})
}

func (h *Handlers) handleJurisdictions(ctx *fasthttp.RequestCtx) {
	jurisdictions, err := h.dataset.Jurisdictions()
	if err != nil {
		h.logger.Error("Jurisdiction listing failed", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"jurisdictions": jurisdictions,
	})
}

func (h *Handlers) handleAnalytics(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, h.analytics.Snapshot())
}

func (h *Handlers) handleCacheClear(ctx *fasthttp.RequestCtx) {
	if h.cache != nil {
		if err := h.cache.Clear(); err != nil {
			h.logger.Error("Cache clear failed", zap.Error(err))
			utils.CreateErrorResponse(ctx)
			return
		}
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cache cleared successfully",
	})
}

func (h *Handlers) handleRateLimitStats(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"status": "success",
		"stats":  h.limiter.Stats(),
	})
}

func (h *Handlers) handleRateLimitReset(ctx *fasthttp.RequestCtx) {
	clientID := string(ctx.QueryArgs().Peek("client_id"))

	message := "Rate limit reset for all clients"
	if clientID != "" {
		h.limiter.Reset(clientID)
		message = "Rate limit reset for " + clientID
	} else {
		h.limiter.ResetAll()
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

func (h *Handlers) handleUI(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/html; charset=utf-8")
	ctx.SetBodyString(uiPage)
}

// validationDetail flattens validator errors into the single human
// readable line returned in 400 responses.
func validationDetail(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return "request validation failed"
	}

	parts := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		field := strings.ToLower(fieldError.Field())
		switch fieldError.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", field, fieldError.Param()))
		default:
			parts = append(parts, field+" is invalid")
		}
	}

	return strings.Join(parts, "; ")
}

const uiPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Outlaw Legal AI</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 720px; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; }
h1 { font-size: 1.5rem; }
label { display: block; margin-top: 1rem; font-weight: 600; }
input, select, textarea { width: 100%; padding: 0.5rem; margin-top: 0.25rem; border: 1px solid #ccc; border-radius: 4px; font: inherit; }
textarea { min-height: 8rem; }
button { margin-top: 1.25rem; padding: 0.6rem 1.5rem; background: #16213e; color: #fff; border: 0; border-radius: 4px; cursor: pointer; }
pre { background: #f4f4f8; padding: 1rem; border-radius: 4px; overflow-x: auto; white-space: pre-wrap; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>Outlaw Legal AI</h1>
<p>Submit case facts to generate a legal support report. See <a href="/api">/api</a> for the full endpoint catalog.</p>
<form id="case-form">
<label for="jurisdiction">Jurisdiction</label>
<select id="jurisdiction"><option>California</option><option>New York</option><option>Texas</option></select>
<label for="county">County</label>
<input id="county" value="Riverside">
<label for="facts">Case facts (at least 20 characters)</label>
<textarea id="facts" placeholder="Describe what happened..."></textarea>
<label for="format">Output format</label>
<select id="format"><option>json</option><option>pdf</option><option>html</option><option>markdown</option><option>text</option></select>
<button type="submit">Generate report</button>
</form>
<div id="output"></div>
<script>
document.getElementById('case-form').addEventListener('submit', async function (event) {
  event.preventDefault();
  const output = document.getElementById('output');
  output.innerHTML = '<p>Working...</p>';
  const body = {
    jurisdiction: document.getElementById('jurisdiction').value,
    county: document.getElementById('county').value,
    facts: document.getElementById('facts').value,
    requested_output: document.getElementById('format').value
  };
  try {
    const response = await fetch('/legal-support', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify(body)
    });
    const disposition = response.headers.get('Content-Disposition') || '';
    if (response.ok && disposition.includes('attachment')) {
      const blob = await response.blob();
      const link = document.createElement('a');
      link.href = URL.createObjectURL(blob);
      link.download = (disposition.match(/filename="([^"]+)"/) || [])[1] || 'report';
      link.click();
      URL.revokeObjectURL(link.href);
      output.innerHTML = '<p>Report downloaded.</p>';
      return;
    }
    const payload = await response.json();
    if (!response.ok) {
      output.innerHTML = '<p class="error">' + (payload.message || 'Request failed') + '</p>';
      return;
    }
    output.innerHTML = '<pre>' + JSON.stringify(payload.data, null, 2) + '</pre>';
  } catch (err) {
    output.innerHTML = '<p class="error">' + err + '</p>';
  }
});
</script>
</body>
</html>
`
