package legal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

const (
	DefaultBaseURL        = "https://api.govinfo.gov"
	DefaultTimeoutSeconds = 3
	DefaultMaxRPS         = 5

	userAgent      = "Outlaw-Legal-AI/1.0"
	collectionDate = "2022-01-01"
	maxStatutes    = 3
	maxTitleLength = 90
)

// GovinfoClient fetches statute summaries from the public govinfo
// collection. Every failure surfaces as an error so the engine can fall
// back to the local dataset; the client itself never substitutes data.
type GovinfoClient struct {
	client   *fasthttp.Client
	baseURL  string
	timeout  time.Duration
	throttle *rate.Limiter
	breaker  *CircuitBreaker
	logger   types.Logger
	metrics  types.MetricsManager
}

type collectionResponse struct {
	Packages []collectionPackage `json:"packages"`
}

type collectionPackage struct {
	PackageID string `json:"packageId"`
	Title     string `json:"title"`
}

func NewGovinfoClient(config *types.LookupConfig, logger types.Logger, metrics types.MetricsManager) (*GovinfoClient, error) {
	baseURL := DefaultBaseURL
	timeoutSeconds := DefaultTimeoutSeconds
	maxRPS := DefaultMaxRPS

	var breakerConfig *types.CircuitBreakerConfig

	if config != nil {
		if config.BaseURL != "" {
			baseURL = strings.TrimSuffix(config.BaseURL, "/")
		}
		if config.TimeoutSeconds > 0 {
			timeoutSeconds = config.TimeoutSeconds
		}
		maxRPS = config.MaxRPS
		breakerConfig = config.CircuitBreaker
	}

	timeout := time.Duration(timeoutSeconds) * time.Second

	client := &GovinfoClient{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		baseURL: baseURL,
		timeout: timeout,
		breaker: NewCircuitBreaker(breakerConfig, logger),
		logger:  logger,
		metrics: metrics,
	}

	if maxRPS > 0 {
		client.throttle = rate.NewLimiter(rate.Limit(maxRPS), maxRPS)
	}

	logger.Info("Statute lookup client created",
		zap.String("base_url", baseURL),
		zap.Duration("timeout", timeout),
		zap.Int("max_rps", maxRPS))

	return client, nil
}

// FetchStatutes queries the public collection for a jurisdiction. An empty
// result from a successful call is valid; the caller decides whether to
// fall back.
func (g *GovinfoClient) FetchStatutes(ctx context.Context, jurisdiction, query string) ([]types.Statute, error) {
	if !g.breaker.CanExecute() {
		g.recordLookup("rejected", 0)
		return nil, types.Errorf(types.ErrLookupUnavailable, "circuit breaker %s", g.breaker.StateString())
	}

	if g.throttle != nil {
		if err := g.throttle.Wait(ctx); err != nil {
			g.recordLookup("throttled", 0)
			return nil, types.WrapError(err, "lookup throttle wait aborted")
		}
	}

	start := time.Now()
	statutes, err := g.fetch(jurisdiction)
	duration := time.Since(start)

	if err != nil {
		g.breaker.RecordFailure()
		g.recordLookup("error", duration)
		g.logger.Warn("Statute lookup failed",
			zap.String("jurisdiction", jurisdiction),
			zap.String("query", query),
			zap.Error(err))
		return nil, err
	}

	g.breaker.RecordSuccess()
	g.recordLookup("success", duration)
	g.logger.Info("Fetched statutes from public collection",
		zap.String("jurisdiction", jurisdiction),
		zap.Int("count", len(statutes)))

	return statutes, nil
}

func (g *GovinfoClient) fetch(jurisdiction string) ([]types.Statute, error) {
	url := g.baseURL + "/collections/" + strings.ToLower(jurisdiction) + "code/" + collectionDate

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(userAgent)
	req.Header.Set("Accept", "application/json")

	if err := g.client.DoTimeout(req, resp, g.timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, types.Errorf(types.ErrLookupTimeout, "after %s", g.timeout)
		}
		return nil, types.Errorf(types.ErrLookupRequestFailed, "%v", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, types.Errorf(types.ErrLookupStatusUnexpected, "HTTP %d", resp.StatusCode())
	}

	var collection collectionResponse
	if err := utils.Unmarshal(resp.Body(), &collection); err != nil {
		return nil, types.Errorf(types.ErrLookupResponseInvalid, "%v", err)
	}

	packages := collection.Packages
	if len(packages) > maxStatutes {
		packages = packages[:maxStatutes]
	}

	statutes := make([]types.Statute, 0, len(packages))
	for _, pkg := range packages {
		statutes = append(statutes, types.Statute{
			Citation:     pkg.PackageID,
			Title:        truncate(pkg.Title, maxTitleLength),
			Jurisdiction: jurisdiction,
			Summary:      "Reference from public collection: " + pkg.Title,
			Elements:     []types.LegalElement{},
		})
	}

	return statutes, nil
}

// HealthCheck reports the breaker state; the service wires it into the
// health manager under the "lookup" name.
func (g *GovinfoClient) HealthCheck(ctx context.Context) types.HealthCheck {
	state := g.breaker.StateString()

	status := types.StatusHealthy
	message := "lookup operational"
	if state == "open" {
		status = types.StatusUnhealthy
		message = "upstream lookup unavailable"
	}

	return types.HealthCheck{
		Name:      "lookup",
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"base_url":        g.baseURL,
			"circuit_breaker": state,
		},
	}
}

func (g *GovinfoClient) recordLookup(result string, duration time.Duration) {
	if g.metrics == nil {
		return
	}

	g.metrics.Counter("lookup_requests_total", map[string]string{
		"result": result,
	}).Inc()

	if duration > 0 {
		g.metrics.Histogram("lookup_request_duration_seconds",
			[]float64{0.05, 0.1, 0.5, 1.0, 3.0, 5.0},
			nil,
		).Observe(duration.Seconds())
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
