package legal

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/cache"
	"github.com/outlawai/outlaw-service/types"
)

// statuteQuery scopes the upstream lookup; the service only analyzes
// contract disputes today.
const statuteQuery = "contract"

// Engine builds a legal support report for a single case. Statutes come
// from the cache, then the upstream lookup, then the local dataset; the
// lookup is never called while any cache lock is held, and a failed lookup
// never populates the cache.
type Engine struct {
	cache    types.CacheManager
	lookup   types.StatuteLookup
	dataset  types.DatasetManager
	logger   types.Logger
	metrics  types.MetricsManager
	cacheTTL time.Duration
	nowFunc  func() time.Time
}

func NewEngine(cacheManager types.CacheManager, lookup types.StatuteLookup, dataset types.DatasetManager, cacheTTL time.Duration, logger types.Logger, metrics types.MetricsManager) *Engine {
	return &Engine{
		cache:    cacheManager,
		lookup:   lookup,
		dataset:  dataset,
		logger:   logger,
		metrics:  metrics,
		cacheTTL: cacheTTL,
		nowFunc:  time.Now,
	}
}

func (e *Engine) Analyze(ctx context.Context, req *types.AnalysisRequest) (*types.Report, error) {
	factsLower := strings.ToLower(req.Facts)

	statutes, source, err := e.resolveStatutes(ctx, req.Jurisdiction, req.County)
	if err != nil {
		return nil, err
	}

	procedures, err := e.dataset.FallbackProcedures(req.Jurisdiction)
	if err != nil {
		return nil, types.WrapError(err, "failed to load procedural guidance")
	}

	score := computeScore(req.Facts, factsLower, len(req.Evidence))

	report := &types.Report{
		Jurisdiction: req.Jurisdiction,
		County:       req.County,
		Facts:        req.Facts,
		Statutes:     statutes,
		Procedures:   procedures,
		Risks:        assessRisks(factsLower),
		Score:        score,
		GeneratedAt:  e.nowFunc(),
	}

	e.recordAnalysis(source)
	e.logger.Info("Built legal support report",
		zap.String("jurisdiction", req.Jurisdiction),
		zap.String("county", req.County),
		zap.String("statute_source", source))

	return report, nil
}

// resolveStatutes walks cache, upstream, then dataset. A successful lookup
// is cached even when empty; an empty statute list still falls through to
// the dataset so a report always carries statutes.
func (e *Engine) resolveStatutes(ctx context.Context, jurisdiction, county string) ([]types.Statute, string, error) {
	key := cache.Key("statutes", jurisdiction, county)

	statutes, source := e.cachedStatutes(key)

	if source == "" {
		fetched, err := e.lookup.FetchStatutes(ctx, jurisdiction, statuteQuery)
		if err != nil {
			e.logger.Warn("Statute lookup unavailable, using local dataset",
				zap.String("jurisdiction", jurisdiction),
				zap.Error(err))
			statutes, source = nil, "fallback"
		} else {
			statutes, source = fetched, "lookup"
			if e.cache != nil {
				if cacheErr := e.cache.Set(key, fetched, e.cacheTTL); cacheErr != nil {
					e.logger.Warn("Failed to cache statutes", zap.Error(cacheErr))
				}
			}
		}
	}

	if len(statutes) == 0 {
		fallback, err := e.dataset.FallbackStatutes(jurisdiction)
		if err != nil {
			return nil, "", types.WrapError(err, "failed to load fallback statutes")
		}
		statutes = fallback
		source = "fallback"
	}

	return statutes, source, nil
}

func (e *Engine) cachedStatutes(key string) ([]types.Statute, string) {
	if e.cache == nil {
		return nil, ""
	}

	value, ok := e.cache.Get(key)
	if !ok {
		return nil, ""
	}

	statutes, ok := value.([]types.Statute)
	if !ok {
		return nil, ""
	}

	return statutes, "cache"
}

func assessRisks(factsLower string) []types.RiskItem {
	switch {
	case strings.Contains(factsLower, "inspect") || strings.Contains(factsLower, "eye"):
		return []types.RiskItem{{
			Severity:    "medium",
			Description: "Possible nondisclosure claim",
			Mitigation:  "Show refusal to inspect.",
		}}
	case strings.Contains(factsLower, "oral"):
		return []types.RiskItem{{
			Severity:    "medium",
			Description: "Potential enforceability issue (oral contract).",
			Mitigation:  "Provide corroborating evidence.",
		}}
	default:
		return []types.RiskItem{{
			Severity:    "low",
			Description: "Minor procedural risk",
			Mitigation:  "Ensure timely filing.",
		}}
	}
}

func computeScore(facts, factsLower string, evidenceCount int) types.WinningFactor {
	clarity := 60
	if utf8.RuneCountInString(facts) > 60 {
		clarity = 80
	}
	if strings.Contains(factsLower, "breach") {
		clarity += 5
	}

	penalty := 0
	if strings.Contains(factsLower, "eye") {
		penalty = 10
	}

	score := types.WinningFactor{
		ElementScore:  90,
		EvidenceScore: minInt(100, 70+evidenceCount*5),
		ClarityScore:  minInt(100, clarity),
		RiskPenalty:   penalty,
	}
	score.Overall = overall(score)

	return score
}

func overall(score types.WinningFactor) int {
	value := (score.ElementScore+score.EvidenceScore+score.ClarityScore)/3 - score.RiskPenalty
	if value < 0 {
		return 0
	}
	return value
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (e *Engine) recordAnalysis(source string) {
	if e.metrics == nil {
		return
	}

	e.metrics.Counter("legal_analyses_total", map[string]string{
		"statute_source": source,
	}).Inc()
}
