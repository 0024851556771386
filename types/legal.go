package types

import (
	"context"
	"time"
)

type LegalEngine interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*Report, error)
}

// StatuteLookup is the upstream collaborator that resolves statute summaries
// from a public collection. Implementations must bound their own latency;
// callers treat any returned error as a signal to fall back to local data.
type StatuteLookup interface {
	FetchStatutes(ctx context.Context, jurisdiction, query string) ([]Statute, error)
}

type AnalysisRequest struct {
	Jurisdiction    string     `json:"jurisdiction" validate:"required,min=2"`
	County          string     `json:"county" validate:"required,min=2"`
	Facts           string     `json:"facts" validate:"required,min=20"`
	Evidence        []Evidence `json:"evidence" validate:"omitempty,dive"`
	RequestedOutput string     `json:"requested_output"`
}

type Evidence struct {
	Label       string `json:"label" validate:"required,min=1"`
	Description string `json:"description"`
}

type LegalElement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Statute struct {
	Citation     string         `json:"citation"`
	Title        string         `json:"title"`
	Jurisdiction string         `json:"jurisdiction"`
	Summary      string         `json:"summary"`
	Elements     []LegalElement `json:"elements"`
}

type ProceduralRule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type RiskItem struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

type WinningFactor struct {
	ElementScore  int `json:"element_score"`
	EvidenceScore int `json:"evidence_score"`
	ClarityScore  int `json:"clarity_score"`
	RiskPenalty   int `json:"risk_penalty"`
	Overall       int `json:"overall"`
}

type Report struct {
	Jurisdiction string           `json:"jurisdiction"`
	County       string           `json:"county"`
	Facts        string           `json:"facts"`
	Statutes     []Statute        `json:"statutes"`
	Procedures   []ProceduralRule `json:"procedures"`
	Risks        []RiskItem       `json:"risks"`
	Score        WinningFactor    `json:"score"`
	GeneratedAt  time.Time        `json:"generated_at"`
}
