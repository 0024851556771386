package types

import (
	"context"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// BatchDispatcher fans a list of independent analysis cases out across a
// bounded number of workers. The worker function is fixed at construction;
// each Run owns its own pool for the duration of the call.
type BatchDispatcher interface {
	Run(ctx context.Context, inputs []*AnalysisRequest) (*BatchRun, error)
}

// JobFunc executes a single case. caseID is the position of the case in the
// submitted batch.
type JobFunc func(ctx context.Context, caseID int, input *AnalysisRequest) (*Report, error)

type BatchJob struct {
	CaseID      int              `json:"case_index"`
	Input       *AnalysisRequest `json:"-"`
	Status      JobStatus        `json:"status"`
	Result      *Report          `json:"result,omitempty"`
	ErrorDetail string           `json:"error,omitempty"`
}

type BatchRun struct {
	Jobs         []*BatchJob   `json:"jobs"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
	Duration     time.Duration `json:"duration"`
	SuccessCount int           `json:"successful"`
	FailureCount int           `json:"failed"`
}
