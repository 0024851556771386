package batch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/outlawai/outlaw-service/types"
)

const (
	DefaultMaxJobs     = 10
	DefaultWorkerLimit = 4
)

// Dispatcher fans the cases of a batch request out across a bounded worker
// pool. The worker function is fixed at construction; each Run call owns its
// own pool, so the dispatcher carries no mutable state between runs.
type Dispatcher struct {
	maxJobs     int
	workerLimit int
	work        types.JobFunc
	logger      types.Logger
	metrics     types.MetricsManager
}

func NewDispatcher(config *types.BatchConfig, logger types.Logger, metrics types.MetricsManager, work types.JobFunc) (*Dispatcher, error) {
	if work == nil {
		return nil, types.ErrBatchJobIsNil
	}

	maxJobs := DefaultMaxJobs
	workerLimit := DefaultWorkerLimit

	if config != nil {
		if config.MaxJobs > 0 {
			maxJobs = config.MaxJobs
		}
		if config.WorkerLimit != 0 {
			workerLimit = config.WorkerLimit
		}
	}

	if workerLimit < 1 {
		return nil, types.Errorf(types.ErrBatchWorkerLimitInvalid, "worker limit: %d", workerLimit)
	}

	dispatcher := &Dispatcher{
		maxJobs:     maxJobs,
		workerLimit: workerLimit,
		work:        work,
		logger:      logger,
		metrics:     metrics,
	}

	logger.Info("Batch dispatcher created",
		zap.Int("max_jobs", maxJobs),
		zap.Int("worker_limit", workerLimit))

	return dispatcher, nil
}

// Run executes every case and returns only when each one has reached a
// terminal state. The size check happens before any work starts; a failing
// case never aborts its siblings.
func (d *Dispatcher) Run(ctx context.Context, inputs []*types.AnalysisRequest) (*types.BatchRun, error) {
	if len(inputs) == 0 {
		return nil, types.ErrBatchEmpty
	}

	if len(inputs) > d.maxJobs {
		return nil, types.Errorf(types.ErrBatchTooLarge, "%d cases submitted, limit is %d", len(inputs), d.maxJobs)
	}

	run := &types.BatchRun{
		Jobs:      make([]*types.BatchJob, len(inputs)),
		StartedAt: time.Now(),
	}

	for i, input := range inputs {
		run.Jobs[i] = &types.BatchJob{
			CaseID: i,
			Input:  input,
			Status: types.JobStatusPending,
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.workerLimit)

	for _, job := range run.Jobs {
		job := job
		group.Go(func() error {
			d.runJob(groupCtx, job)
			return nil
		})
	}

	// Workers report failures through their job slot, never through the
	// group, so Wait only synchronizes.
	_ = group.Wait()

	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)

	for _, job := range run.Jobs {
		if job.Status == types.JobStatusSucceeded {
			run.SuccessCount++
		} else {
			run.FailureCount++
		}
	}

	d.logger.Info("Batch run completed",
		zap.Int("total_cases", len(run.Jobs)),
		zap.Int("successful", run.SuccessCount),
		zap.Int("failed", run.FailureCount),
		zap.Duration("duration", run.Duration))

	d.recordRun(run)

	return run, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job *types.BatchJob) {
	job.Status = types.JobStatusRunning

	defer func() {
		if r := recover(); r != nil {
			job.Status = types.JobStatusFailed
			job.ErrorDetail = fmt.Sprintf("panic: %v", r)
			d.logger.Error("Batch job panicked",
				zap.Int("case_index", job.CaseID),
				zap.Any("panic", r))
		}
	}()

	result, err := d.work(ctx, job.CaseID, job.Input)
	if err != nil {
		job.Status = types.JobStatusFailed
		job.ErrorDetail = err.Error()
		d.logger.Warn("Batch job failed",
			zap.Int("case_index", job.CaseID),
			zap.Error(err))
		return
	}

	job.Status = types.JobStatusSucceeded
	job.Result = result
}

func (d *Dispatcher) recordRun(run *types.BatchRun) {
	if d.metrics == nil {
		return
	}

	d.metrics.Counter("batch_runs_total", nil).Inc()
	d.metrics.Counter("batch_jobs_total", map[string]string{"result": "succeeded"}).Add(float64(run.SuccessCount))
	d.metrics.Counter("batch_jobs_total", map[string]string{"result": "failed"}).Add(float64(run.FailureCount))

	d.metrics.Histogram("batch_run_duration_seconds",
		[]float64{0.01, 0.1, 0.5, 1.0, 5.0, 30.0},
		nil,
	).Observe(run.Duration.Seconds())
}
