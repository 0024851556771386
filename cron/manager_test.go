package cron

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/types"
)

type stubConfig struct {
	cfg *types.ServiceConfig
}

func (s *stubConfig) Load() error { return nil }

func (s *stubConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func (s *stubConfig) GetValue(string, interface{}) interface{} { return nil }

func (s *stubConfig) GetAs(string, interface{}) error { return nil }

func (s *stubConfig) Start() error { return nil }

func (s *stubConfig) Stop() error { return nil }

func (s *stubConfig) IsRunning() bool { return true }

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	config := &stubConfig{cfg: &types.ServiceConfig{
		Cron: &types.CronConfig{Enabled: true, Timezone: "UTC"},
	}}

	manager, err := NewManager(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	return manager.(*Manager)
}

func TestAddValidation(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("", "* * * * * *", func() {}); !types.IsError(err, types.ErrCronJobNameIsEmpty) {
		t.Errorf("empty name: %v", err)
	}
	if err := manager.Add("job", "", func() {}); !types.IsError(err, types.ErrCronExpressionInvalid) {
		t.Errorf("empty spec: %v", err)
	}
	if err := manager.Add("job", "* * * * * *", nil); !types.IsError(err, types.ErrCronJobIsNil) {
		t.Errorf("nil job: %v", err)
	}
	if err := manager.Add("job", "not a cron spec", func() {}); err == nil {
		t.Error("invalid spec accepted")
	}
}

func TestAddRejectsDuplicateName(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("sweep", "0 */5 * * * *", func() {}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := manager.Add("sweep", "0 * * * * *", func() {}); !types.IsError(err, types.ErrCronJobExists) {
		t.Errorf("duplicate add: %v", err)
	}
}

func TestWrappedJobRecordsStats(t *testing.T) {
	manager := newTestManager(t)

	ran := false
	if err := manager.Add("sweep", "0 0 0 1 1 *", func() { ran = true }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	manager.jobs["sweep"].Job()

	if !ran {
		t.Fatal("job did not run")
	}

	entry := manager.jobs["sweep"]
	if entry.RunCount != 1 {
		t.Errorf("run count = %d", entry.RunCount)
	}
	if entry.Error != nil {
		t.Errorf("unexpected job error: %v", entry.Error)
	}
	if entry.LastRun.IsZero() {
		t.Error("last run not recorded")
	}
}

func TestWrappedJobRecoversFromPanic(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("panicky", "0 0 0 1 1 *", func() { panic("boom") }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	manager.jobs["panicky"].Job()

	entry := manager.jobs["panicky"]
	if entry.RunCount != 1 {
		t.Errorf("run count = %d", entry.RunCount)
	}
	if !types.IsError(entry.Error, types.ErrCronJobFailed) {
		t.Errorf("expected job failure, got %v", entry.Error)
	}
}

func TestWrappedJobTimesOut(t *testing.T) {
	manager := newTestManager(t)
	manager.jobTimeout = 30 * time.Millisecond

	if err := manager.Add("slow", "0 0 0 1 1 *", func() { time.Sleep(300 * time.Millisecond) }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	manager.jobs["slow"].Job()

	if !types.IsError(manager.jobs["slow"].Error, types.ErrCronJobTimeout) {
		t.Errorf("expected timeout error, got %v", manager.jobs["slow"].Error)
	}
}

func TestScheduledJobRuns(t *testing.T) {
	manager := newTestManager(t)

	ticks := make(chan struct{}, 4)
	if err := manager.Add("tick", "* * * * * *", func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Stop()
	})

	select {
	case <-ticks:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}

func TestLifecycle(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !manager.IsRunning() {
		t.Error("not running after Start")
	}
	if err := manager.Start(); !types.IsError(err, types.ErrCronIsRunning) {
		t.Errorf("second Start: %v", err)
	}

	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if manager.IsRunning() {
		t.Error("still running after Stop")
	}

	if err := manager.Add("late", "* * * * * *", func() {}); !types.IsError(err, types.ErrCronSchedulerStopped) {
		t.Errorf("Add after Stop: %v", err)
	}
}

func TestJobSkippedAfterShutdown(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("sweep", "0 0 0 1 1 *", func() {
		t.Error("job ran after shutdown")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	manager.jobs["sweep"].Job()

	if manager.jobs["sweep"].RunCount != 0 {
		t.Errorf("run count = %d after shutdown", manager.jobs["sweep"].RunCount)
	}
}

func TestHealthCheck(t *testing.T) {
	manager := newTestManager(t)

	check := manager.healthCheck(context.Background())
	if check.Status != types.StatusUnhealthy {
		t.Errorf("stopped scheduler status = %s", check.Status)
	}

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Stop()
	})

	check = manager.healthCheck(context.Background())
	if check.Status != types.StatusHealthy {
		t.Errorf("running scheduler status = %s, message %q", check.Status, check.Message)
	}
}
