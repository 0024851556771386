package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
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

type recordingRouter struct {
	routes map[string]*types.RouteInfo
}

func (r *recordingRouter) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if r.routes == nil {
		r.routes = make(map[string]*types.RouteInfo)
	}
	r.routes[method+" "+path] = &types.RouteInfo{Method: method, Path: path, Handler: handler, Config: config}
}

func (r *recordingRouter) Group(string) types.GroupBuilder { return nil }

func (r *recordingRouter) GET(string, types.FastHTTPHandler) types.RouteBuilder { return nil }

func (r *recordingRouter) POST(string, types.FastHTTPHandler) types.RouteBuilder { return nil }

func (r *recordingRouter) PUT(string, types.FastHTTPHandler) types.RouteBuilder { return nil }

func (r *recordingRouter) DELETE(string, types.FastHTTPHandler) types.RouteBuilder { return nil }

func (r *recordingRouter) GetAllRoutes() map[string]*types.RouteInfo { return r.routes }

func newTestManager(t *testing.T) (*Manager, *recordingRouter) {
	t.Helper()

	router := &recordingRouter{}
	config := &stubConfig{cfg: &types.ServiceConfig{
		Name:    "outlaw-legal-ai",
		Version: "1.0.0",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{Host: "127.0.0.1", Port: 8080},
		},
	}}

	manager, err := NewManager(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), router)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	return manager, router
}

func TestCheckAggregatesResults(t *testing.T) {
	manager, _ := newTestManager(t)

	manager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("lookup", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "circuit open"}
	})
	manager.RegisterChecker("dataset", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := manager.Check(context.Background())

	if report.Status != types.StatusUnhealthy {
		t.Errorf("overall status = %s, want unhealthy", report.Status)
	}
	if report.Summary.Total != 3 || report.Summary.Healthy != 1 || report.Summary.Unhealthy != 1 || report.Summary.Unknown != 1 {
		t.Errorf("summary = %+v", report.Summary)
	}

	check, ok := report.Checks["lookup"]
	if !ok {
		t.Fatal("lookup check missing from report")
	}
	if check.Name != "lookup" || check.Message != "circuit open" {
		t.Errorf("lookup check = %+v", check)
	}
	if check.LastCheck.IsZero() {
		t.Error("check timestamp not set")
	}
}

func TestCheckDegradesToUnknown(t *testing.T) {
	manager, _ := newTestManager(t)

	manager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	manager.RegisterChecker("dataset", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := manager.Check(context.Background())

	if report.Status != types.StatusUnknown {
		t.Errorf("overall status = %s, want unknown", report.Status)
	}
}

func TestCheckRecoversFromPanickingChecker(t *testing.T) {
	manager, _ := newTestManager(t)

	manager.RegisterChecker("broken", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})
	manager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := manager.Check(context.Background())

	broken := report.Checks["broken"]
	if broken.Status != types.StatusUnhealthy {
		t.Errorf("panicking checker status = %s, want unhealthy", broken.Status)
	}
	if !strings.Contains(broken.Message, "panicked") {
		t.Errorf("panicking checker message = %q", broken.Message)
	}
	if report.Checks["cache"].Status != types.StatusHealthy {
		t.Error("healthy checker affected by sibling panic")
	}
}

func TestCheckTimesOutSlowChecker(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.checkTimeout = 30 * time.Millisecond

	manager.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(500 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := manager.Check(context.Background())

	slow := report.Checks["slow"]
	if slow.Status != types.StatusUnhealthy {
		t.Errorf("slow checker status = %s, want unhealthy", slow.Status)
	}
	if !strings.Contains(slow.Message, "timeout") {
		t.Errorf("slow checker message = %q", slow.Message)
	}
}

func TestReportServiceInfo(t *testing.T) {
	manager, _ := newTestManager(t)

	report := manager.Check(context.Background())

	if report.Service.Name != "outlaw-legal-ai" {
		t.Errorf("service name = %q", report.Service.Name)
	}
	if report.Service.Version != "1.0.0" {
		t.Errorf("service version = %q", report.Service.Version)
	}
	if report.Service.Port != 8080 {
		t.Errorf("service port = %d", report.Service.Port)
	}
	if report.Status != types.StatusHealthy {
		t.Errorf("empty report status = %s, want healthy", report.Status)
	}
}

func TestStartRegistersRoutes(t *testing.T) {
	manager, router := newTestManager(t)

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Stop()
	})

	if !manager.IsRunning() {
		t.Error("manager not running after Start")
	}

	for _, key := range []string{"GET /health", "GET /version"} {
		info, ok := router.routes[key]
		if !ok {
			t.Fatalf("route %s not registered", key)
		}
		if info.Handler == nil {
			t.Errorf("route %s has nil handler", key)
		}
	}
}

func TestStopClearsCheckers(t *testing.T) {
	manager, _ := newTestManager(t)

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	manager.RegisterChecker("cache", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if manager.IsRunning() {
		t.Error("manager still running after Stop")
	}
}

func TestHandleHealthWhenNotRunning(t *testing.T) {
	manager, _ := newTestManager(t)

	var ctx fasthttp.RequestCtx
	manager.handleHealth(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", ctx.Response.StatusCode())
	}
}

func TestHandleVersion(t *testing.T) {
	manager, _ := newTestManager(t)

	if err := manager.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = manager.Stop()
	})

	var ctx fasthttp.RequestCtx
	manager.handleVersion(&ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}

	body := string(ctx.Response.Body())
	if !strings.Contains(body, `"version":"1.0.0"`) {
		t.Errorf("version body = %s", body)
	}
	if !strings.Contains(body, `"build_info"`) {
		t.Errorf("version body missing build info: %s", body)
	}
}

func TestParseBuildInfoFile(t *testing.T) {
	content := `# build metadata
VERSION=2.1.0
GIT_COMMIT=0123456789abcdef
GIT_BRANCH=main
BUILD_TIME=2025-06-01T12:00:00Z

malformed line
`

	info := parseBuildInfoFile(content)

	if info.Version != "2.1.0" {
		t.Errorf("version = %q", info.Version)
	}
	if info.GitCommit != "0123456789abcdef" {
		t.Errorf("commit = %q", info.GitCommit)
	}
	if info.GitBranch != "main" {
		t.Errorf("branch = %q", info.GitBranch)
	}
	if info.BuildTime.Format("2006-01-02") != "2025-06-01" {
		t.Errorf("build time = %s", info.BuildTime)
	}
}
