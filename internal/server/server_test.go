package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbyu/ump-sub000/internal/metrics"
	"github.com/netbyu/ump-sub000/internal/provider"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func testSteps() map[string][]workflow.StepConfig {
	return map[string][]workflow.StepConfig{
		"auto": {
			{StepID: "build", StepOrder: 1, StepType: "ok", DeploymentMode: workflow.ModeAlwaysAuto, ImpactLevel: workflow.ImpactRead},
			{StepID: "test", StepOrder: 2, StepType: "ok", DeploymentMode: workflow.ModeAutoMonitored, ImpactLevel: workflow.ImpactRead},
		},
		"gated": {
			{StepID: "prepare", StepOrder: 1, StepType: "ok", DeploymentMode: workflow.ModeAlwaysAuto, ImpactLevel: workflow.ImpactRead},
			{StepID: "deploy", StepOrder: 2, StepType: "ok", DeploymentMode: workflow.ModeAlwaysManual, ImpactLevel: workflow.ImpactWrite},
		},
		"broken": {
			{StepID: "x", StepOrder: 1, StepType: "missing", DeploymentMode: workflow.ModeAlwaysAuto, ImpactLevel: workflow.ImpactRead},
		},
	}
}

type testEnv struct {
	srv      *httptest.Server
	client   *Client
	manager  *workflow.Manager
	recorder *metrics.Recorder
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	static := provider.NewStatic()
	for id, steps := range testSteps() {
		static.Put(id, steps)
	}
	reg := workflow.NewRegistry()
	reg.RegisterFunc("ok", func(_ context.Context, _ map[string]any) (workflow.ActivityResult, error) {
		return workflow.ActivityResult{Success: true}, nil
	})
	rec := metrics.NewRecorder()
	quiet := log.New(io.Discard)
	engine := workflow.NewEngine(static, reg, workflow.WithMetricsLogger(rec), workflow.WithLogger(quiet))
	m := workflow.NewManager(context.Background(), engine)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	all := append([]Option{WithMetrics(rec), WithWorkflowLister(static), WithLogger(quiet)}, opts...)
	s := New(m, all...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, client: NewClient(srv.URL, srv.Client()), manager: m, recorder: rec}
}

func (e *testEnv) waitForStatus(t *testing.T, runID string, want workflow.RunStatus) workflow.Snapshot {
	t.Helper()
	var snap workflow.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = e.client.GetRun(context.Background(), runID)
		return err == nil && snap.Status == want
	}, 5*time.Second, 10*time.Millisecond, "run %s never reached %s", runID, want)
	return snap
}

func (e *testEnv) waitForApproval(t *testing.T, runID, stepID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := e.client.GetRun(context.Background(), runID)
		if err != nil {
			return false
		}
		for _, id := range snap.AwaitingApproval {
			if id == stepID {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "expected *APIError, got %v", err)
	return apiErr.StatusCode
}

// ---------------------------------------------------------------------------
// runs
// ---------------------------------------------------------------------------

func TestCreateRun_Completes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "auto", RunID: "r-1", Input: map[string]any{"env": "dev"}})
	require.NoError(t, err)
	assert.Equal(t, "r-1", resp.RunID)
	assert.Equal(t, "auto", resp.WorkflowID)

	snap := env.waitForStatus(t, "r-1", workflow.RunCompleted)
	require.Len(t, snap.StepResults, 2)
	assert.Equal(t, "build", snap.StepResults[0].StepID)
	assert.Equal(t, "test", snap.StepResults[1].StepID)

	runs, err := env.client.ListRuns(ctx, "completed")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r-1", runs[0].RunID)

	runs, err = env.client.ListRuns(ctx, "running")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCreateRun_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRunRequest
		want int
	}{
		{name: "missing workflow id", req: CreateRunRequest{}, want: http.StatusBadRequest},
		{name: "unknown workflow", req: CreateRunRequest{WorkflowID: "nope"}, want: http.StatusNotFound},
		{name: "invalid workflow", req: CreateRunRequest{WorkflowID: "broken"}, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.StartRun(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, apiStatus(t, err))
		})
	}
}

func TestCreateRun_DuplicateID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "gated", RunID: "dup"})
	require.NoError(t, err)
	_, err = env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "gated", RunID: "dup"})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apiStatus(t, err))
}

func TestCreateRun_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Post(env.srv.URL+"/api/v1/runs", "application/json",
		bytes.NewBufferString(`{"workflow_id":"auto","surprise":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.client.GetRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))
}

func TestGetRun_ETag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.client.StartRun(context.Background(), CreateRunRequest{WorkflowID: "auto", RunID: "e-1"})
	require.NoError(t, err)
	env.waitForStatus(t, "e-1", workflow.RunCompleted)

	first, err := http.Get(env.srv.URL + "/api/v1/runs/e-1")
	require.NoError(t, err)
	first.Body.Close()
	etag := first.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/runs/e-1", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	second, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusNotModified, second.StatusCode)

	// The client serves the cached snapshot on 304.
	snap, err := env.client.GetRun(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCompleted, snap.Status)
}

func TestDeleteRun_CancelThenRemove(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "gated", RunID: "c-1"})
	require.NoError(t, err)
	env.waitForApproval(t, "c-1", "deploy")

	require.NoError(t, env.client.CancelRun(ctx, "c-1"))
	snap := env.waitForStatus(t, "c-1", workflow.RunCancelled)
	require.Len(t, snap.StepResults, 1, "the interrupted step records no result")

	require.NoError(t, env.client.CancelRun(ctx, "c-1"), "deleting a finished run removes it")
	_, err = env.client.GetRun(ctx, "c-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))

	err = env.client.CancelRun(ctx, "c-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))
}

// ---------------------------------------------------------------------------
// signals
// ---------------------------------------------------------------------------

func TestSignal_ApprovesGatedStep(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "gated", RunID: "g-1"})
	require.NoError(t, err)
	env.waitForApproval(t, "g-1", "deploy")

	err = env.client.Signal(ctx, "g-1", workflow.ApprovalSignal{StepID: "deploy", UserID: "alice", Action: workflow.ActionApproved})
	require.NoError(t, err)

	snap := env.waitForStatus(t, "g-1", workflow.RunCompleted)
	require.Len(t, snap.StepResults, 2)
	assert.Equal(t, "alice", snap.StepResults[1].ApprovedBy)

	err = env.client.Signal(ctx, "g-1", workflow.ApprovalSignal{StepID: "deploy", UserID: "bob", Action: workflow.ActionRejected})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apiStatus(t, err), "signals after the run ends are refused")
}

func TestSignal_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.StartRun(ctx, CreateRunRequest{WorkflowID: "gated", RunID: "s-1"})
	require.NoError(t, err)
	env.waitForApproval(t, "s-1", "deploy")

	err = env.client.Signal(ctx, "s-1", workflow.ApprovalSignal{StepID: "deploy", Action: "maybe"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, err))

	err = env.client.Signal(ctx, "ghost", workflow.ApprovalSignal{StepID: "deploy", Action: workflow.ActionApproved})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))

	// A rejection ends the wait; the second signal for the same step is a
	// duplicate or arrives after the run finished.
	require.NoError(t, env.client.Signal(ctx, "s-1", workflow.ApprovalSignal{StepID: "deploy", UserID: "u", Action: workflow.ActionRejected}))
	err = env.client.Signal(ctx, "s-1", workflow.ApprovalSignal{StepID: "deploy", UserID: "u", Action: workflow.ActionApproved})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apiStatus(t, err))
}

// ---------------------------------------------------------------------------
// workflows, health, metrics
// ---------------------------------------------------------------------------

func TestPlan(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	plan, err := env.client.Plan(ctx, "gated")
	require.NoError(t, err)
	assert.Equal(t, "gated", plan.WorkflowID)
	require.Len(t, plan.Steps, 2)
	assert.False(t, plan.Steps[0].RequiresApproval)
	assert.True(t, plan.Steps[1].RequiresApproval)
	assert.Equal(t, 2, plan.Steps[1].MaxAttempts)
	assert.True(t, plan.Validation.IsValid())

	plan, err = env.client.Plan(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, plan.Validation.IsValid())

	_, err = env.client.Plan(ctx, "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, err))
}

func TestListWorkflows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ids, err := env.client.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"auto", "broken", "gated"}, ids)
}

func TestListWorkflows_NoLister(t *testing.T) {
	t.Parallel()

	engine := workflow.NewEngine(provider.NewStatic(), workflow.NewRegistry())
	m := workflow.NewManager(context.Background(), engine)
	srv := httptest.NewServer(New(m, WithLogger(log.New(io.Discard))).Handler())
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).ListWorkflows(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusNotImplemented, apiStatus(t, err))
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.client.Health(context.Background()))

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stepflow_http_requests_total{code="200",method="GET",route="/health"} 1`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	engine := workflow.NewEngine(provider.NewStatic(), workflow.NewRegistry())
	m := workflow.NewManager(context.Background(), engine)
	s := New(m, WithLogger(log.New(io.Discard)), WithShutdownTimeout(time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	client := NewClient("http://"+ln.Addr().String(), nil)
	require.Eventually(t, func() bool {
		return client.Health(context.Background()) == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
