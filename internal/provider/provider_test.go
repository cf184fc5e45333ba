package provider

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

func cfg(id string, order int) workflow.StepConfig {
	return workflow.StepConfig{
		StepID:         id,
		StepOrder:      order,
		StepType:       "echo",
		DeploymentMode: workflow.ModeAlwaysAuto,
		ImpactLevel:    workflow.ImpactRead,
	}
}

func stepIDs(steps []workflow.StepConfig) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.StepID
	}
	return ids
}

// ---------------------------------------------------------------------------
// SortSteps / Static
// ---------------------------------------------------------------------------

func TestSortSteps_StableByOrder(t *testing.T) {
	t.Parallel()

	in := []workflow.StepConfig{cfg("c", 3), cfg("a", 1), cfg("b1", 2), cfg("b2", 2)}
	out := SortSteps(in)

	assert.Equal(t, []string{"a", "b1", "b2", "c"}, stepIDs(out))
	assert.Equal(t, "c", in[0].StepID, "input must not be reordered")
}

func TestStatic_GetOrderedSteps(t *testing.T) {
	t.Parallel()

	p := NewStatic(Workflow{ID: "wf", Steps: []workflow.StepConfig{cfg("b", 2), cfg("a", 1)}})

	steps, err := p.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stepIDs(steps))

	steps[0].StepID = "mutated"
	again, err := p.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].StepID)

	_, err = p.GetOrderedSteps(context.Background(), "nope")
	require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestStatic_PutAndList(t *testing.T) {
	t.Parallel()

	p := NewStatic()
	p.Put("zeta", []workflow.StepConfig{cfg("a", 1)})
	p.Put("alpha", []workflow.StepConfig{cfg("a", 1)})

	ids, err := p.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, ids)
}

// ---------------------------------------------------------------------------
// FileProvider
// ---------------------------------------------------------------------------

const releaseTOML = `
id = "release"
description = "Build and ship"

[[steps]]
step_id = "ship"
step_name = "Ship it"
step_order = 2
step_type = "echo"
deployment_mode = "always_manual"
impact_level = "critical"
risk_level = "high"

[steps.validation_config]
timeout_minutes = 1

[[steps]]
step_id = "build"
step_order = 1
step_type = "echo"
deployment_mode = "always_auto"
impact_level = "read"
timeout_seconds = 30
`

func TestFileProvider_LoadsAndSorts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"workflows/release.toml":    {Data: []byte(releaseTOML)},
		"workflows/nested/ops.toml": {Data: []byte("[[steps]]\nstep_id = \"x\"\nstep_order = 1\n")},
		"workflows/readme.md":       {Data: []byte("not a workflow")},
		"elsewhere/ignored.toml":    {Data: []byte("id = \"ignored\"")},
	}
	p, err := NewFSProvider(fsys, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGlob, p.Glob())

	steps, err := p.GetOrderedSteps(context.Background(), "release")
	require.NoError(t, err)
	require.Equal(t, []string{"build", "ship"}, stepIDs(steps))

	assert.Equal(t, 30, steps[0].TimeoutSeconds)
	ship := steps[1]
	assert.Equal(t, "Ship it", ship.StepName)
	assert.Equal(t, workflow.ModeAlwaysManual, ship.DeploymentMode)
	assert.Equal(t, workflow.ImpactCritical, ship.ImpactLevel)
	assert.Equal(t, time.Minute, ship.ApprovalTimeout(0))

	ids, err := p.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ops", "release"}, ids, "id defaults to the file name")

	_, err = p.GetOrderedSteps(context.Background(), "ignored")
	require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestFileProvider_DuplicateIDs(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"workflows/a.toml": {Data: []byte(`id = "same"`)},
		"workflows/b.toml": {Data: []byte(`id = "same"`)},
	}
	p, err := NewFSProvider(fsys, "")
	require.NoError(t, err)

	_, err = p.LoadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined in both")
}

func TestFileProvider_ParseError(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{"workflows/bad.toml": {Data: []byte("id = ")}}
	p, err := NewFSProvider(fsys, "")
	require.NoError(t, err)

	_, err = p.GetOrderedSteps(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflows/bad.toml")
}

func TestFileProvider_WarnsOnUnknownKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf)
	fsys := fstest.MapFS{"workflows/w.toml": {Data: []byte("id = \"w\"\nowner = \"ops\"\n")}}
	p, err := NewFSProvider(fsys, "", WithLogger(logger))
	require.NoError(t, err)

	_, err = p.LoadAll()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "unknown keys")
	assert.Contains(t, buf.String(), "owner")
}

func TestFileProvider_InvalidGlob(t *testing.T) {
	t.Parallel()

	_, err := NewFSProvider(fstest.MapFS{}, "workflows/[")
	require.Error(t, err)
}

func TestNewFileProvider_RootMustBeDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewFileProvider(t.TempDir()+"/missing", "")
	require.Error(t, err)

	p, err := NewFileProvider(t.TempDir(), "*.toml")
	require.NoError(t, err)
	ids, err := p.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// ---------------------------------------------------------------------------
// RedisProvider
// ---------------------------------------------------------------------------

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisProvider_PutGetDelete(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	p := NewRedisProvider(client, "")
	ctx := context.Background()

	gated := cfg("b", 2)
	gated.ValidationConfig = map[string]any{workflow.TimeoutMinutesKey: 2}
	require.NoError(t, p.Put(ctx, "wf", []workflow.StepConfig{gated, cfg("a", 1)}))
	assert.True(t, mr.Exists("stepflow:workflow:wf:steps"))

	steps, err := p.GetOrderedSteps(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, stepIDs(steps))
	assert.Equal(t, 2*time.Minute, steps[1].ApprovalTimeout(0))

	require.NoError(t, p.Delete(ctx, "wf"))
	_, err = p.GetOrderedSteps(ctx, "wf")
	require.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestRedisProvider_ListWorkflows(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	p := NewRedisProvider(client, "team")
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, "deploy", []workflow.StepConfig{cfg("a", 1)}))
	require.NoError(t, p.Put(ctx, "audit", []workflow.StepConfig{cfg("a", 1)}))
	require.NoError(t, mr.Set("team:other", "x"))

	ids, err := p.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "deploy"}, ids)
}

func TestRedisProvider_CorruptValue(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	require.NoError(t, mr.Set("stepflow:workflow:wf:steps", "{not json"))

	_, err := NewRedisProvider(client, "").GetOrderedSteps(context.Background(), "wf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrWorkflowNotFound)
}

func TestRedisProvider_ServerDown(t *testing.T) {
	t.Parallel()

	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisProvider(client, "").GetOrderedSteps(context.Background(), "wf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from redis")
}

// ---------------------------------------------------------------------------
// CachingProvider
// ---------------------------------------------------------------------------

type countingProvider struct {
	mu    sync.Mutex
	calls int
	steps []workflow.StepConfig
	err   error
}

func (c *countingProvider) GetOrderedSteps(_ context.Context, _ string) ([]workflow.StepConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.steps, nil
}

func (c *countingProvider) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCachingProvider_CachesHits(t *testing.T) {
	t.Parallel()

	next := &countingProvider{steps: []workflow.StepConfig{cfg("a", 1)}}
	c := NewCachingProvider(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		steps, err := c.GetOrderedSteps(ctx, "wf")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, stepIDs(steps))
	}
	assert.Equal(t, 1, next.count())
	assert.Equal(t, 1, c.Len())

	c.Invalidate("wf")
	_, err := c.GetOrderedSteps(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())

	c.Flush()
	assert.Equal(t, 0, c.Len())
}

func TestCachingProvider_DoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	next := &countingProvider{err: errors.New("backend down")}
	c := NewCachingProvider(next, time.Minute)

	_, err := c.GetOrderedSteps(context.Background(), "wf")
	require.Error(t, err)
	_, err = c.GetOrderedSteps(context.Background(), "wf")
	require.Error(t, err)
	assert.Equal(t, 2, next.count())
}

func TestCachingProvider_Expires(t *testing.T) {
	t.Parallel()

	next := &countingProvider{steps: []workflow.StepConfig{cfg("a", 1)}}
	c := NewCachingProvider(next, 10*time.Millisecond)

	_, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())
}

func TestCachingProvider_ReturnsCopies(t *testing.T) {
	t.Parallel()

	next := &countingProvider{steps: []workflow.StepConfig{cfg("a", 1)}}
	c := NewCachingProvider(next, time.Minute)

	first, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	first[0].StepID = "mutated"

	second, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	assert.Equal(t, "a", second[0].StepID)
}

func TestCachingProvider_CopiesConfigMaps(t *testing.T) {
	t.Parallel()

	step := cfg("a", 1)
	step.ValidationConfig = map[string]any{"timeout_minutes": int64(5), "reviewers": []any{"ops"}}
	step.PromotionCriteria = map[string]any{"min_success": 0.9}
	step.MonitoringConfig = map[string]any{"alerts": map[string]any{"channel": "#deploys"}}
	next := &countingProvider{steps: []workflow.StepConfig{step}}
	c := NewCachingProvider(next, time.Minute)

	first, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	second, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)

	second[0].ValidationConfig["timeout_minutes"] = int64(999)
	second[0].ValidationConfig["reviewers"].([]any)[0] = "nobody"
	second[0].PromotionCriteria["min_success"] = 0.1
	second[0].MonitoringConfig["alerts"].(map[string]any)["channel"] = "#void"

	third, err := c.GetOrderedSteps(context.Background(), "wf")
	require.NoError(t, err)
	for _, got := range [][]workflow.StepConfig{first, third} {
		assert.Equal(t, int64(5), got[0].ValidationConfig["timeout_minutes"])
		assert.Equal(t, []any{"ops"}, got[0].ValidationConfig["reviewers"])
		assert.Equal(t, 0.9, got[0].PromotionCriteria["min_success"])
		assert.Equal(t, "#deploys", got[0].MonitoringConfig["alerts"].(map[string]any)["channel"])
	}
	assert.Equal(t, 1, next.count())
}

func TestCachingProvider_ListDelegates(t *testing.T) {
	t.Parallel()

	c := NewCachingProvider(NewStatic(Workflow{ID: "x", Steps: []workflow.StepConfig{cfg("a", 1)}}), 0)
	ids, err := c.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)

	c = NewCachingProvider(&countingProvider{}, 0)
	ids, err = c.ListWorkflows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
