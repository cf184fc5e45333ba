package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, steps []StepConfig, opts ...EngineOption) *Manager {
	t.Helper()
	reg := registryOf(map[string]Activity{"task": okActivity(nil)})
	e, _, _ := newTestEngine(steps, reg, opts...)
	m := NewManager(context.Background(), e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestManager_StartAndWait(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysAuto, ImpactRead)})

	run, err := m.Start(testWorkflowID, map[string]any{"a": 1})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID())

	outcome, err := m.Wait(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, outcome.Status)
	assert.Equal(t, run.ID(), outcome.RunID)
}

func TestManager_SignalRoutesToRun(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactWrite)})

	run, err := m.StartWithID("r-1", testWorkflowID, nil)
	require.NoError(t, err)
	waitForPending(t, run, "s1")

	snap, err := m.Status(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, snap.AwaitingApproval)

	require.NoError(t, m.Signal("r-1", ApprovalSignal{StepID: "s1", UserID: "dana", Action: ActionApproved}))

	outcome, err := m.Wait(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, outcome.Status)
	assert.Equal(t, "dana", outcome.CompletedSteps[0].ApprovedBy)
}

func TestManager_UnknownRun(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)

	_, err := m.Get("nope")
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, m.Signal("nope", approve("s1")), ErrRunNotFound)
	require.ErrorIs(t, m.Cancel("nope"), ErrRunNotFound)
	require.ErrorIs(t, m.Remove("nope"), ErrRunNotFound)
	_, err = m.Status(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
	_, err = m.Wait(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_DuplicateRunID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysAuto, ImpactRead)})

	_, err := m.StartWithID("same", testWorkflowID, nil)
	require.NoError(t, err)
	_, err = m.StartWithID("same", testWorkflowID, nil)
	require.ErrorIs(t, err, ErrRunExists)
}

func TestManager_StartRequiresWorkflowID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, nil)
	_, err := m.Start("", nil)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactRead)})

	run, err := m.Start(testWorkflowID, nil)
	require.NoError(t, err)
	waitForPending(t, run, "s1")

	require.NoError(t, m.Cancel(run.ID()))
	outcome, err := m.Wait(context.Background(), run.ID())
	require.NoError(t, err)
	assert.Equal(t, RunCancelled, outcome.Status)

	require.ErrorIs(t, m.Cancel(run.ID()), ErrRunFinished)
}

func TestManager_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactRead)})
	run, err := m.Start(testWorkflowID, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, run.ID())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_RemoveOnlyFinishedRuns(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactRead)})
	run, err := m.Start(testWorkflowID, nil)
	require.NoError(t, err)
	waitForPending(t, run, "s1")

	require.Error(t, m.Remove(run.ID()))

	require.NoError(t, m.Signal(run.ID(), approve("s1")))
	_, err = m.Wait(context.Background(), run.ID())
	require.NoError(t, err)

	require.NoError(t, m.Remove(run.ID()))
	_, err = m.Get(run.ID())
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestManager_StatusFallsBackToStore(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysAuto, ImpactRead)}, WithCheckpointing(store))

	run, err := m.StartWithID("kept", testWorkflowID, nil)
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), run.ID())
	require.NoError(t, err)
	require.NoError(t, m.Remove(run.ID()))

	snap, err := m.Status(context.Background(), "kept")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, snap.Status)

	summaries, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, RunSummary{RunID: "kept", WorkflowID: testWorkflowID, Status: RunCompleted}, summaries[0])
}

func TestManager_ListSorted(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysAuto, ImpactRead)})
	for _, id := range []string{"c", "a", "b"} {
		_, err := m.StartWithID(id, testWorkflowID, nil)
		require.NoError(t, err)
	}

	summaries, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "a", summaries[0].RunID)
	assert.Equal(t, "b", summaries[1].RunID)
	assert.Equal(t, "c", summaries[2].RunID)
	for _, s := range summaries {
		assert.True(t, s.Live)
	}
}

func TestManager_LaunchPreparedRun(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, []StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactRead)})

	run := m.Engine().NewRun("prepared", testWorkflowID, nil)
	require.NoError(t, run.Signal(ApprovalSignal{StepID: "s1", UserID: "alice", Action: ActionApproved}))
	require.NoError(t, m.Launch(run))

	outcome, err := m.Wait(context.Background(), "prepared")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, outcome.Status)
	require.Len(t, outcome.CompletedSteps, 1)
	assert.Equal(t, "alice", outcome.CompletedSteps[0].ApprovedBy)

	err = m.Launch(m.Engine().NewRun("prepared", testWorkflowID, nil))
	assert.ErrorIs(t, err, ErrRunExists)
}

func TestManager_ShutdownCancelsLiveRuns(t *testing.T) {
	t.Parallel()

	reg := registryOf(map[string]Activity{"task": okActivity(nil)})
	e, _, _ := newTestEngine([]StepConfig{step("s1", 1, "task", ModeAlwaysManual, ImpactRead)}, reg)
	m := NewManager(context.Background(), e)

	run, err := m.Start(testWorkflowID, nil)
	require.NoError(t, err)
	waitForPending(t, run, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, RunCancelled, run.Outcome().Status)

	_, err = m.Start(testWorkflowID, nil)
	require.ErrorIs(t, err, ErrManagerClosed)
}
