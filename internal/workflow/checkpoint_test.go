package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(runID string) Snapshot {
	cursor := 1
	return Snapshot{
		RunID:            runID,
		WorkflowID:       "wf",
		Status:           RunRunning,
		CurrentStepIndex: &cursor,
		TotalSteps:       2,
		StepResults:      []StepResult{{StepID: "s1", StepOrder: 1, Status: StatusCompleted, Success: true}},
		AwaitingApproval: []string{},
		Approvals:        map[string]ApprovalSignal{},
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
	}
}

func TestNewFileStateStore_CreatesDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "state")
	s, err := NewFileStateStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())
	assert.DirExists(t, dir)

	_, err = NewFileStateStore("")
	require.Error(t, err)
}

func TestFileStateStore_SaveLoad(t *testing.T) {
	t.Parallel()

	s, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	want := sampleSnapshot("run-1")
	require.NoError(t, s.Save(context.Background(), want))
	assert.FileExists(t, filepath.Join(s.Dir(), "run-1.json"))

	got, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStateStore_LoadMissing(t *testing.T) {
	t.Parallel()

	s, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestFileStateStore_SkipsUnchangedWrites(t *testing.T) {
	t.Parallel()

	s, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	snap := sampleSnapshot("run-1")
	path := filepath.Join(s.Dir(), "run-1.json")

	require.NoError(t, s.Save(context.Background(), snap))
	// Remove the file behind the store's back: an identical save must not
	// rewrite it, a changed one must.
	require.NoError(t, os.Remove(path))

	require.NoError(t, s.Save(context.Background(), snap))
	assert.NoFileExists(t, path)

	snap.Status = RunCompleted
	require.NoError(t, s.Save(context.Background(), snap))
	assert.FileExists(t, path)
}

func TestFileStateStore_ListAndDelete(t *testing.T) {
	t.Parallel()

	s, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Save(context.Background(), sampleSnapshot(id)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644))

	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, s.Delete(context.Background(), "b"))
	require.NoError(t, s.Delete(context.Background(), "b"), "deleting twice is fine")

	ids, err = s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestFileStateStore_RejectsUnsafeRunIDs(t *testing.T) {
	t.Parallel()

	s, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "/", "../.."} {
		assert.Error(t, s.Save(context.Background(), sampleSnapshot(id)), "run ID %q", id)
	}

	// Separators are stripped, keeping the file inside the directory.
	require.NoError(t, s.Save(context.Background(), sampleSnapshot("../escape")))
	assert.FileExists(t, filepath.Join(s.Dir(), "..escape.json"))
}

func TestEngine_WithFileCheckpointing(t *testing.T) {
	t.Parallel()

	store, err := NewFileStateStore(t.TempDir())
	require.NoError(t, err)
	reg := registryOf(map[string]Activity{"task": okActivity(map[string]any{"n": 1})})
	e, _, _ := newTestEngine([]StepConfig{step("s1", 1, "task", ModeAlwaysAuto, ImpactRead)}, reg, WithCheckpointing(store))

	outcome := e.NewRun("persisted", testWorkflowID, nil).Execute(context.Background())
	require.Equal(t, RunCompleted, outcome.Status)

	snap, err := store.Load(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, snap.Status)
	require.Len(t, snap.StepResults, 1)
	// JSON numbers come back as float64.
	assert.Equal(t, map[string]any{"n": float64(1)}, snap.StepResults[0].OutputData)
}
