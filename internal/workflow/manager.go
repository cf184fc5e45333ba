package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunSummary is the listing entry for one run known to a Manager.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Status     RunStatus `json:"status"`
	Live       bool      `json:"live"`
}

// managedRun pairs a Run with the cancel function of its context.
type managedRun struct {
	run    *Run
	cancel context.CancelFunc
}

// Manager starts runs in the background and routes signals and status
// queries to them by run ID. Finished runs stay addressable until Remove;
// when the engine has a StateStore, Status falls back to the stored
// checkpoint for runs this process no longer holds.
type Manager struct {
	engine *Engine
	base   context.Context
	stop   context.CancelFunc

	mu     sync.RWMutex
	runs   map[string]*managedRun
	closed bool
}

// NewManager creates a Manager whose runs execute under ctx. Cancelling ctx
// cancels every live run.
func NewManager(ctx context.Context, engine *Engine) *Manager {
	base, stop := context.WithCancel(ctx)
	return &Manager{
		engine: engine,
		base:   base,
		stop:   stop,
		runs:   make(map[string]*managedRun),
	}
}

// Engine returns the engine the manager runs workflows on.
func (m *Manager) Engine() *Engine { return m.engine }

// Start launches a new run of workflowID and returns immediately.
func (m *Manager) Start(workflowID string, input map[string]any) (*Run, error) {
	return m.StartWithID("", workflowID, input)
}

// StartWithID is Start with a caller-chosen run ID. An empty runID gets a
// generated one.
func (m *Manager) StartWithID(runID, workflowID string, input map[string]any) (*Run, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("start run: %w", ErrWorkflowNotFound)
	}
	run := m.engine.NewRun(runID, workflowID, input)
	if err := m.Launch(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Launch starts a run prepared with Engine.NewRun. Signals delivered to run
// before Launch are kept for the steps they name.
func (m *Manager) Launch(run *Run) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("start run: %w", ErrManagerClosed)
	}
	if _, exists := m.runs[run.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("start run %q: %w", run.ID(), ErrRunExists)
	}
	ctx, cancel := context.WithCancel(m.base)
	m.runs[run.ID()] = &managedRun{run: run, cancel: cancel}
	m.mu.Unlock()

	go func() {
		defer cancel()
		run.Execute(ctx)
	}()
	return nil
}

// Get returns the live run with runID.
func (m *Manager) Get(runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return mr.run, nil
}

// List returns every run held in memory plus any checkpointed run not held,
// sorted by run ID.
func (m *Manager) List(ctx context.Context) ([]RunSummary, error) {
	m.mu.RLock()
	summaries := make([]RunSummary, 0, len(m.runs))
	seen := make(map[string]bool, len(m.runs))
	for id, mr := range m.runs {
		seen[id] = true
		summaries = append(summaries, RunSummary{
			RunID:      id,
			WorkflowID: mr.run.WorkflowID(),
			Status:     mr.run.state.Status(),
			Live:       true,
		})
	}
	m.mu.RUnlock()

	if store := m.engine.store; store != nil {
		ids, err := store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing checkpointed runs: %w", err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			snap, err := store.Load(ctx, id)
			if err != nil {
				m.engine.logWarn("skipping unreadable checkpoint", "run", id, "error", err)
				continue
			}
			summaries = append(summaries, RunSummary{
				RunID:      id,
				WorkflowID: snap.WorkflowID,
				Status:     snap.Status,
			})
		}
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].RunID < summaries[j].RunID })
	return summaries, nil
}

// Signal delivers sig to the run with runID.
func (m *Manager) Signal(runID string, sig ApprovalSignal) error {
	run, err := m.Get(runID)
	if err != nil {
		return err
	}
	return run.Signal(sig)
}

// Status returns the snapshot of runID, reading the checkpoint when the run
// is not held in memory.
func (m *Manager) Status(ctx context.Context, runID string) (Snapshot, error) {
	if run, err := m.Get(runID); err == nil {
		return run.Status(), nil
	}
	if m.engine.store == nil {
		return Snapshot{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return m.engine.store.Load(ctx, runID)
}

// Cancel cancels the context of a live run. The run finishes with a
// cancelled outcome; use Wait to observe it.
func (m *Manager) Cancel(runID string) error {
	m.mu.RLock()
	mr, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if mr.run.state.Status().Terminal() {
		return fmt.Errorf("run %q: %w", runID, ErrRunFinished)
	}
	mr.cancel()
	return nil
}

// Wait blocks until runID finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, runID string) (*Outcome, error) {
	run, err := m.Get(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done():
		return run.Outcome(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Remove forgets a finished run. Live runs cannot be removed.
func (m *Manager) Remove(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if !mr.run.state.Status().Terminal() {
		return fmt.Errorf("remove run %q: run is still %s", runID, mr.run.state.Status())
	}
	delete(m.runs, runID)
	return nil
}

// Shutdown refuses new runs, cancels every live run and waits for all of
// them to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	runs := make([]*Run, 0, len(m.runs))
	for _, mr := range m.runs {
		runs = append(runs, mr.run)
	}
	m.mu.Unlock()

	m.stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		g.Go(func() error {
			select {
			case <-run.Done():
				return nil
			case <-gctx.Done():
				return fmt.Errorf("run %q did not stop: %w", run.ID(), gctx.Err())
			}
		})
	}
	return g.Wait()
}
