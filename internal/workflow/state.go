package workflow

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is a read-only copy of a run's state. Calling Run.Status twice
// without any new signal or step transition returns equal snapshots.
type Snapshot struct {
	RunID            string                    `json:"run_id"`
	WorkflowID       string                    `json:"workflow_id"`
	Status           RunStatus                 `json:"status"`
	CurrentStepIndex *int                      `json:"current_step_index,omitempty"`
	TotalSteps       int                       `json:"total_steps"`
	StepResults      []StepResult              `json:"step_results"`
	AwaitingApproval []string                  `json:"awaiting_approval"`
	Approvals        map[string]ApprovalSignal `json:"approvals"`
	DroppedSignals   int                       `json:"dropped_signals"`
	Outcome          *Outcome                  `json:"outcome,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// RunState holds the mutable state of a single run: the append-only result
// log, the step cursor and the lifecycle status. Approvals live in the run's
// ApprovalGate. Every transition goes through a method that enforces the
// state machine's invariants:
//
//   - the cursor only moves to strictly larger step orders
//   - results are appended for the cursor's step only, at most once
//   - nothing is appended after the run halts or finishes
type RunState struct {
	mu         sync.RWMutex
	runID      string
	workflowID string
	status     RunStatus
	totalSteps int
	cursor     int
	started    bool
	halted     bool
	results    []StepResult
	outcome    *Outcome
	createdAt  time.Time
	updatedAt  time.Time
}

func newRunState(runID, workflowID string) *RunState {
	now := time.Now()
	return &RunState{
		runID:      runID,
		workflowID: workflowID,
		status:     RunPending,
		results:    []StepResult{},
		createdAt:  now,
		updatedAt:  now,
	}
}

// start moves the run from pending to running.
func (s *RunState) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = RunRunning
	s.updatedAt = time.Now()
}

// begin records the number of configured steps once they have been fetched.
func (s *RunState) begin(totalSteps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSteps = totalSteps
	s.updatedAt = time.Now()
}

// advance moves the cursor to order. Orders must strictly increase.
func (s *RunState) advance(order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted || s.status.Terminal() {
		return fmt.Errorf("advance to step %d: run no longer accepts steps", order)
	}
	if s.started && order <= s.cursor {
		return fmt.Errorf("advance to step %d after %d: %w", order, s.cursor, ErrInvalidStepOrder)
	}
	s.cursor = order
	s.started = true
	s.updatedAt = time.Now()
	return nil
}

// appendResult adds the finalised result of the current step.
func (s *RunState) appendResult(r StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted || s.status.Terminal() {
		return fmt.Errorf("append result for step %q: run no longer accepts results", r.StepID)
	}
	if !s.started || r.StepOrder != s.cursor {
		return fmt.Errorf("append result for step order %d: cursor is at %d: %w", r.StepOrder, s.cursor, ErrInvalidStepOrder)
	}
	if n := len(s.results); n > 0 && s.results[n-1].StepOrder == r.StepOrder {
		return fmt.Errorf("append result for step order %d: already recorded", r.StepOrder)
	}
	if s.totalSteps > 0 && len(s.results) >= s.totalSteps {
		return fmt.Errorf("append result for step %q: log already holds %d results", r.StepID, s.totalSteps)
	}
	s.results = append(s.results, cloneResult(r))
	s.updatedAt = time.Now()
	return nil
}

// halt stops the run from accepting further steps.
func (s *RunState) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = true
	s.updatedAt = time.Now()
}

// finish stores the terminal outcome.
func (s *RunState) finish(o *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = o.Status
	s.outcome = o.clone()
	s.updatedAt = time.Now()
}

// Results returns a copy of the result log.
func (s *RunState) Results() []StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneResults(s.results)
}

// Status returns the lifecycle status.
func (s *RunState) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TotalSteps returns the number of configured steps, zero before they are
// fetched.
func (s *RunState) TotalSteps() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSteps
}

// Outcome returns a copy of the terminal outcome, or nil while running.
func (s *RunState) Outcome() *Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome.clone()
}

// snapshot builds a Snapshot, merging in the gate's approval state.
func (s *RunState) snapshot(gate *ApprovalGate) Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		RunID:       s.runID,
		WorkflowID:  s.workflowID,
		Status:      s.status,
		TotalSteps:  s.totalSteps,
		StepResults: cloneResults(s.results),
		Outcome:     s.outcome.clone(),
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.started {
		cursor := s.cursor
		snap.CurrentStepIndex = &cursor
	}
	s.mu.RUnlock()

	snap.AwaitingApproval = gate.Pending()
	snap.Approvals = gate.Signals()
	snap.DroppedSignals = gate.Dropped()
	return snap
}
