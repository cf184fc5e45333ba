package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Run is a single execution of a workflow. It owns the run state and the
// approval gate; nothing is shared with other runs. Signal and Status are
// safe to call from any goroutine while Execute is in progress.
type Run struct {
	engine     *Engine
	id         string
	workflowID string
	input      map[string]any
	state      *RunState
	gate       *ApprovalGate
	once       sync.Once
	done       chan struct{}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// WorkflowID returns the workflow this run executes.
func (r *Run) WorkflowID() string { return r.workflowID }

// Done is closed when Execute has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Outcome returns the terminal outcome, or nil while the run is in progress.
func (r *Run) Outcome() *Outcome { return r.state.Outcome() }

// Status returns a read-only snapshot of the result log, the current step
// index and the steps awaiting approval.
func (r *Run) Status() Snapshot { return r.state.snapshot(r.gate) }

// Signal delivers an approval decision. It is accepted whether or not the
// step is currently waiting. See ApprovalGate.Signal for the error cases;
// ErrRunFinished is returned once the run has ended.
func (r *Run) Signal(sig ApprovalSignal) error {
	if r.state.Status().Terminal() {
		return fmt.Errorf("run %q: %w", r.id, ErrRunFinished)
	}
	if err := r.gate.Signal(sig); err != nil {
		r.engine.logWarn("approval signal refused", "run", r.id, "step", sig.StepID, "error", err)
		return err
	}
	r.engine.logInfo("approval signal received", "run", r.id, "step", sig.StepID, "action", sig.Action, "user", sig.UserID)
	return nil
}

// Execute drives the run to a terminal state and returns its outcome. Only
// the first call executes; later calls wait for it and return the same
// outcome. Cancelling ctx releases any approval wait and yields a cancelled
// outcome.
func (r *Run) Execute(ctx context.Context) *Outcome {
	r.once.Do(func() {
		defer close(r.done)
		r.execute(ctx)
	})
	return r.state.Outcome()
}

func (r *Run) execute(ctx context.Context) {
	e := r.engine
	startedAt := time.Now()

	r.state.start()
	e.emit(WorkflowEvent{
		Type:       WERunStarted,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		Message:    fmt.Sprintf("run of workflow %q started", r.workflowID),
	})
	e.logInfo("run started", "run", r.id, "workflow", r.workflowID)

	steps, err := e.provider.GetOrderedSteps(ctx, r.workflowID)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(ctx, r.newOutcome(RunCancelled, startedAt, ctx.Err()))
			return
		}
		r.finish(ctx, r.newOutcome(RunFailed, startedAt, fmt.Errorf("fetching steps for workflow %q: %w", r.workflowID, err)))
		return
	}

	r.state.begin(len(steps))

	validation := ValidateSteps(steps, e.registry)
	if !validation.IsValid() {
		r.finish(ctx, r.newOutcome(RunFailed, startedAt, fmt.Errorf("workflow %q: %w", r.workflowID, validation.Err())))
		return
	}
	for _, w := range validation.Warnings {
		e.logWarn("workflow validation warning", "run", r.id, "code", w.Code, "step", w.StepID, "message", w.Message)
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			r.finish(ctx, r.newOutcome(RunCancelled, startedAt, err))
			return
		}
		if err := r.state.advance(step.StepOrder); err != nil {
			r.finish(ctx, r.newOutcome(RunFailed, startedAt, err))
			return
		}

		result, err := r.executeStepWithMode(ctx, step)
		if err != nil {
			r.finish(ctx, r.newOutcome(RunCancelled, startedAt, err))
			return
		}

		if err := r.state.appendResult(result); err != nil {
			r.finish(ctx, r.newOutcome(RunFailed, startedAt, err))
			return
		}
		r.checkpoint(ctx)

		if !result.Success && HaltsRun(step.ImpactLevel) {
			r.state.halt()
			outcome := r.newOutcome(RunFailed, startedAt, fmt.Errorf(
				"critical step %q (order %d) ended with status %s: %s",
				step.StepID, step.StepOrder, result.Status, result.ErrorMessage))
			order := step.StepOrder
			outcome.FailedAtStep = &order
			r.finish(ctx, outcome)
			return
		}
	}

	r.finish(ctx, r.newOutcome(RunCompleted, startedAt, nil))
}

// executeStepWithMode runs one step under its deployment mode and returns
// the finalised result. Every failure inside the step is recorded on the
// result; the returned error is non-nil only when the run was cancelled, in
// which case no result must be recorded.
func (r *Run) executeStepWithMode(ctx context.Context, step StepConfig) (StepResult, error) {
	e := r.engine
	result := StepResult{
		StepID:         step.StepID,
		StepName:       step.StepName,
		StepOrder:      step.StepOrder,
		DeploymentMode: step.DeploymentMode,
		StartedAt:      time.Now(),
	}

	e.emit(WorkflowEvent{
		Type:       WEStepStarted,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		StepID:     step.StepID,
		StepOrder:  step.StepOrder,
		Message:    fmt.Sprintf("step %q started in %s mode", step.StepID, step.DeploymentMode),
	})
	e.logInfo("step started", "run", r.id, "step", step.StepID, "order", step.StepOrder, "mode", step.DeploymentMode)

	if err := r.runStep(ctx, step, &result); err != nil {
		e.logInfo("step interrupted by cancellation", "run", r.id, "step", step.StepID)
		return StepResult{}, err
	}

	result.CompletedAt = time.Now()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	r.reportStep(result)

	if plan, err := DecideExecution(step.DeploymentMode); err == nil && plan.Monitored {
		e.logMetrics(ctx, result)
	}
	return result, nil
}

// runStep fills in res according to the step's execution plan. Panics
// anywhere in the step are recovered and recorded as failures.
func (r *Run) runStep(ctx context.Context, step StepConfig, res *StepResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusFailed
			res.Success = false
			res.ErrorMessage = fmt.Sprintf("step %q panicked: %v", step.StepID, p)
			err = nil
		}
	}()

	plan, err := DecideExecution(step.DeploymentMode)
	if err != nil {
		res.fail(err)
		return nil
	}

	input := cloneMap(r.input)

	if plan.RequiresApproval {
		sig, werr := r.awaitApproval(ctx, step, input)
		switch {
		case werr == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(werr, ErrApprovalTimeout):
			res.Status = StatusTimeout
			res.Success = false
			res.ErrorMessage = werr.Error()
			return nil
		default:
			res.fail(werr)
			return nil
		}

		if sig.Action == ActionRejected {
			res.Status = StatusRejected
			res.Success = false
			res.RejectedBy = sig.UserID
			res.RejectionReason = sig.Notes
			return nil
		}

		res.ApprovedBy = sig.UserID
		res.ApprovalNotes = sig.Notes
		if sig.EditedData != nil {
			input = cloneMap(sig.EditedData)
		}
	}

	out, attempts, ierr := r.invokeWithRetry(ctx, step, input)
	res.Attempts = attempts
	if ierr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.fail(ierr)
		res.OutputData = out.Output
		return nil
	}

	res.Status = StatusCompleted
	res.Success = true
	res.OutputData = out.Output
	return nil
}

// awaitApproval previews and analyzes the step, notifies humans and blocks
// at the gate until a signal, the step's timeout or cancellation.
func (r *Run) awaitApproval(ctx context.Context, step StepConfig, input map[string]any) (ApprovalSignal, error) {
	e := r.engine

	preview, err := e.analyzer.Preview(step, input, r.state.Results())
	if err != nil {
		return ApprovalSignal{}, fmt.Errorf("previewing step %q: %w", step.StepID, err)
	}
	analysis, err := e.analyzer.Analyze(step, preview)
	if err != nil {
		return ApprovalSignal{}, fmt.Errorf("analyzing impact of step %q: %w", step.StepID, err)
	}

	timeout := step.ApprovalTimeout(e.approvalTimeout)
	now := time.Now()
	e.notify(ctx, ApprovalRequest{
		RunID:          r.id,
		WorkflowID:     r.workflowID,
		StepID:         step.StepID,
		StepName:       step.StepName,
		StepOrder:      step.StepOrder,
		DeploymentMode: step.DeploymentMode,
		ImpactLevel:    step.ImpactLevel,
		RiskLevel:      step.RiskLevel,
		Preview:        preview,
		Analysis:       analysis,
		Timeout:        timeout,
		ExpiresAt:      now.Add(timeout),
		RequestedAt:    now,
	})

	e.emit(WorkflowEvent{
		Type:       WEStepAwaitingApproval,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		StepID:     step.StepID,
		StepOrder:  step.StepOrder,
		Message:    fmt.Sprintf("step %q awaiting approval for up to %s", step.StepID, timeout),
	})
	e.logInfo("step awaiting approval", "run", r.id, "step", step.StepID, "timeout", timeout)

	return r.gate.Wait(ctx, step.StepID, timeout)
}

// invokeWithRetry calls the step's activity up to MaxAttempts(impact) times
// with exponential backoff between attempts. Only the activity call is
// retried. It returns the last activity result, the number of attempts made
// and the final error.
func (r *Run) invokeWithRetry(ctx context.Context, step StepConfig, input map[string]any) (ActivityResult, int, error) {
	e := r.engine
	maxAttempts := MaxAttempts(step.ImpactLevel)
	timeout := step.ActivityTimeout(e.stepTimeout)

	var last ActivityResult
	attempts := 0
	operation := func() error {
		attempts++
		out, err := e.invokeOnce(ctx, step, cloneMap(input), timeout)
		if err == nil && !out.Success {
			err = fmt.Errorf("step type %q: %w", step.StepType, ErrActivityFailed)
		}
		last = out
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		next := attempts + 1
		e.emit(WorkflowEvent{
			Type:       WEStepRetry,
			RunID:      r.id,
			WorkflowID: r.workflowID,
			StepID:     step.StepID,
			StepOrder:  step.StepOrder,
			Attempt:    next,
			Message:    fmt.Sprintf("retrying step %q in %s (attempt %d/%d)", step.StepID, delay, next, maxAttempts),
			Error:      err.Error(),
		})
		e.logInfo("retrying activity", "run", r.id, "step", step.StepID, "attempt", next, "max", maxAttempts, "delay", delay)
	}

	var timer backoff.Timer
	if e.retryTimer != nil {
		timer = e.retryTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, e.retry.attemptBackOff(ctx, step.ImpactLevel), notify, timer)
	switch {
	case err == nil:
		return last, attempts, nil
	case ctx.Err() != nil:
		return last, attempts, ctx.Err()
	default:
		return last, attempts, fmt.Errorf("activity %q failed after %d attempt(s): %w", step.StepType, attempts, err)
	}
}

// reportStep emits the terminal event for a finalised step.
func (r *Run) reportStep(res StepResult) {
	e := r.engine
	ev := WorkflowEvent{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		StepID:     res.StepID,
		StepOrder:  res.StepOrder,
		Status:     string(res.Status),
		Error:      res.ErrorMessage,
	}
	switch res.Status {
	case StatusCompleted:
		ev.Type = WEStepCompleted
		ev.Message = fmt.Sprintf("step %q completed", res.StepID)
	case StatusRejected:
		ev.Type = WEStepRejected
		ev.Message = fmt.Sprintf("step %q rejected by %s", res.StepID, res.RejectedBy)
	case StatusTimeout:
		ev.Type = WEStepTimedOut
		ev.Message = fmt.Sprintf("step %q timed out waiting for approval", res.StepID)
	default:
		ev.Type = WEStepFailed
		ev.Message = fmt.Sprintf("step %q failed", res.StepID)
	}
	if res.ApprovedBy != "" {
		e.emit(WorkflowEvent{
			Type:       WEStepApproved,
			RunID:      r.id,
			WorkflowID: r.workflowID,
			StepID:     res.StepID,
			StepOrder:  res.StepOrder,
			Message:    fmt.Sprintf("step %q approved by %s", res.StepID, res.ApprovedBy),
		})
	}
	e.emit(ev)
	if res.Success {
		e.logInfo("step completed", "run", r.id, "step", res.StepID, "attempts", res.Attempts, "duration_ms", res.DurationMS)
	} else {
		e.logWarn("step did not succeed", "run", r.id, "step", res.StepID, "status", res.Status, "error", res.ErrorMessage)
	}
}

// newOutcome builds an outcome from the current result log.
func (r *Run) newOutcome(status RunStatus, startedAt time.Time, err error) *Outcome {
	results := r.state.Results()
	o := &Outcome{
		RunID:          r.id,
		WorkflowID:     r.workflowID,
		Status:         status,
		TotalSteps:     r.state.TotalSteps(),
		ExecutedSteps:  len(results),
		CompletedSteps: results,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
	}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// finish records the terminal outcome, checkpoints it and emits the run's
// terminal event. Checkpointing uses a context detached from cancellation so
// a cancelled run still leaves its log behind.
func (r *Run) finish(ctx context.Context, o *Outcome) {
	e := r.engine
	r.state.finish(o)
	r.checkpoint(context.WithoutCancel(ctx))

	ev := WorkflowEvent{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		Status:     string(o.Status),
		Error:      o.Error,
	}
	switch o.Status {
	case RunCompleted:
		ev.Type = WERunCompleted
		ev.Message = fmt.Sprintf("workflow %q completed: %d/%d steps executed", r.workflowID, o.ExecutedSteps, o.TotalSteps)
		e.logInfo("run completed", "run", r.id, "workflow", r.workflowID, "executed", o.ExecutedSteps, "total", o.TotalSteps)
	case RunCancelled:
		ev.Type = WERunCancelled
		ev.Message = fmt.Sprintf("workflow %q cancelled", r.workflowID)
		e.logWarn("run cancelled", "run", r.id, "workflow", r.workflowID)
	default:
		ev.Type = WERunFailed
		ev.Message = fmt.Sprintf("workflow %q failed", r.workflowID)
		e.logWarn("run failed", "run", r.id, "workflow", r.workflowID, "error", o.Error)
	}
	e.emit(ev)
}

// checkpoint persists the current snapshot when a StateStore is configured.
func (r *Run) checkpoint(ctx context.Context) {
	e := r.engine
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, r.Status()); err != nil {
		e.logWarn("checkpoint failed", "run", r.id, "error", err)
		return
	}
	e.emit(WorkflowEvent{
		Type:       WECheckpoint,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		Message:    fmt.Sprintf("run %q checkpointed", r.id),
	})
}

// fail marks the result failed with err's message.
func (res *StepResult) fail(err error) {
	res.Status = StatusFailed
	res.Success = false
	res.ErrorMessage = err.Error()
}
