package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	defaultNotifyTimeout  = 10 * time.Second
	defaultMetricsTimeout = 5 * time.Second
)

// Engine executes workflows: it fetches the ordered steps of a workflow,
// passes each through the deployment mode policy, suspends gated steps at an
// approval gate, invokes activities with retries and accumulates the step
// result log. The Engine itself holds no per-run state; every call to NewRun
// or Run gets its own Run with its own state and gate, so runs may execute
// concurrently.
type Engine struct {
	provider StepConfigProvider
	registry *Registry
	analyzer ImpactAnalyzer
	notifier Notifier
	metrics  MetricsLogger
	store    StateStore
	events   chan<- WorkflowEvent
	logger   *log.Logger

	retry           RetryPolicy
	stepTimeout     time.Duration
	approvalTimeout time.Duration
	notifyTimeout   time.Duration
	metricsTimeout  time.Duration

	newTimer   timerFunc
	retryTimer func() backoff.Timer
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithImpactAnalyzer replaces the DefaultImpactAnalyzer.
func WithImpactAnalyzer(a ImpactAnalyzer) EngineOption {
	return func(e *Engine) { e.analyzer = a }
}

// WithNotifier sets the Notifier told about steps awaiting approval.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithMetricsLogger sets the logger used by auto_monitored steps.
func WithMetricsLogger(m MetricsLogger) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithCheckpointing persists a run snapshot to store after every step and
// when the run finishes. Save errors are logged and never fail the run.
func WithCheckpointing(store StateStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithEventChannel sets the channel on which the engine broadcasts
// WorkflowEvents. The engine uses a non-blocking send so a slow consumer
// never stalls execution.
func WithEventChannel(ch chan<- WorkflowEvent) EngineOption {
	return func(e *Engine) { e.events = ch }
}

// WithLogger attaches a charmbracelet/log Logger to the engine. When nil
// the engine operates silently.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithRetryPolicy overrides the 1s / x2.0 backoff between activity attempts.
// The attempt budget itself always comes from the step's impact level.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p.normalized() }
}

// WithDefaultStepTimeout sets the attempt bound for steps whose
// timeout_seconds is unset (default 60s).
func WithDefaultStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithDefaultApprovalTimeout sets the approval wait for steps whose
// validation_config has no timeout_minutes (default 30m).
func WithDefaultApprovalTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.approvalTimeout = d
		}
	}
}

// WithNotifyTimeout bounds each Notifier call (default 10s).
func WithNotifyTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

// WithMetricsTimeout bounds how long a step waits on the MetricsLogger
// (default 5s). A logger still busy after the bound keeps running in the
// background while the run moves on.
func WithMetricsTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.metricsTimeout = d
		}
	}
}

// NewEngine creates an engine reading steps from provider and invoking
// activities from registry. A nil registry is replaced by an empty one, which
// makes every workflow fail validation.
func NewEngine(provider StepConfigProvider, registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		provider:        provider,
		registry:        registry,
		analyzer:        DefaultImpactAnalyzer{},
		retry:           DefaultRetryPolicy(),
		stepTimeout:     DefaultStepTimeout,
		approvalTimeout: DefaultApprovalTimeout,
		notifyTimeout:   defaultNotifyTimeout,
		metricsTimeout:  defaultMetricsTimeout,
		newTimer:        realTimer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the activity registry the engine invokes.
func (e *Engine) Registry() *Registry { return e.registry }

// NewRun prepares a run without starting it. Signals may be delivered to the
// returned Run before Execute is called; they are kept until the matching
// step waits for them.
func (e *Engine) NewRun(runID, workflowID string, input map[string]any) *Run {
	if runID == "" {
		runID = uuid.NewString()
	}
	if input == nil {
		input = map[string]any{}
	}
	return &Run{
		engine:     e,
		id:         runID,
		workflowID: workflowID,
		input:      cloneMap(input),
		state:      newRunState(runID, workflowID),
		gate:       newApprovalGate(e.newTimer),
		done:       make(chan struct{}),
	}
}

// Run executes workflowID to completion with a fresh run ID and returns its
// outcome. It never returns a bare error: configuration problems, critical
// failures and cancellation are all reported through the Outcome.
func (e *Engine) Run(ctx context.Context, workflowID string, input map[string]any) *Outcome {
	return e.NewRun("", workflowID, input).Execute(ctx)
}

// invokeOnce runs a single activity attempt bounded by timeout. An activity
// that ignores its context is abandoned when the bound expires; its result
// channel is buffered so the goroutine can still finish.
func (e *Engine) invokeOnce(ctx context.Context, step StepConfig, input map[string]any, timeout time.Duration) (ActivityResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		res ActivityResult
		err error
	}
	replies := make(chan reply, 1)
	started := time.Now()

	go func() {
		res, err := e.registry.Invoke(attemptCtx, step.StepType, input)
		replies <- reply{res: res, err: err}
	}()

	timedOut := func() error {
		return fmt.Errorf("step type %q exceeded %s: %w", step.StepType, timeout, ErrActivityTimeout)
	}

	select {
	case rep := <-replies:
		if rep.res.DurationMS == 0 {
			rep.res.DurationMS = time.Since(started).Milliseconds()
		}
		if rep.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return rep.res, timedOut()
		}
		return rep.res, rep.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return ActivityResult{}, err
		}
		return ActivityResult{}, timedOut()
	}
}

// notify hands req to the Notifier. Errors and panics are logged and
// swallowed.
func (e *Engine) notify(ctx context.Context, req ApprovalRequest) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			e.logWarn("notifier panicked", "step", req.StepID, "panic", p)
		}
	}()
	if err := e.notifier.NotifyApprovalNeeded(nctx, req); err != nil {
		e.logWarn("approval notification failed", "step", req.StepID, "error", err)
	}
}

// logMetrics reports result to the MetricsLogger without holding up the
// run for longer than metricsTimeout. Errors and panics are logged and
// swallowed.
func (e *Engine) logMetrics(ctx context.Context, result StepResult) {
	if e.metrics == nil {
		return
	}
	snapshot := cloneResult(result)
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.metricsTimeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				e.logWarn("metrics logger panicked", "step", result.StepID, "panic", p)
			}
		}()
		if err := e.metrics.LogStepExecution(mctx, snapshot.StepID, snapshot); err != nil {
			e.logWarn("step metrics logging failed", "step", result.StepID, "error", err)
		}
	}()

	select {
	case <-done:
	case <-mctx.Done():
		e.logWarn("step metrics logging abandoned", "step", result.StepID, "timeout", e.metricsTimeout)
	case <-ctx.Done():
	}
}

// emit sends ev to the event channel using a non-blocking select so that a
// slow consumer never stalls workflow execution. It is a no-op when no channel
// has been configured.
func (e *Engine) emit(ev WorkflowEvent) {
	if e.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.events <- ev:
	default:
	}
}

// logInfo writes a structured log message when a logger is attached.
func (e *Engine) logInfo(msg string, kvs ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Info(msg, kvs...)
}

func (e *Engine) logWarn(msg string, kvs ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Warn(msg, kvs...)
}
