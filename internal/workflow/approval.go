package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// timerFunc starts a one-shot timer and returns its channel and a stop
// function. Tests replace it to make deadlines deterministic.
type timerFunc func(d time.Duration) (<-chan time.Time, func() bool)

func realTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// ApprovalGate suspends steps until a matching ApprovalSignal arrives or a
// deadline passes. Signals are stored by step ID the moment they arrive, so a
// signal delivered before the wait starts is still observed. A signal for one
// step never wakes the wait of another.
//
// Each step ID resolves at most once: the first signal is the one consumed,
// and signals arriving after the wait has finished are dropped.
type ApprovalGate struct {
	mu       sync.Mutex
	signals  map[string]ApprovalSignal
	waiters  map[string]chan struct{}
	resolved map[string]bool
	dropped  int
	newTimer timerFunc
}

// NewApprovalGate creates an empty gate using wall-clock timers.
func NewApprovalGate() *ApprovalGate {
	return newApprovalGate(realTimer)
}

func newApprovalGate(tf timerFunc) *ApprovalGate {
	if tf == nil {
		tf = realTimer
	}
	return &ApprovalGate{
		signals:  make(map[string]ApprovalSignal),
		waiters:  make(map[string]chan struct{}),
		resolved: make(map[string]bool),
		newTimer: tf,
	}
}

// Signal records sig and wakes the wait for sig.StepID if one is active.
// It returns ErrInvalidSignal for malformed signals, ErrDuplicateSignal when
// a signal for the step is already stored and ErrStepResolved when the
// step's wait has already finished.
func (g *ApprovalGate) Signal(sig ApprovalSignal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved[sig.StepID] {
		g.dropped++
		return fmt.Errorf("step %q: %w", sig.StepID, ErrStepResolved)
	}
	if _, exists := g.signals[sig.StepID]; exists {
		g.dropped++
		return fmt.Errorf("step %q: %w", sig.StepID, ErrDuplicateSignal)
	}

	g.signals[sig.StepID] = cloneSignal(sig)
	if ch, ok := g.waiters[sig.StepID]; ok {
		close(ch)
		delete(g.waiters, sig.StepID)
	}
	return nil
}

// Wait blocks until a signal for stepID is present, timeout elapses or ctx
// is done. On timeout it returns an error wrapping ErrApprovalTimeout. On
// cancellation it returns ctx.Err(); the step is left unresolved because a
// cancelled run is neither approved nor timed out.
func (g *ApprovalGate) Wait(ctx context.Context, stepID string, timeout time.Duration) (ApprovalSignal, error) {
	g.mu.Lock()
	if sig, ok := g.signals[stepID]; ok {
		g.resolved[stepID] = true
		g.mu.Unlock()
		return cloneSignal(sig), nil
	}
	if g.resolved[stepID] {
		g.mu.Unlock()
		return ApprovalSignal{}, fmt.Errorf("step %q: %w", stepID, ErrStepResolved)
	}
	ch := make(chan struct{})
	g.waiters[stepID] = ch
	g.mu.Unlock()

	expired, stop := g.newTimer(timeout)
	defer stop()

	select {
	case <-ch:
		return g.consume(stepID)
	case <-expired:
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.waiters, stepID)
		g.resolved[stepID] = true
		// A signal may have landed between the timer firing and the lock.
		if sig, ok := g.signals[stepID]; ok {
			return cloneSignal(sig), nil
		}
		return ApprovalSignal{}, fmt.Errorf("no approval signal for step %q within %s: %w", stepID, timeout, ErrApprovalTimeout)
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.waiters, stepID)
		g.mu.Unlock()
		return ApprovalSignal{}, ctx.Err()
	}
}

func (g *ApprovalGate) consume(stepID string) (ApprovalSignal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved[stepID] = true
	return cloneSignal(g.signals[stepID]), nil
}

// Pending returns the step IDs with an active, unsignaled wait, sorted.
func (g *ApprovalGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.waiters))
	for id := range g.waiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Signals returns a copy of every stored signal keyed by step ID.
func (g *ApprovalGate) Signals() map[string]ApprovalSignal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]ApprovalSignal, len(g.signals))
	for id, sig := range g.signals {
		out[id] = cloneSignal(sig)
	}
	return out
}

// Dropped returns how many signals were refused as duplicates or late.
func (g *ApprovalGate) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
