// Package provider supplies the ordered step lists that the workflow engine
// executes. Workflows can come from memory, from TOML files on disk or from
// Redis, optionally behind an expiring cache.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// Workflow is a named, ordered list of steps.
type Workflow struct {
	ID          string                `toml:"id" json:"id"`
	Description string                `toml:"description" json:"description,omitempty"`
	Steps       []workflow.StepConfig `toml:"steps" json:"steps"`
}

// Lister is implemented by providers that can enumerate their workflows.
type Lister interface {
	ListWorkflows(ctx context.Context) ([]string, error)
}

// SortSteps orders steps by step_order, keeping the relative order of steps
// that share an order so the validator can report the tie.
func SortSteps(steps []workflow.StepConfig) []workflow.StepConfig {
	out := make([]workflow.StepConfig, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

// Static serves workflows held in memory. It is safe for concurrent use.
type Static struct {
	mu        sync.RWMutex
	workflows map[string][]workflow.StepConfig
}

var (
	_ workflow.StepConfigProvider = (*Static)(nil)
	_ Lister                      = (*Static)(nil)
)

// NewStatic returns a Static provider serving wfs.
func NewStatic(wfs ...Workflow) *Static {
	s := &Static{workflows: make(map[string][]workflow.StepConfig, len(wfs))}
	for _, wf := range wfs {
		s.Put(wf.ID, wf.Steps)
	}
	return s
}

// Put stores or replaces the steps of workflowID.
func (s *Static) Put(workflowID string, steps []workflow.StepConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[workflowID] = SortSteps(steps)
}

// GetOrderedSteps returns the steps of workflowID sorted by step_order.
func (s *Static) GetOrderedSteps(_ context.Context, workflowID string) ([]workflow.StepConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, workflow.ErrWorkflowNotFound)
	}
	out := make([]workflow.StepConfig, len(steps))
	copy(out, steps)
	return out, nil
}

// ListWorkflows returns the stored workflow IDs, sorted.
func (s *Static) ListWorkflows(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
