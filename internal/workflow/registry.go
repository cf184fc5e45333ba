package workflow

import (
	"context"
	"fmt"
	"sort"
)

// ActivityResult is what an Activity returns for one invocation.
type ActivityResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Activity is an opaque unit of step business logic, invoked by step type.
// Invoke must respect context cancellation; the engine bounds every attempt
// with the step's timeout and abandons attempts that ignore it.
type Activity interface {
	Invoke(ctx context.Context, input map[string]any) (ActivityResult, error)
}

// ActivityFunc adapts an ordinary function to the Activity interface.
type ActivityFunc func(ctx context.Context, input map[string]any) (ActivityResult, error)

// Invoke calls f.
func (f ActivityFunc) Invoke(ctx context.Context, input map[string]any) (ActivityResult, error) {
	return f(ctx, input)
}

// Registry maps step types to their Activity implementations. Registration
// is expected to occur during start-up, before any run begins, so no mutex is
// needed. Each Engine receives its Registry explicitly; there is no
// package-level default.
type Registry struct {
	activities map[string]Activity
}

// NewRegistry creates a new, empty Registry ready for registration.
func NewRegistry() *Registry {
	return &Registry{
		activities: make(map[string]Activity),
	}
}

// Register adds activity under stepType. It panics if activity is nil, if
// stepType is empty, or if the step type is already registered. These are
// programming errors that should be caught at startup.
func (r *Registry) Register(stepType string, activity Activity) {
	if activity == nil {
		panic("workflow: Register called with nil activity")
	}
	if stepType == "" {
		panic("workflow: Register called with empty step type")
	}
	if _, exists := r.activities[stepType]; exists {
		panic(fmt.Sprintf("workflow: step type %q is already registered", stepType))
	}
	r.activities[stepType] = activity
}

// RegisterFunc is shorthand for Register(stepType, ActivityFunc(fn)).
func (r *Registry) RegisterFunc(stepType string, fn func(ctx context.Context, input map[string]any) (ActivityResult, error)) {
	r.Register(stepType, ActivityFunc(fn))
}

// Get returns the Activity registered under stepType. It returns
// ErrUnknownStepType (wrapped with the step type) when none is registered.
func (r *Registry) Get(stepType string) (Activity, error) {
	a, ok := r.activities[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q: %w", stepType, ErrUnknownStepType)
	}
	return a, nil
}

// Has reports whether an activity is registered under stepType.
func (r *Registry) Has(stepType string) bool {
	_, ok := r.activities[stepType]
	return ok
}

// List returns the registered step types in alphabetical order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.activities))
	for name := range r.activities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke resolves stepType and calls its activity once. Panics raised by the
// activity are converted to errors.
func (r *Registry) Invoke(ctx context.Context, stepType string, input map[string]any) (result ActivityResult, err error) {
	activity, err := r.Get(stepType)
	if err != nil {
		return ActivityResult{}, err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("activity %q panicked: %v", stepType, p)
		}
	}()
	return activity.Invoke(ctx, input)
}
