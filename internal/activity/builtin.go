// Package activity provides the step types stepflow ships with: a handful
// of built-ins useful for smoke-testing workflows and JavaScript activities
// loaded from script files.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// Built-in step types.
const (
	TypeNoop  = "noop"
	TypeEcho  = "echo"
	TypeFail  = "fail"
	TypeSleep = "sleep"
)

// maxSleep bounds the sleep activity so a typo cannot park a run for days.
const maxSleep = time.Hour

// RegisterBuiltins adds the built-in activities to reg.
func RegisterBuiltins(reg *workflow.Registry) {
	reg.RegisterFunc(TypeNoop, noop)
	reg.RegisterFunc(TypeEcho, echo)
	reg.RegisterFunc(TypeFail, fail)
	reg.RegisterFunc(TypeSleep, sleep)
}

func noop(_ context.Context, _ map[string]any) (workflow.ActivityResult, error) {
	return workflow.ActivityResult{Success: true}, nil
}

// echo returns its input as output.
func echo(_ context.Context, input map[string]any) (workflow.ActivityResult, error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return workflow.ActivityResult{Success: true, Output: out}, nil
}

// fail always fails. With an "error" input it returns that message as an
// error, otherwise it reports Success=false.
func fail(_ context.Context, input map[string]any) (workflow.ActivityResult, error) {
	if msg, ok := input["error"].(string); ok && msg != "" {
		return workflow.ActivityResult{}, errors.New(msg)
	}
	return workflow.ActivityResult{Success: false}, nil
}

// sleep waits for the "duration" input (a Go duration string or a number of
// seconds) and honours cancellation.
func sleep(ctx context.Context, input map[string]any) (workflow.ActivityResult, error) {
	d, err := sleepDuration(input["duration"])
	if err != nil {
		return workflow.ActivityResult{}, err
	}
	start := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return workflow.ActivityResult{}, ctx.Err()
	case <-t.C:
	}
	return workflow.ActivityResult{
		Success:    true,
		Output:     map[string]any{"slept_ms": time.Since(start).Milliseconds()},
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func sleepDuration(v any) (time.Duration, error) {
	var d time.Duration
	switch x := v.(type) {
	case nil:
		return 0, errors.New(`sleep: "duration" input is required`)
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("sleep: %w", err)
		}
		d = parsed
	case float64:
		d = time.Duration(x * float64(time.Second))
	case int:
		d = time.Duration(x) * time.Second
	case int64:
		d = time.Duration(x) * time.Second
	case interface{ Float64() (float64, error) }:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("sleep: %w", err)
		}
		d = time.Duration(f * float64(time.Second))
	default:
		return 0, fmt.Errorf("sleep: unsupported duration %v (%T)", v, v)
	}
	if d < 0 || d > maxSleep {
		return 0, fmt.Errorf("sleep: duration %s outside [0, %s]", d, maxSleep)
	}
	return d, nil
}
