package activity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultScriptGlob matches script activities under the project root.
const DefaultScriptGlob = "activities/**/*.js"

// Script is an activity whose body is JavaScript. The body runs as a
// function with the step input bound to `input`. Its return value decides
// the result:
//
//	undefined, null   success, no output
//	true / false      success flag, no output
//	object            output; a boolean "success" key sets the flag
//	anything else     success, output {"result": value}
//
// A thrown exception is an activity error and counts against the retry
// budget like any other.
type Script struct {
	name    string
	program *goja.Program
	logger  *log.Logger
}

var _ workflow.Activity = (*Script)(nil)

// NewScript compiles source. Syntax errors surface here, at load time,
// instead of on the first run.
func NewScript(name, source string, logger *log.Logger) (*Script, error) {
	if name == "" {
		return nil, errors.New("script activity: name must not be empty")
	}
	wrapped := "(function(input) {\n" + source + "\n})(input)"
	prg, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("script activity %q: %w", name, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Script{name: name, program: prg, logger: logger.WithPrefix("script")}, nil
}

// Name returns the step type the script registers under.
func (s *Script) Name() string { return s.name }

// Invoke runs the script in a fresh VM. Cancelling ctx interrupts it.
func (s *Script) Invoke(ctx context.Context, input map[string]any) (workflow.ActivityResult, error) {
	start := time.Now()
	vm := goja.New()

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, fmt.Sprint(a.Export()))
		}
		s.logger.Info(strings.Join(parts, " "), "activity", s.name)
		return goja.Undefined()
	})
	if err := vm.Set("console", console); err != nil {
		return workflow.ActivityResult{}, fmt.Errorf("script activity %q: %w", s.name, err)
	}
	// Top-level copy: assignments to input.x must not leak into the run.
	in := make(map[string]any, len(input))
	for k, v := range input {
		in[k] = v
	}
	if err := vm.Set("input", in); err != nil {
		return workflow.ActivityResult{}, fmt.Errorf("script activity %q: %w", s.name, err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	val, err := vm.RunProgram(s.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return workflow.ActivityResult{}, fmt.Errorf("script activity %q interrupted: %w", s.name, cause)
			}
		}
		return workflow.ActivityResult{}, fmt.Errorf("script activity %q: %w", s.name, err)
	}

	res := exportResult(val)
	res.DurationMS = time.Since(start).Milliseconds()
	return res, nil
}

func exportResult(val goja.Value) workflow.ActivityResult {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return workflow.ActivityResult{Success: true}
	}
	switch v := val.Export().(type) {
	case bool:
		return workflow.ActivityResult{Success: v}
	case map[string]any:
		success := true
		if flag, ok := v["success"].(bool); ok {
			success = flag
			delete(v, "success")
		}
		return workflow.ActivityResult{Success: success, Output: v}
	default:
		return workflow.ActivityResult{Success: true, Output: map[string]any{"result": v}}
	}
}

// LoadScripts compiles every file in fsys matching pattern. The step type
// is the file name without its extension, so activities/deploy/db.js
// becomes "db".
func LoadScripts(fsys fs.FS, pattern string, logger *log.Logger) ([]*Script, error) {
	if pattern == "" {
		pattern = DefaultScriptGlob
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("script activities: invalid glob %q", pattern)
	}
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("script activities: globbing %q: %w", pattern, err)
	}
	sort.Strings(matches)

	seen := make(map[string]string, len(matches))
	scripts := make([]*Script, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(path.Base(m), path.Ext(m))
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("script activities: %q defined in both %s and %s", name, prev, m)
		}
		seen[name] = m

		src, err := fs.ReadFile(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("script activities: reading %s: %w", m, err)
		}
		s, err := NewScript(name, string(src), logger)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// RegisterScripts adds scripts to reg. A script whose name is already taken
// is an error rather than a panic.
func RegisterScripts(reg *workflow.Registry, scripts []*Script) error {
	for _, s := range scripts {
		if reg.Has(s.Name()) {
			return fmt.Errorf("script activity %q: step type already registered", s.Name())
		}
		reg.Register(s.Name(), s)
	}
	return nil
}
