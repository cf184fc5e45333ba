package provider

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultGlob matches workflow files below the provider root.
const DefaultGlob = "workflows/**/*.toml"

// FileProvider reads workflow definitions from TOML files matched by a
// doublestar glob. Files are re-read on every lookup; wrap the provider in a
// CachingProvider to avoid the disk round trip.
//
// A workflow file looks like:
//
//	id = "release"
//	description = "Build, approve and ship"
//
//	[[steps]]
//	step_id = "build"
//	step_order = 1
//	step_type = "echo"
//	deployment_mode = "always_auto"
//	impact_level = "read"
//
// When id is omitted the file name without extension is used.
type FileProvider struct {
	fsys   fs.FS
	glob   string
	logger *log.Logger
}

var (
	_ workflow.StepConfigProvider = (*FileProvider)(nil)
	_ Lister                      = (*FileProvider)(nil)
)

// FileOption configures a FileProvider.
type FileOption func(*FileProvider)

// WithLogger reports unknown keys in workflow files to logger.
func WithLogger(logger *log.Logger) FileOption {
	return func(p *FileProvider) { p.logger = logger }
}

// NewFileProvider serves workflow files under root matching glob. An empty
// glob means DefaultGlob.
func NewFileProvider(root, glob string, opts ...FileOption) (*FileProvider, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workflow root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workflow root %s is not a directory", root)
	}
	return NewFSProvider(os.DirFS(root), glob, opts...)
}

// NewFSProvider is NewFileProvider over an arbitrary file system.
func NewFSProvider(fsys fs.FS, glob string, opts ...FileOption) (*FileProvider, error) {
	if glob == "" {
		glob = DefaultGlob
	}
	if !doublestar.ValidatePattern(glob) {
		return nil, fmt.Errorf("invalid workflow glob %q", glob)
	}
	p := &FileProvider{fsys: fsys, glob: glob}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Glob returns the pattern used to discover workflow files.
func (p *FileProvider) Glob() string { return p.glob }

// GetOrderedSteps loads every workflow file and returns the steps of
// workflowID sorted by step_order.
func (p *FileProvider) GetOrderedSteps(_ context.Context, workflowID string) ([]workflow.StepConfig, error) {
	wfs, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	wf, ok := wfs[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", workflowID, workflow.ErrWorkflowNotFound)
	}
	return SortSteps(wf.Steps), nil
}

// ListWorkflows returns the IDs of all workflow files, sorted.
func (p *FileProvider) ListWorkflows(_ context.Context) ([]string, error) {
	wfs, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(wfs))
	for id := range wfs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAll parses every matching file. Two files declaring the same workflow
// ID are an error.
func (p *FileProvider) LoadAll() (map[string]Workflow, error) {
	matches, err := doublestar.Glob(p.fsys, p.glob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", p.glob, err)
	}
	sort.Strings(matches)

	wfs := make(map[string]Workflow, len(matches))
	origin := make(map[string]string, len(matches))
	for _, name := range matches {
		wf, err := p.loadFile(name)
		if err != nil {
			return nil, err
		}
		if prev, dup := origin[wf.ID]; dup {
			return nil, fmt.Errorf("workflow %q is defined in both %s and %s", wf.ID, prev, name)
		}
		origin[wf.ID] = name
		wfs[wf.ID] = wf
	}
	return wfs, nil
}

func (p *FileProvider) loadFile(name string) (Workflow, error) {
	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		return Workflow{}, fmt.Errorf("reading workflow %s: %w", name, err)
	}
	var wf Workflow
	md, err := toml.Decode(string(data), &wf)
	if err != nil {
		return Workflow{}, fmt.Errorf("parsing workflow %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 && p.logger != nil {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		p.logger.Warn("unknown keys in workflow file", "file", name, "keys", strings.Join(keys, ", "))
	}
	if wf.ID == "" {
		wf.ID = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	return wf, nil
}
