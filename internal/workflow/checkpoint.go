package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// reUnsafeRunIDChars matches characters that could escape the state
// directory when a run ID is used as a file name.
var reUnsafeRunIDChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStateStore persists run snapshots as JSON to <dir>/<run-id>.json.
// Writes go through a temporary file and rename so a crash never leaves a
// truncated checkpoint. Identical consecutive snapshots are not rewritten.
type FileStateStore struct {
	dir string

	mu     sync.Mutex
	hashes map[string]uint64
}

var _ StateStore = (*FileStateStore)(nil)

// NewFileStateStore creates dir if needed and returns a store rooted there.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if dir == "" {
		return nil, errors.New("state store: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state store: creating %s: %w", dir, err)
	}
	return &FileStateStore{dir: dir, hashes: make(map[string]uint64)}, nil
}

// Dir returns the directory holding the checkpoints.
func (s *FileStateStore) Dir() string { return s.dir }

func (s *FileStateStore) path(runID string) (string, error) {
	safe := reUnsafeRunIDChars.ReplaceAllString(runID, "")
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "", fmt.Errorf("state store: run ID %q is not usable as a file name", runID)
	}
	return filepath.Join(s.dir, safe+".json"), nil
}

// Save writes snap unless it is byte-identical to the last write for the
// same run.
func (s *FileStateStore) Save(_ context.Context, snap Snapshot) error {
	p, err := s.path(snap.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state store: encoding run %q: %w", snap.RunID, err)
	}
	sum := xxhash.Sum64(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.hashes[snap.RunID]; ok && prev == sum {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("state store: creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("state store: writing run %q: %w", snap.RunID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state store: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("state store: renaming checkpoint for run %q: %w", snap.RunID, err)
	}
	s.hashes[snap.RunID] = sum
	return nil
}

// Load reads the checkpoint of runID. A missing file yields an error
// wrapping ErrRunNotFound.
func (s *FileStateStore) Load(_ context.Context, runID string) (Snapshot, error) {
	p, err := s.path(runID)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("state store: reading run %q: %w", runID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("state store: decoding run %q: %w", runID, err)
	}
	return snap, nil
}

// List returns the IDs of all checkpointed runs, sorted.
func (s *FileStateStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("state store: listing %s: %w", s.dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the checkpoint of runID. Deleting a missing run is not an
// error.
func (s *FileStateStore) Delete(_ context.Context, runID string) error {
	p, err := s.path(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state store: deleting run %q: %w", runID, err)
	}
	s.mu.Lock()
	delete(s.hashes, runID)
	s.mu.Unlock()
	return nil
}
