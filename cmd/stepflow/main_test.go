package main_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// projectRoot returns the absolute path to the project root directory.
func projectRoot(tb testing.TB) string {
	tb.Helper()

	dir, err := os.Getwd()
	require.NoError(tb, err, "failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			tb.Fatal("could not find project root (no go.mod found in any parent directory)")
		}
		dir = parent
	}
}

// buildBinary compiles ./cmd/stepflow with CGO disabled and returns the
// binary path.
func buildBinary(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping binary build in -short mode")
	}
	binPath := filepath.Join(tb.TempDir(), "stepflow")

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/stepflow/")
	cmd.Dir = projectRoot(tb)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	output, err := cmd.CombinedOutput()
	require.NoError(tb, err, "go build failed: %s", string(output))
	return binPath
}

func TestBinary_Version(t *testing.T) {
	bin := buildBinary(t)

	output, err := exec.Command(bin, "version").CombinedOutput()
	require.NoError(t, err, "stepflow version failed: %s", string(output))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(output)), "stepflow v"))
}

func TestBinary_Help(t *testing.T) {
	bin := buildBinary(t)

	output, err := exec.Command(bin, "--help").CombinedOutput()
	require.NoError(t, err)
	for _, sub := range []string{"run", "serve", "signal", "plan", "validate", "watch"} {
		assert.Contains(t, string(output), sub)
	}
}

func TestBinary_UnknownCommandExitsNonZero(t *testing.T) {
	bin := buildBinary(t)

	output, err := exec.Command(bin, "frobnicate").CombinedOutput()
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(output), "Error:")
}

func TestBinary_RunDryRun(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workflows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflows", "hello.toml"), []byte(`
[[steps]]
step_id = "greet"
step_order = 1
step_type = "echo"
deployment_mode = "always_auto"
impact_level = "read"
`), 0o644))

	cmd := exec.Command(bin, "--no-color", "--dir", dir, "run", "hello", "--dry-run")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "output: %s", string(output))
	assert.Contains(t, string(output), "Workflow: hello")
}

// BenchmarkBinaryStartup measures process launch to exit for
// "stepflow version".
func BenchmarkBinaryStartup(b *testing.B) {
	bin := buildBinary(b)

	b.ResetTimer()
	b.ReportAllocs()
	for b.Loop() {
		if err := exec.Command(bin, "version").Run(); err != nil {
			b.Fatalf("stepflow version failed: %v", err)
		}
	}
}
