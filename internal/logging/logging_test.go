package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetDefaults restores the global logger after a test; charmbracelet/log
// keeps its defaults in package state, so these tests do not run in parallel.
func resetDefaults(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetOutput(os.Stderr)
		log.SetFormatter(log.TextFormatter)
		log.SetReportTimestamp(false)
	})
}

func decodeLine(t *testing.T, line string) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &parsed), "line: %s", line)
	return parsed
}

// ---------------------------------------------------------------------------
// Configure
// ---------------------------------------------------------------------------

func TestConfigure_Levels(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want log.Level
	}{
		{name: "empty defaults to info", opts: Options{}, want: log.InfoLevel},
		{name: "explicit warn", opts: Options{Level: "warn"}, want: log.WarnLevel},
		{name: "case insensitive", opts: Options{Level: "DEBUG"}, want: log.DebugLevel},
		{name: "verbose overrides level", opts: Options{Level: "error", Verbose: true}, want: log.DebugLevel},
		{name: "quiet overrides level", opts: Options{Level: "debug", Quiet: true}, want: log.ErrorLevel},
		{name: "quiet wins over verbose", opts: Options{Verbose: true, Quiet: true}, want: log.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetDefaults(t)
			require.NoError(t, Configure(tt.opts))
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestConfigure_RejectsBadInput(t *testing.T) {
	resetDefaults(t)

	err := Configure(Options{Level: "chatty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")

	err = Configure(Options{Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"xml"`)
}

func TestConfigure_WritesToStderr(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	require.NoError(t, Configure(Options{}))

	log.Info("after configure")
	assert.Empty(t, buf.String(), "output should move back to stderr")
}

func TestConfigure_JSONThenText(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Format: "json"}))
	SetOutput(&buf)
	log.Info("json mode")

	parsed := decodeLine(t, buf.String())
	assert.Equal(t, "info", parsed["level"])
	assert.Equal(t, "json mode", parsed["msg"])
	assert.Contains(t, parsed, "time", "json output carries a timestamp")

	buf.Reset()
	require.NoError(t, Configure(Options{Format: "text"}))
	SetOutput(&buf)
	log.Info("text mode")

	var discard map[string]any
	assert.Error(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &discard))
	assert.Contains(t, buf.String(), "text mode")
}

// ---------------------------------------------------------------------------
// New / Discard
// ---------------------------------------------------------------------------

func TestNew_PrefixAndFields(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Format: "json"}))
	SetOutput(&buf)

	New("engine").Info("step started", "step_id", "deploy")

	parsed := decodeLine(t, buf.String())
	assert.Equal(t, "engine", parsed["prefix"])
	assert.Equal(t, "step started", parsed["msg"])
	assert.Equal(t, "deploy", parsed["step_id"])
}

func TestNew_EmptyComponentHasNoPrefix(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Format: "json"}))
	SetOutput(&buf)

	New("").Info("bare")

	parsed := decodeLine(t, buf.String())
	assert.NotContains(t, parsed, "prefix")
}

func TestNew_InheritsLevelAtCreation(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "warn"}))
	SetOutput(&buf)

	logger := New("server")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDiscard_DropsEverything(t *testing.T) {
	resetDefaults(t)

	var buf bytes.Buffer
	SetOutput(&buf)

	logger := Discard()
	logger.Error("nope")
	logger.Info("nope")

	assert.Empty(t, buf.String())
}
