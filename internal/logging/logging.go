// Package logging configures stepflow's process-wide charmbracelet/log
// defaults and hands out component loggers.
//
// Everything is written to stderr; stdout carries command output (plans,
// JSON snapshots, status tables) so it can be piped.
//
// Configure must run before New: charmbracelet/log copies the default
// logger's state into a child when it is created, so loggers built earlier
// keep the old level and formatter.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Re-exported levels so callers need not import charmbracelet/log.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// Options selects the global log behaviour. Level and Format come from the
// [log] config section; Verbose and Quiet come from CLI flags and win over
// Level.
type Options struct {
	Level   string // debug, info, warn, error, fatal; empty means info
	Format  string // text or json; empty means text
	Verbose bool
	Quiet   bool
}

// Configure applies opts to the default logger. Quiet wins over Verbose so
// scripted callers can always silence output.
func Configure(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}
	if opts.Quiet {
		level = log.ErrorLevel
	}

	var formatter log.Formatter
	switch strings.ToLower(opts.Format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	default:
		return fmt.Errorf("log format %q: must be text or json", opts.Format)
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	log.SetFormatter(formatter)
	log.SetReportTimestamp(formatter == log.JSONFormatter)
	return nil
}

// New returns a logger prefixed with component, e.g. "engine" or "server".
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// Discard returns a logger that drops everything. Used by tests and by
// commands that must keep stderr quiet.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// SetOutput redirects the default logger, typically to a test buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
