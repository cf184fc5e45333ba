// Package tui renders the live "stepflow watch" view of a run with Bubble
// Tea. The model polls a run snapshot at a fixed interval and quits on its
// own once the run reaches a terminal status.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

// maxFetchFailures is how many consecutive failed polls end the watch.
const maxFetchFailures = 5

// Fetcher loads the current snapshot of a run. *server.Client implements it.
type Fetcher interface {
	GetRun(ctx context.Context, runID string) (workflow.Snapshot, error)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

type snapshotMsg struct {
	snap workflow.Snapshot
	err  error
}

type pollMsg time.Time

// ---------------------------------------------------------------------------
// WatchModel
// ---------------------------------------------------------------------------

// WatchModel follows one run. Update returns a new value; View is a pure
// function of the model.
type WatchModel struct {
	ctx      context.Context
	fetcher  Fetcher
	runID    string
	interval time.Duration

	theme   Theme
	keys    KeyMap
	spinner spinner.Model
	bar     progress.Model

	snap     workflow.Snapshot
	loaded   bool
	err      error
	failures int
	done     bool
}

// NewWatchModel creates a model polling fetcher every interval.
func NewWatchModel(ctx context.Context, fetcher Fetcher, runID string, interval time.Duration, theme Theme) WatchModel {
	if interval <= 0 {
		interval = time.Second
	}
	return WatchModel{
		ctx:      ctx,
		fetcher:  fetcher,
		runID:    runID,
		interval: interval,
		theme:    theme,
		keys:     DefaultKeyMap(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Running)),
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
	}
}

// Snapshot returns the last snapshot received.
func (m WatchModel) Snapshot() workflow.Snapshot { return m.snap }

// Done reports whether the watch has ended.
func (m WatchModel) Done() bool { return m.done }

// Err returns the polling error that ended the watch, if any.
func (m WatchModel) Err() error {
	if m.failures >= maxFetchFailures {
		return m.err
	}
	return nil
}

func (m WatchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.fetcher.GetRun(m.ctx, m.runID)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m WatchModel) poll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

// Init fetches the first snapshot and starts the spinner.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

// Update handles key presses, window resizes, poll ticks and snapshots.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.done = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 12
		if width > 60 {
			width = 60
		}
		if width < 10 {
			width = 10
		}
		m.bar.Width = width

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			m.failures++
			if m.failures >= maxFetchFailures {
				m.done = true
				return m, tea.Quit
			}
			return m, m.poll()
		}
		m.snap = msg.snap
		m.loaded = true
		m.err = nil
		m.failures = 0
		if m.snap.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.poll()

	case pollMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the header, progress bar, step log and pending approvals.
func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("stepflow watch " + m.runID))
	b.WriteString("\n\n")

	if !m.loaded {
		if m.err != nil {
			b.WriteString(m.theme.ErrorText.Render("error: " + m.err.Error()))
		} else {
			b.WriteString(m.spinner.View() + " loading run...")
		}
		b.WriteString("\n")
		return b.String()
	}

	s := m.snap
	status := m.statusStyle(string(s.Status)).Render(string(s.Status))
	if !s.Status.Terminal() {
		status = m.spinner.View() + " " + status
	}
	fmt.Fprintf(&b, "%s %s   %s %s\n", m.theme.Label.Render("workflow"), s.WorkflowID, m.theme.Label.Render("status"), status)

	done := len(s.StepResults)
	fraction := 0.0
	if s.TotalSteps > 0 {
		fraction = float64(done) / float64(s.TotalSteps)
	}
	fmt.Fprintf(&b, "%s %d/%d\n\n", m.bar.ViewAs(fraction), done, s.TotalSteps)

	for _, r := range s.StepResults {
		name := r.StepName
		if name == "" {
			name = r.StepID
		}
		fmt.Fprintf(&b, "  %2d. %s %s %s\n", r.StepOrder,
			m.statusStyle(string(r.Status)).Render(fmt.Sprintf("%-9s", r.Status)),
			name,
			m.theme.Muted.Render(fmt.Sprintf("(%d attempt(s), %dms)", r.Attempts, r.DurationMS)))
		if r.ErrorMessage != "" {
			b.WriteString("      " + m.theme.Failed.Render(r.ErrorMessage) + "\n")
		}
	}

	for _, stepID := range s.AwaitingApproval {
		fmt.Fprintf(&b, "\n%s %s\n", m.theme.Waiting.Render("awaiting approval:"), stepID)
		b.WriteString(m.theme.Muted.Render(fmt.Sprintf("  stepflow signal %s %s --approve", s.RunID, stepID)))
		b.WriteString("\n")
	}

	if s.Outcome != nil && s.Outcome.Error != "" {
		b.WriteString("\n" + m.theme.ErrorText.Render("error: "+s.Outcome.Error) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + m.theme.ErrorText.Render(fmt.Sprintf("poll failed (%d/%d): %v", m.failures, maxFetchFailures, m.err)) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Help.Render(fmt.Sprintf("%s %s  %s %s",
		m.keys.Quit.Help().Key, m.keys.Quit.Help().Desc,
		m.keys.Refresh.Help().Key, m.keys.Refresh.Help().Desc)))
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) statusStyle(status string) lipgloss.Style {
	switch status {
	case string(workflow.RunCompleted):
		return m.theme.Completed
	case string(workflow.RunFailed), string(workflow.RunCancelled),
		string(workflow.StatusRejected), string(workflow.StatusTimeout):
		return m.theme.Failed
	case string(workflow.RunRunning):
		return m.theme.Running
	default:
		return m.theme.Waiting
	}
}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// WatchOptions configures Watch.
type WatchOptions struct {
	Interval time.Duration
	Theme    Theme
	Input    io.Reader
	Output   io.Writer
}

// Watch runs the watch view until the run finishes, the user quits or ctx
// is cancelled, and returns the last snapshot seen.
func Watch(ctx context.Context, fetcher Fetcher, runID string, opts WatchOptions) (workflow.Snapshot, error) {
	model := NewWatchModel(ctx, fetcher, runID, opts.Interval, opts.Theme)

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}

	final, err := tea.NewProgram(model, progOpts...).Run()
	wm, _ := final.(WatchModel)
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return wm.Snapshot(), ctx.Err()
		}
		return wm.Snapshot(), fmt.Errorf("watch: %w", err)
	}
	return wm.Snapshot(), wm.Err()
}
