package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/netbyu/ump-sub000/internal/workflow"
)

var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFaint   = lipgloss.NewStyle().Faint(true)
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseInput decodes a JSON object given inline or read from a file ("-"
// reads stdin). Both empty yields an empty map.
func parseInput(inline, file string, stdin io.Reader) (map[string]any, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
	}
	var data []byte
	switch {
	case inline != "":
		data = []byte(inline)
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading input from stdin: %w", err)
		}
		data = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		data = b
	default:
		return map[string]any{}, nil
	}

	input := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}

// currentUser names the actor for signals sent from this terminal.
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "cli"
}

// statusStyle colours both run and step statuses; they share the
// "completed" and "failed" spellings.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(workflow.RunCompleted):
		return styleOK
	case string(workflow.RunFailed), string(workflow.RunCancelled),
		string(workflow.StatusRejected), string(workflow.StatusTimeout):
		return styleFail
	default:
		return styleWaiting
	}
}

// printOutcome renders a finished run: one line per recorded step, then the
// overall status.
func printOutcome(out io.Writer, o *workflow.Outcome) {
	if o == nil {
		fmt.Fprintln(out, "no outcome")
		return
	}
	fmt.Fprintln(out, styleHeader.Render(fmt.Sprintf("Run %s (%s)", o.RunID, o.WorkflowID)))
	printStepResults(out, o.CompletedSteps)

	line := fmt.Sprintf("%s: %d/%d step(s) executed in %s", o.Status, o.ExecutedSteps, o.TotalSteps,
		o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
	fmt.Fprintln(out, statusStyle(string(o.Status)).Render(line))
	if o.Error != "" {
		fmt.Fprintln(out, styleFail.Render("error: "+o.Error))
	}
}

// printSnapshot renders a live or finished run snapshot.
func printSnapshot(out io.Writer, s workflow.Snapshot) {
	fmt.Fprintln(out, styleHeader.Render(fmt.Sprintf("Run %s (%s)", s.RunID, s.WorkflowID)))
	fmt.Fprintf(out, "status:   %s\n", statusStyle(string(s.Status)).Render(string(s.Status)))
	if s.CurrentStepIndex != nil {
		fmt.Fprintf(out, "step:     %d of %d\n", *s.CurrentStepIndex+1, s.TotalSteps)
	}
	if len(s.AwaitingApproval) > 0 {
		fmt.Fprintf(out, "awaiting: %s\n", styleWaiting.Render(strings.Join(s.AwaitingApproval, ", ")))
	}
	if s.DroppedSignals > 0 {
		fmt.Fprintf(out, "dropped:  %d late signal(s)\n", s.DroppedSignals)
	}
	if len(s.StepResults) > 0 {
		fmt.Fprintln(out)
		printStepResults(out, s.StepResults)
	}
	if s.Outcome != nil && s.Outcome.Error != "" {
		fmt.Fprintln(out, styleFail.Render("error: "+s.Outcome.Error))
	}
}

func printStepResults(out io.Writer, results []workflow.StepResult) {
	for _, r := range results {
		name := r.StepName
		if name == "" {
			name = r.StepID
		}
		status := statusStyle(string(r.Status)).Render(fmt.Sprintf("%-9s", r.Status))
		detail := fmt.Sprintf("%d attempt(s), %dms", r.Attempts, r.DurationMS)
		switch {
		case r.ApprovedBy != "":
			detail += ", approved by " + r.ApprovedBy
		case r.RejectedBy != "":
			detail += ", rejected by " + r.RejectedBy
		}
		fmt.Fprintf(out, "  %2d. %s %-24s %s\n", r.StepOrder, status, name, styleFaint.Render(detail))
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, "      %s\n", styleFail.Render(r.ErrorMessage))
		}
	}
}

// printRunList renders run summaries as a table.
func printRunList(out io.Writer, runs []workflow.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return
	}
	fmt.Fprintln(out, styleHeader.Render(fmt.Sprintf("%-36s  %-20s  %-10s  %s", "RUN", "WORKFLOW", "STATUS", "LIVE")))
	for _, r := range runs {
		live := ""
		if r.Live {
			live = "yes"
		}
		status := statusStyle(string(r.Status)).Render(fmt.Sprintf("%-10s", r.Status))
		fmt.Fprintf(out, "%-36s  %-20s  %s  %s\n", r.RunID, r.WorkflowID, status, live)
	}
}
