package tui

import "github.com/charmbracelet/lipgloss"

// ---------------------------------------------------------------------------
// Color Palette
// ---------------------------------------------------------------------------

var (
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7B78FF"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// ---------------------------------------------------------------------------
// Theme
// ---------------------------------------------------------------------------

// Theme holds the styles of the watch view.
type Theme struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Completed lipgloss.Style
	Failed    lipgloss.Style
	Waiting   lipgloss.Style
	Running   lipgloss.Style
	Muted     lipgloss.Style
	ErrorText lipgloss.Style
	Help      lipgloss.Style
}

// DefaultTheme returns the adaptive-colour theme.
func DefaultTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle().
			Bold(true).
			Background(ColorPrimary).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1),
		Label:     lipgloss.NewStyle().Bold(true),
		Completed: lipgloss.NewStyle().Foreground(ColorSuccess),
		Failed:    lipgloss.NewStyle().Foreground(ColorError),
		Waiting:   lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
		Running:   lipgloss.NewStyle().Foreground(ColorPrimary),
		Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
		ErrorText: lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		Help:      lipgloss.NewStyle().Foreground(ColorMuted).Italic(true),
	}
}

// PlainTheme renders without any styling, for --no-color and tests.
func PlainTheme() Theme {
	s := lipgloss.NewStyle()
	return Theme{
		Title: s, Label: s, Completed: s, Failed: s, Waiting: s,
		Running: s, Muted: s, ErrorText: s, Help: s,
	}
}
