package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the watch view key bindings. The view is read-only:
// approvals go through "stepflow signal".
type KeyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh now"),
		),
	}
}
