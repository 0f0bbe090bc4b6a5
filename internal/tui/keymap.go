package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyBindings holds the keys active while the CLI waits on the user.
type KeyBindings struct {
	Cancel key.Binding
	CtrlC  key.Binding
}

// NewKeyBindings creates the default keybindings.
func NewKeyBindings() KeyBindings {
	return KeyBindings{
		Cancel: key.NewBinding(
			key.WithKeys("esc", "q"),
			key.WithHelp("esc", "cancel"),
		),
		CtrlC: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "cancel"),
		),
	}
}
