package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// RunCall shows the call view until the user leaves or the session ends.
// The view renders inline, keeping earlier terminal output visible.
func RunCall(model *CallModel) error {
	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("call view: %w", err)
	}
	return nil
}
