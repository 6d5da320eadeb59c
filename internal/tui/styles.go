package tui

import (
	"github.com/charmbracelet/lipgloss"

	"pyvm/internal/manager"
)

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	// CurrentStyle highlights the active version.
	CurrentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)

	// ErrorStyle styles failures.
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	// WarningStyle styles doctor findings.
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	pendingStyle = lipgloss.NewStyle().Faint(true)

	stageStyles = map[manager.Stage]lipgloss.Style{
		manager.StageInstalled: doneStyle,
		manager.StageRetrying:  WarningStyle,
	}
)

// StageStyle returns the lipgloss style for a stage that is still running.
func StageStyle(stage manager.Stage) lipgloss.Style {
	if s, ok := stageStyles[stage]; ok {
		return s
	}
	return activeStyle
}
