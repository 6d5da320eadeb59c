package tui

import "pyvm/internal/manager"

// StageMsg reports that an install entered a new stage.
type StageMsg struct {
	ID     string
	Stage  manager.Stage
	Detail string
}

// WorkDoneMsg signals that all background work has completed.
type WorkDoneMsg struct{}

// ErrorMsg signals a fatal error; the TUI should quit.
type ErrorMsg struct {
	Err error
}
