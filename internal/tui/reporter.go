package tui

import (
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"pyvm/internal/manager"
)

// ProgramReporter forwards manager progress into a running bubbletea program.
type ProgramReporter struct {
	send func(tea.Msg)
}

// NewProgramReporter wraps a send callback such as tea.Program.Send.
func NewProgramReporter(send func(tea.Msg)) *ProgramReporter {
	return &ProgramReporter{send: send}
}

// Stage implements manager.Reporter.
func (r *ProgramReporter) Stage(id string, stage manager.Stage, detail string) {
	r.send(StageMsg{ID: id, Stage: stage, Detail: detail})
}

// LineReporter writes one line per stage for non-interactive output.
type LineReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

// Stage implements manager.Reporter.
func (r *LineReporter) Stage(id string, stage manager.Stage, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if detail == "" {
		fmt.Fprintf(r.w, "%s: %s\n", id, stage)
		return
	}
	fmt.Fprintf(r.w, "%s: %s %s\n", id, stage, detail)
}
