package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RunWithWork creates a bubbletea program, launches work in a goroutine, and
// blocks until both have finished. Quitting the program cancels the context
// handed to work.
func RunWithWork(ctx context.Context, out io.Writer, model InstallModel, work func(ctx context.Context, send func(tea.Msg)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(model, tea.WithOutput(out))
	workErr := make(chan error, 1)

	go func() {
		// Let bubbletea start its event loop and render the initial frame.
		time.Sleep(50 * time.Millisecond)

		err := work(ctx, p.Send)
		if err != nil {
			p.Send(ErrorMsg{Err: err})
		} else {
			p.Send(WorkDoneMsg{})
		}
		workErr <- err
	}()

	_, runErr := p.Run()
	cancel()
	err := <-workErr
	if runErr != nil {
		return runErr
	}
	return err
}
