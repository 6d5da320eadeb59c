package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"pyvm/internal/manager"
)

const stageWidth = 12

// step is one stage the install has entered.
type step struct {
	stage  manager.Stage
	detail string
	start  time.Time
	end    time.Time
}

// InstallModel is a bubbletea model that renders install stages as they
// happen, with a spinner next to the running one.
type InstallModel struct {
	id      string
	spinner spinner.Model
	steps   []step
	done    bool
	err     error

	now func() time.Time
}

// NewInstallModel creates a progress model for installing id.
func NewInstallModel(id string) InstallModel {
	return InstallModel{
		id:      id,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(activeStyle)),
		now:     time.Now,
	}
}

// Init satisfies the tea.Model interface.
func (m InstallModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update satisfies the tea.Model interface.
func (m InstallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StageMsg:
		m.advance(msg)
		return m, nil

	case WorkDoneMsg:
		m.finish()
		m.done = true
		return m, tea.Quit

	case ErrorMsg:
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *InstallModel) advance(msg StageMsg) {
	now := m.now()
	if n := len(m.steps); n > 0 {
		last := &m.steps[n-1]
		if last.stage == msg.Stage {
			last.detail = msg.Detail
			return
		}
		last.end = now
	}
	m.steps = append(m.steps, step{stage: msg.Stage, detail: msg.Detail, start: now})
}

func (m *InstallModel) finish() {
	if n := len(m.steps); n > 0 && m.steps[n-1].end.IsZero() {
		m.steps[n-1].end = m.now()
	}
}

// View satisfies the tea.Model interface.
func (m InstallModel) View() string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Installing " + m.id))
	b.WriteByte('\n')

	for i, s := range m.steps {
		running := i == len(m.steps)-1 && !m.done
		label := pad(string(s.stage), stageWidth)
		detail := TruncateWithEllipsis(s.detail, 60)
		switch {
		case running:
			elapsed := formatElapsed(m.now().Sub(s.start))
			fmt.Fprintf(&b, "  %s %s %s %s\n", m.spinner.View(), StageStyle(s.stage).Render(label), pendingStyle.Render(elapsed), detail)
		case i == len(m.steps)-1 && m.err != nil:
			fmt.Fprintf(&b, "  %s %s %s\n", ErrorStyle.Render("✗"), label, detail)
		default:
			end := s.end
			if end.IsZero() {
				end = s.start
			}
			fmt.Fprintf(&b, "  %s %s %s\n", doneStyle.Render("✓"), label, pendingStyle.Render(formatElapsed(end.Sub(s.start))))
		}
	}

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}
	return b.String()
}

// Done returns whether the model has finished (work done or error).
func (m InstallModel) Done() bool {
	return m.done
}

// Err returns any fatal error that occurred.
func (m InstallModel) Err() error {
	return m.err
}

// Stages lists the stages seen so far, in order.
func (m InstallModel) Stages() []manager.Stage {
	out := make([]manager.Stage, len(m.steps))
	for i, s := range m.steps {
		out[i] = s.stage
	}
	return out
}

// formatElapsed formats a duration for display next to a stage.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
