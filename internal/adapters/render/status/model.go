package status

import (
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

var ErrRenderIncomplete = errors.New("status program exited without a rendered report")

// reportMsg hands the report to the program once it is running.
type reportMsg struct {
	report Report
}

type model struct {
	opts   RenderOptions
	styles styles
	done   bool
	output string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(reportMsg); ok {
		m.output = renderView(msg.report, m.opts, m.styles)
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	return m.output
}

// Render draws the report once through a headless bubbletea program and
// returns the final frame. A zero Now disables relative times and the
// freshness bar.
func Render(report Report, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		model{opts: opts, styles: newStyles()},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)
	go p.Send(reportMsg{report: report})

	final, err := p.Run()
	if err != nil {
		return "", err
	}

	m, ok := final.(model)
	if !ok || !m.done {
		return "", ErrRenderIncomplete
	}
	return m.output, nil
}
