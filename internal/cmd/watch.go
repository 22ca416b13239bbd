package cmd

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/crewmux/crewmux/internal/team"
)

// watchModel is the live status view: a spinner plus the rendered
// status snapshot, refreshed every 2 seconds. Quits on q / ctrl+c, or
// on its own once the team reaches a terminal phase.
type watchModel struct {
	manager *team.Manager
	spin    spinner.Model
	status  *team.Status
	err     error
}

type statusMsg struct {
	status *team.Status
	err    error
}

type tickMsg time.Time

func newWatchModel(m *team.Manager) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return watchModel{manager: m, spin: s}
}

func runWatch(m *team.Manager) error {
	p := tea.NewProgram(newWatchModel(m))
	_, err := p.Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refresh, tick())
}

func (m watchModel) refresh() tea.Msg {
	st, err := m.manager.Status(statusUsage)
	return statusMsg{status: st, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh, tick())

	case statusMsg:
		m.status = msg.status
		m.err = msg.err
		if m.err == nil && m.status != nil && m.status.Phase.IsTerminal() {
			return m, tea.Quit
		}
		return m, nil

	default:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
}

func (m watchModel) View() string {
	if m.err != nil {
		return "status error: " + m.err.Error() + "\n"
	}
	if m.status == nil {
		return m.spin.View() + " loading...\n"
	}
	return m.spin.View() + " watching (q to quit)\n\n" + renderStatus(m.status, true)
}
