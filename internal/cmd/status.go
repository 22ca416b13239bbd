package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crewmux/crewmux/internal/phase"
	"github.com/crewmux/crewmux/internal/task"
	"github.com/crewmux/crewmux/internal/team"
)

var (
	statusUsage bool
	statusWatch bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the team's phase, tasks, and worker liveness",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusUsage, "usage", false, "include aggregated usage totals")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "live-updating view")
	rootCmd.AddCommand(statusCmd)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	aliveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	deadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	m, logger, err := newManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if statusWatch {
		return runWatch(m)
	}

	st, err := m.Status(statusUsage)
	if err != nil {
		return err
	}
	fmt.Print(renderStatus(st, isTerminal()))
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// renderStatus formats a status snapshot. Styling is dropped when
// stdout is not a terminal.
func renderStatus(st *team.Status, styled bool) string {
	style := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var sb strings.Builder
	sb.WriteString(style(titleStyle, fmt.Sprintf("Team %s", st.Team)))
	sb.WriteString(fmt.Sprintf("  phase: %s\n\n", phaseLabel(st.Phase, styled)))

	if len(st.Workers) > 0 {
		sb.WriteString(style(labelStyle, "Workers") + "\n")
		for _, ws := range st.Workers {
			state := style(aliveStyle, "alive")
			if !ws.Alive {
				reason := ws.Heartbeat.Reason
				if reason == "" {
					reason = "pane gone"
				}
				state = style(deadStyle, "dead ("+reason+")")
			}
			sb.WriteString(fmt.Sprintf("  %-16s %-6s %s\n", ws.Name, ws.PaneID, state))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(style(labelStyle, "Tasks") + "\n")
	if len(st.Tasks) == 0 {
		sb.WriteString(style(subtleStyle, "  (none)") + "\n")
	}
	for _, t := range st.Tasks {
		owner := t.Owner
		if owner == "" {
			owner = "-"
		}
		marker := string(t.Status)
		if t.SemanticallyFailed() && t.Status == task.StatusCompleted {
			marker = "failed (exhausted)"
		}
		sb.WriteString(fmt.Sprintf("  %-12s %-20s %-12s %s\n", t.ID, truncateText(t.Subject, 20), marker, owner))
	}

	if st.Usage != nil {
		sb.WriteString("\n" + style(labelStyle, "Usage") + "\n")
		sb.WriteString(fmt.Sprintf("  team: %d tasks, %dms wall clock\n",
			st.Usage.Team.Tasks, st.Usage.Team.WallClockMS))
		for name, totals := range st.Usage.Workers {
			sb.WriteString(fmt.Sprintf("  %-16s %d tasks, %dms\n", name, totals.Tasks, totals.WallClockMS))
		}
	}
	return sb.String()
}

func phaseLabel(p phase.Phase, styled bool) string {
	if !styled {
		return string(p)
	}
	switch p {
	case phase.Completed:
		return aliveStyle.Render(string(p))
	case phase.Failed:
		return deadStyle.Render(string(p))
	default:
		return string(p)
	}
}

func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
