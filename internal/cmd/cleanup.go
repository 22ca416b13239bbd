package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Shut workers down and tear down the team's tmux session",
	Long: `Cleanup asks every worker to exit, waits for acknowledgments up to
the shutdown grace window, and force-kills anything still running. The
tmux session is killed only once the leader's own pane has left it;
the team's state files stay on disk.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	m, logger, err := newManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	if err := m.Cleanup(); err != nil {
		return err
	}
	fmt.Printf("Team %s cleaned up\n", teamName)
	return nil
}
