// Package cmd wires the crewmux CLI: start, status, wait, cleanup, and
// the hidden worker entry point used inside panes.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewmux/crewmux/internal/config"
	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/team"
)

var (
	cfgFile  string
	teamName string
)

var rootCmd = &cobra.Command{
	Use:   "crewmux",
	Short: "File-backed multi-agent team coordination over tmux",
	Long: `Crewmux runs a team of agent workers in tmux panes, coordinated
through a file-backed task graph. The leader starts the team, routes
messages, tracks liveness, and tears everything down when the work
is done.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.crewmux/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&teamName, "team", "t", "", "team name")
}

// loadConfig resolves the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newManager builds a team Manager for the --team flag, with a logger
// writing into the team's directory.
func newManager() (*team.Manager, *logging.Logger, error) {
	if teamName == "" {
		return nil, nil, fmt.Errorf("--team is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	m, err := team.NewManager(cfg, teamName, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Layout().EnsureDirs(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(m.Layout().Dir(), cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logger = logger.WithTeam(teamName)

	// Rebuild with the real logger now that the team dir exists.
	m, err = team.NewManager(cfg, teamName, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, logger, nil
}
