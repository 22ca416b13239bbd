package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crewmux/crewmux/internal/task"
	"github.com/crewmux/crewmux/internal/team"
	"github.com/crewmux/crewmux/internal/tmux"
)

var (
	startTasksFile string
	startIsolate   bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a team: tmux session, workers, and the task graph",
	Long: `Start reads a team definition (workers and tasks) from a YAML file,
creates the team's tmux session with the leader in the first pane,
spawns one pane per worker, and writes the task files.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startTasksFile, "tasks", "", "YAML team definition (required)")
	startCmd.Flags().BoolVar(&startIsolate, "isolate", false, "give each worker its own git worktree")
	_ = startCmd.MarkFlagRequired("tasks")
	rootCmd.AddCommand(startCmd)
}

// teamDefinition is the YAML shape of a --tasks file.
type teamDefinition struct {
	Workers []struct {
		Name      string `yaml:"name"`
		AgentType string `yaml:"agent_type"`
		Model     string `yaml:"model"`
		Overlay   string `yaml:"overlay"`
	} `yaml:"workers"`
	Tasks []struct {
		ID          string   `yaml:"id"`
		Subject     string   `yaml:"subject"`
		Description string   `yaml:"description"`
		BlockedBy   []string `yaml:"blocked_by"`
		MaxRetries  int      `yaml:"max_retries"`
	} `yaml:"tasks"`
}

func runStart(cmd *cobra.Command, args []string) error {
	m, logger, err := newManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	data, err := os.ReadFile(startTasksFile)
	if err != nil {
		return fmt.Errorf("read team definition: %w", err)
	}
	var def teamDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("parse team definition: %w", err)
	}
	if len(def.Workers) == 0 {
		return fmt.Errorf("team definition names no workers")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	opts := team.StartOptions{Cwd: cwd, IsolateWorktrees: startIsolate}
	for _, w := range def.Workers {
		opts.Workers = append(opts.Workers, team.WorkerSpec{
			Name:      w.Name,
			AgentType: w.AgentType,
			Model:     w.Model,
			Overlay:   w.Overlay,
		})
	}
	for _, t := range def.Tasks {
		opts.Tasks = append(opts.Tasks, task.Task{
			ID:          t.ID,
			Subject:     t.Subject,
			Description: t.Description,
			BlockedBy:   t.BlockedBy,
			Metadata:    task.Metadata{MaxRetries: t.MaxRetries},
		})
	}

	session, err := m.Start(opts)
	if err != nil {
		return err
	}

	fmt.Printf("Team %s started: session %s, %d workers, %d tasks\n",
		teamName, session.SessionName, len(session.WorkerPaneIDs), len(opts.Tasks))
	fmt.Printf("Attach with: tmux -L %s attach -t %s\n",
		tmux.SocketName(teamName), session.SessionName)
	return nil
}
