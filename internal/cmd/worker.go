package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
	"github.com/crewmux/crewmux/internal/worker"
)

var workerBackendCmd string

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the worker loop (used inside panes)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerBackendCmd, "backend", "", "shell command executed per task (overrides config)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backendCommand := workerBackendCmd
	if backendCommand == "" {
		backendCommand = os.Getenv("CREWMUX_BACKEND")
	}
	cwd, _ := os.Getwd()
	backend := &worker.ShellBackend{
		Command:  backendCommand,
		Provider: os.Getenv("CREWMUX_PROVIDER"),
		Model:    os.Getenv("CREWMUX_MODEL"),
		Dir:      cwd,
	}

	// The worker logs into its own team directory.
	var logger *logging.Logger
	if layout, lerr := teamfs.NewLayout(cfg.RootDir, os.Getenv(worker.EnvTeam)); lerr == nil {
		if logger, lerr = logging.New(layout.Dir(), cfg.Logging.Level); lerr != nil {
			logger = logging.Nop()
		}
	} else {
		logger = logging.Nop()
	}
	defer func() { _ = logger.Close() }()

	w, err := worker.FromEnv(cfg, backend, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}
