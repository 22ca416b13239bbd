package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/crewmux/crewmux/internal/task"
)

// summaryMaxLen caps backend output captured into outbox summaries.
const summaryMaxLen = 2000

// ShellBackend executes each task by running a shell command with the
// task's identity and text in the environment. It suits agent CLIs that
// take their prompt from env vars or stdin.
type ShellBackend struct {
	Command  string // e.g. `claude -p "$CREWMUX_TASK_DESCRIPTION"`
	Provider string
	Model    string
	Dir      string
}

// Execute runs the command with CREWMUX_TASK_* variables set. The exit
// status decides success; combined output becomes the summary.
func (b *ShellBackend) Execute(ctx context.Context, t task.Task) (Result, error) {
	if b.Command == "" {
		return Result{}, fmt.Errorf("worker: backend command is empty")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", b.Command)
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(),
		"CREWMUX_TASK_ID="+t.ID,
		"CREWMUX_TASK_SUBJECT="+t.Subject,
		"CREWMUX_TASK_DESCRIPTION="+t.Description,
	)

	output, err := cmd.CombinedOutput()
	summary := strings.TrimSpace(string(output))
	if runes := []rune(summary); len(runes) > summaryMaxLen {
		summary = string(runes[:summaryMaxLen])
	}

	result := Result{
		Summary:       summary,
		Provider:      b.Provider,
		Model:         b.Model,
		PromptChars:   len(t.Subject) + len(t.Description),
		ResponseChars: len(output),
	}
	if err != nil {
		return result, fmt.Errorf("worker: backend command: %w", err)
	}
	return result, nil
}
