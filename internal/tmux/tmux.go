// Package tmux wraps the tmux CLI for team session and pane operations.
//
// Crewmux hosts each team in one tmux session on a dedicated socket named
// "crewmux-{team}", so a crash of one team's tmux server never affects
// another team. Every pane is addressed by its stable pane id ("%N"),
// never by its index: indices shift as panes open and close, and a kill
// aimed at an index can land on the wrong worker.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// SocketPrefix is the prefix for all crewmux tmux sockets.
const SocketPrefix = "crewmux"

// commandTimeout bounds every tmux invocation so a hung server cannot
// stall the leader's polling loops.
const commandTimeout = 5 * time.Second

// SocketName returns the tmux socket name for a team.
func SocketName(team string) string {
	return SocketPrefix + "-" + team
}

// Command creates an exec.Cmd for tmux on the given team socket.
func Command(socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.Command("tmux", fullArgs...)
}

// CommandContext creates a context-aware exec.Cmd for tmux on the socket.
func CommandContext(ctx context.Context, socket string, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-L", socket}, args...)
	return exec.CommandContext(ctx, "tmux", fullArgs...)
}

// run executes a tmux command with the package timeout and returns
// trimmed stdout.
func run(socket string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := CommandContext(ctx, socket, args...).Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// NewSession creates a detached session and returns the id of its first
// pane. The session is created with a generous size so captured output is
// representative regardless of the controlling terminal.
func NewSession(socket, sessionName, cwd string) (string, error) {
	return run(socket,
		"new-session", "-d", "-s", sessionName, "-c", cwd,
		"-x", "220", "-y", "50",
		"-P", "-F", "#{pane_id}")
}

// SplitWindow splits a new pane off the given pane and returns the new
// pane's id.
func SplitWindow(socket, targetPaneID, cwd string) (string, error) {
	return run(socket,
		"split-window", "-d", "-t", targetPaneID, "-c", cwd,
		"-P", "-F", "#{pane_id}")
}

// SetPaneEnv sets an environment variable for processes later launched in
// the session.
func SetPaneEnv(socket, sessionName, key, value string) error {
	_, err := run(socket, "set-environment", "-t", sessionName, key, value)
	return err
}

// SendKeys types keys into a pane. When literal is true the keys are sent
// without interpretation (-l), which is required for arbitrary message
// text; otherwise key names like "Enter" are interpreted.
func SendKeys(socket, paneID, keys string, literal bool) error {
	args := []string{"send-keys", "-t", paneID}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, keys)
	_, err := run(socket, args...)
	return err
}

// CapturePane returns the last `lines` lines of a pane's visible output.
func CapturePane(socket, paneID string, lines int) (string, error) {
	return run(socket,
		"capture-pane", "-p", "-t", paneID,
		"-S", fmt.Sprintf("-%d", lines))
}

// ListPanes returns the pane ids of every pane in the session.
func ListPanes(socket, sessionName string) ([]string, error) {
	out, err := run(socket, "list-panes", "-s", "-t", sessionName, "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// PaneAlive reports whether a pane with the given id still exists.
func PaneAlive(socket, paneID string) bool {
	panes, err := run(socket, "list-panes", "-a", "-F", "#{pane_id}")
	if err != nil {
		return false
	}
	for _, id := range strings.Split(panes, "\n") {
		if id == paneID {
			return true
		}
	}
	return false
}

// KillPane destroys a single pane by id.
func KillPane(socket, paneID string) error {
	_, err := run(socket, "kill-pane", "-t", paneID)
	return err
}

// KillSession destroys the whole session.
func KillSession(socket, sessionName string) error {
	_, err := run(socket, "kill-session", "-t", sessionName)
	return err
}

// KillServer terminates the tmux server for the socket, taking every
// session, window, and pane on it down. More thorough than kill-session.
func KillServer(socket string) error {
	_, err := run(socket, "kill-server")
	return err
}
