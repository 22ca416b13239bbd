// Package teamfs defines the on-disk layout shared by the leader and all
// workers of a team. Every cross-process coordination file (tasks,
// heartbeats, mailboxes, sentinels) lives under a single per-team root,
// and every path is derived through this package so that team names are
// validated exactly once, before any path is constructed.
package teamfs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// teamNameRegex is the strict slug pattern for team names: lowercase
// alphanumeric and hyphens, 2-50 chars, no leading or trailing hyphen.
// Names failing this pattern are rejected before any path is built,
// closing the path-traversal hole an attacker-controlled name would open.
var teamNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,48}[a-z0-9]$`)

// ValidateTeamName checks that name is a valid team slug.
func ValidateTeamName(name string) error {
	if !teamNameRegex.MatchString(name) {
		return fmt.Errorf("invalid team name %q: must be 2-50 lowercase alphanumeric/hyphen characters with no leading or trailing hyphen", name)
	}
	return nil
}

// ValidateWorkerName checks that a worker name is a safe path component.
// Worker names follow the same slug rules as team names.
func ValidateWorkerName(name string) error {
	if !teamNameRegex.MatchString(name) {
		return fmt.Errorf("invalid worker name %q: must be 2-50 lowercase alphanumeric/hyphen characters with no leading or trailing hyphen", name)
	}
	return nil
}

// Layout resolves paths under a single team's directory tree.
// The zero value is not usable; construct with NewLayout.
type Layout struct {
	root string
	team string
}

// NewLayout validates the team name and returns a Layout rooted at
// {root}/teams/{team}.
func NewLayout(root, team string) (*Layout, error) {
	if err := ValidateTeamName(team); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("teamfs: root directory is required")
	}
	return &Layout{root: root, team: team}, nil
}

// Team returns the validated team name.
func (l *Layout) Team() string { return l.team }

// Dir returns the team's root directory.
func (l *Layout) Dir() string {
	return filepath.Join(l.root, "teams", l.team)
}

// TasksDir returns the directory holding one JSON file per task.
func (l *Layout) TasksDir() string {
	return filepath.Join(l.Dir(), "tasks")
}

// TaskFile returns the path of a single task file.
func (l *Layout) TaskFile(taskID string) string {
	return filepath.Join(l.TasksDir(), taskID+".json")
}

// WorkersDir returns the directory holding per-worker subdirectories.
func (l *Layout) WorkersDir() string {
	return filepath.Join(l.Dir(), "workers")
}

// WorkerDir returns the directory for one worker's coordination files.
func (l *Layout) WorkerDir(worker string) string {
	return filepath.Join(l.WorkersDir(), worker)
}

// InboxFile is the leader-to-worker instruction file (markdown, append-only).
func (l *Layout) InboxFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "inbox.md")
}

// OutboxFile is the worker-to-leader event log (JSONL, append-only).
func (l *Layout) OutboxFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "outbox.jsonl")
}

// MailboxFile is the worker's peer-to-peer message log (JSONL, append-only).
func (l *Layout) MailboxFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "mailbox.jsonl")
}

// HeartbeatFile is the worker's liveness record, overwritten each poll.
func (l *Layout) HeartbeatFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "heartbeat.json")
}

// RegistrationFile is the worker's immutable spawn-time registration.
func (l *Layout) RegistrationFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "registration.json")
}

// ShutdownRequestFile is the leader-written shutdown sentinel.
func (l *Layout) ShutdownRequestFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "shutdown-request.json")
}

// ShutdownAckFile is the worker-written shutdown acknowledgment.
func (l *Layout) ShutdownAckFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "shutdown-ack.json")
}

// OverlayFile is the worker's bootstrap overlay with sanitized task context.
func (l *Layout) OverlayFile(worker string) string {
	return filepath.Join(l.WorkerDir(worker), "overlay.md")
}

// UsageFile is the team-wide append-only usage telemetry log.
func (l *Layout) UsageFile() string {
	return filepath.Join(l.Dir(), "usage.jsonl")
}

// SessionFile records the tmux topology (session name, pane ids).
func (l *Layout) SessionFile() string {
	return filepath.Join(l.Dir(), "session.json")
}

// WorktreesDir holds the per-worker git worktrees when isolation is on.
func (l *Layout) WorktreesDir() string {
	return filepath.Join(l.Dir(), "worktrees")
}

// EnsureDirs creates the team directory skeleton.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.Dir(), l.TasksDir(), l.WorkersDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("teamfs: create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureWorkerDir creates one worker's directory, validating the name first.
func (l *Layout) EnsureWorkerDir(worker string) error {
	if err := ValidateWorkerName(worker); err != nil {
		return err
	}
	if err := os.MkdirAll(l.WorkerDir(worker), 0o755); err != nil {
		return fmt.Errorf("teamfs: create worker dir: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a temporary file and rename, so
// concurrent pollers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
