// Package worktree gives each worker an isolated git working tree and
// coordinates merges: snapshots of touched paths, overlap detection
// across workers, and a live fsnotify tracker. Overlapping edits are
// surfaced to the leader, never merged silently.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/crewmux/crewmux/internal/teamfs"
)

// Manager handles per-worker git worktrees under a single repository.
type Manager struct {
	repoDir string
	baseDir string // where worker trees are created
}

// FindGitRoot walks up from startDir to the directory containing .git.
// A .git regular file counts: that is how linked worktrees look.
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// NewManager creates a Manager. baseDir is where worker trees live,
// e.g. {team dir}/worktrees.
func NewManager(repoDir, baseDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("worktree: %s: %w", repoDir, err)
	}
	return &Manager{repoDir: gitRoot, baseDir: baseDir}, nil
}

// WorkerTree returns the path a worker's tree would occupy.
func (m *Manager) WorkerTree(worker string) string {
	return filepath.Join(m.baseDir, worker)
}

// Create adds a worktree for the worker on a fresh branch off HEAD.
// The branch is named after the team and worker.
func (m *Manager) Create(team, worker string) (string, error) {
	if err := teamfs.ValidateWorkerName(worker); err != nil {
		return "", err
	}
	path := m.WorkerTree(worker)
	branch := fmt.Sprintf("%s/%s", team, worker)

	cmd := exec.Command("git", "worktree", "add", "-b", branch, path)
	cmd.Dir = m.repoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("worktree: create for %s: %w\n%s", worker, err, output)
	}
	return path, nil
}

// Remove deletes a worker's worktree. On failure the directory is
// removed manually and the worktree references pruned.
func (m *Manager) Remove(worker string) error {
	path := m.WorkerTree(worker)

	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = m.repoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(path)
		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = m.repoDir
		_ = pruneCmd.Run()
		return fmt.Errorf("worktree: remove for %s: %w\n%s", worker, err, output)
	}
	return nil
}

// List returns the paths of all worktrees attached to the repository.
func (m *Manager) List() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.repoDir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("worktree: list: %w", err)
	}

	var trees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			trees = append(trees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return trees, nil
}

// HasUncommittedChanges reports whether a tree has local modifications.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = path
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("worktree: status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CommitAll stages and commits everything in a tree. A tree with
// nothing to commit is not an error.
func (m *Manager) CommitAll(path, message string) error {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = path
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("worktree: add: %w\n%s", err, output)
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = path
	if output, err := commitCmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return fmt.Errorf("worktree: commit: %w\n%s", err, output)
	}
	return nil
}
