package team

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/crewmux/crewmux/internal/teamfs"
)

// Session records the tmux topology of a running team: the session
// name, the leader's own pane, and each worker's pane. The leader pane
// id is load-bearing: every kill path filters against it.
type Session struct {
	SessionName   string            `json:"session_name"`
	LeaderPaneID  string            `json:"leader_pane_id"`
	WorkerPaneIDs map[string]string `json:"worker_pane_ids"`          // worker name -> pane id
	WorktreePaths map[string]string `json:"worktree_paths,omitempty"` // worker name -> isolated tree
	RepoRoot      string            `json:"repo_root,omitempty"`      // repository the trees belong to
}

// SaveSession writes the session record atomically.
func SaveSession(layout *teamfs.Layout, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("team: marshal session: %w", err)
	}
	if err := teamfs.WriteFileAtomic(layout.SessionFile(), data, 0o644); err != nil {
		return fmt.Errorf("team: write session: %w", err)
	}
	return nil
}

// LoadSession reads the session record, nil when absent or malformed.
func LoadSession(layout *teamfs.Layout) *Session {
	data, err := os.ReadFile(layout.SessionFile())
	if err != nil {
		return nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}
