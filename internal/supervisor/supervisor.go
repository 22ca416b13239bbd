// Package supervisor owns worker lifecycle inside a team's tmux
// session: spawning worker panes, recording registrations, and tearing
// workers down with a graceful-then-forceful shutdown protocol.
package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
	"github.com/crewmux/crewmux/internal/tmux"
)

// DefaultShutdownGrace is how long a worker gets to acknowledge a
// shutdown request before its pane is force-killed.
const DefaultShutdownGrace = 5 * time.Second

// Registration is a worker's immutable spawn-time record.
type Registration struct {
	AgentID       string    `json:"agent_id"`
	Name          string    `json:"name"`
	AgentType     string    `json:"agent_type"`
	Model         string    `json:"model,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
	PaneID        string    `json:"pane_id"`
	Cwd           string    `json:"cwd"`
	BackendType   string    `json:"backend_type"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
}

// PaneOps is the slice of tmux behavior the supervisor needs. The
// production implementation shells out to tmux; tests substitute fakes.
type PaneOps interface {
	SplitWindow(targetPaneID, cwd string) (string, error)
	SendKeys(paneID, keys string, literal bool) error
	KillPane(paneID string) error
	KillSession() error
	PaneAlive(paneID string) bool
	GetPanePID(paneID string) int
}

// tmuxOps implements PaneOps against a real tmux server.
type tmuxOps struct {
	socket  string
	session string
}

func (t tmuxOps) SplitWindow(targetPaneID, cwd string) (string, error) {
	return tmux.SplitWindow(t.socket, targetPaneID, cwd)
}
func (t tmuxOps) SendKeys(paneID, keys string, literal bool) error {
	return tmux.SendKeys(t.socket, paneID, keys, literal)
}
func (t tmuxOps) KillPane(paneID string) error { return tmux.KillPane(t.socket, paneID) }
func (t tmuxOps) KillSession() error           { return tmux.KillSession(t.socket, t.session) }
func (t tmuxOps) PaneAlive(paneID string) bool { return tmux.PaneAlive(t.socket, paneID) }
func (t tmuxOps) GetPanePID(paneID string) int { return tmux.GetPanePID(t.socket, paneID) }

// Supervisor spawns and terminates the workers of one team.
type Supervisor struct {
	layout       *teamfs.Layout
	ops          PaneOps
	leaderPaneID string
	grace        time.Duration
	logger       *logging.Logger

	killTree func(pid int)
	waitExit func(pid int, timeout time.Duration) bool
}

// New creates a Supervisor talking to the team's tmux session.
func New(layout *teamfs.Layout, socket, sessionName, leaderPaneID string, logger *logging.Logger) *Supervisor {
	return NewWithOps(layout, tmuxOps{socket: socket, session: sessionName}, leaderPaneID, logger)
}

// NewWithOps creates a Supervisor with explicit pane operations.
func NewWithOps(layout *teamfs.Layout, ops PaneOps, leaderPaneID string, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Supervisor{
		layout:       layout,
		ops:          ops,
		leaderPaneID: leaderPaneID,
		grace:        DefaultShutdownGrace,
		logger:       logger,
		killTree:     tmux.KillProcessTree,
		waitExit:     tmux.WaitForProcessExit,
	}
}

// SetShutdownGrace overrides the graceful-shutdown window.
func (s *Supervisor) SetShutdownGrace(d time.Duration) {
	if d > 0 {
		s.grace = d
	}
}

// SpawnOptions describe one worker to start.
type SpawnOptions struct {
	Name        string
	AgentType   string
	Model       string
	Cwd         string
	BackendType string
	Overlay     string // task context injected into the worker's bootstrap file
	Command     string // defaults to "crewmux worker"
}

// Spawn splits a new pane off the leader's, writes the worker's overlay
// and registration, and launches the worker command with its team and
// name in the environment. Overlay text is sanitized before it touches
// disk since it may embed task descriptions from untrusted input.
func (s *Supervisor) Spawn(opts SpawnOptions) (*Registration, error) {
	if err := teamfs.ValidateWorkerName(opts.Name); err != nil {
		return nil, err
	}
	if err := s.layout.EnsureWorkerDir(opts.Name); err != nil {
		return nil, err
	}
	if opts.Command == "" {
		opts.Command = "crewmux worker"
	}

	paneID, err := s.ops.SplitWindow(s.leaderPaneID, opts.Cwd)
	if err != nil {
		return nil, fmt.Errorf("supervisor: split pane for %s: %w", opts.Name, err)
	}

	if opts.Overlay != "" {
		overlay := teamfs.SanitizeOverlayText(opts.Overlay)
		if err := teamfs.WriteFileAtomic(s.layout.OverlayFile(opts.Name), []byte(overlay), 0o644); err != nil {
			return nil, fmt.Errorf("supervisor: write overlay for %s: %w", opts.Name, err)
		}
	}

	reg := &Registration{
		AgentID:     uuid.NewString(),
		Name:        opts.Name,
		AgentType:   opts.AgentType,
		Model:       opts.Model,
		JoinedAt:    time.Now().UTC(),
		PaneID:      paneID,
		Cwd:         opts.Cwd,
		BackendType: opts.BackendType,
	}
	if err := s.writeRegistration(reg); err != nil {
		return nil, err
	}

	launch := fmt.Sprintf("CREWMUX_TEAM=%s CREWMUX_WORKER=%s %s",
		s.layout.Team(), opts.Name, opts.Command)
	if err := s.ops.SendKeys(paneID, launch, true); err != nil {
		return nil, fmt.Errorf("supervisor: launch %s: %w", opts.Name, err)
	}
	if err := s.ops.SendKeys(paneID, "Enter", false); err != nil {
		return nil, fmt.Errorf("supervisor: launch %s: %w", opts.Name, err)
	}

	s.logger.Info("spawned worker", "worker", opts.Name, "pane", paneID)
	return reg, nil
}

func (s *Supervisor) writeRegistration(reg *Registration) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("supervisor: marshal registration: %w", err)
	}
	if err := teamfs.WriteFileAtomic(s.layout.RegistrationFile(reg.Name), data, 0o644); err != nil {
		return fmt.Errorf("supervisor: write registration: %w", err)
	}
	return nil
}

// ReadRegistration loads a worker's registration, nil when absent or
// malformed.
func (s *Supervisor) ReadRegistration(worker string) *Registration {
	data, err := os.ReadFile(s.layout.RegistrationFile(worker))
	if err != nil {
		return nil
	}
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		s.logger.Warn("malformed registration", "worker", worker, "error", err)
		return nil
	}
	return &reg
}

// shutdownRequest is the sentinel the leader writes to ask a worker to
// exit on its own.
type shutdownRequest struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

// Shutdown asks the worker to exit, waits up to the grace window for
// its acknowledgment file, then force-kills the pane and every process
// under it. Returns true when the worker exited on its own. The leader
// pane is refused outright.
func (s *Supervisor) Shutdown(worker, paneID, reason string) (bool, error) {
	if paneID != "" && paneID == s.leaderPaneID {
		return false, fmt.Errorf("supervisor: refusing to shut down leader pane %s", paneID)
	}
	if err := teamfs.ValidateWorkerName(worker); err != nil {
		return false, err
	}

	req := shutdownRequest{RequestedAt: time.Now().UTC(), Reason: reason}
	data, _ := json.Marshal(req)
	if err := teamfs.WriteFileAtomic(s.layout.ShutdownRequestFile(worker), data, 0o644); err != nil {
		return false, fmt.Errorf("supervisor: write shutdown request: %w", err)
	}

	if s.awaitAck(worker) {
		s.logger.Info("worker shut down gracefully", "worker", worker)
		return true, nil
	}

	s.logger.Warn("worker missed shutdown grace, force-killing", "worker", worker, "pane", paneID)
	s.forceKillPane(paneID)
	return false, nil
}

func (s *Supervisor) awaitAck(worker string) bool {
	deadline := time.Now().Add(s.grace)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(s.layout.ShutdownAckFile(worker)); err == nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// forceKillPane kills the pane's process tree then the pane itself.
// Errors are logged only: the pane may already be gone.
func (s *Supervisor) forceKillPane(paneID string) {
	if paneID == "" || paneID == s.leaderPaneID {
		return
	}
	if pid := s.ops.GetPanePID(paneID); pid > 0 {
		s.killTree(pid)
		s.waitExit(pid, time.Second)
	}
	if err := s.ops.KillPane(paneID); err != nil {
		s.logger.Debug("kill pane failed", "pane", paneID, "error", err)
	}
}

// KillWorkerPanes force-kills the given panes. The leader pane id is
// filtered out even when present in the list; an empty list is a no-op.
func (s *Supervisor) KillWorkerPanes(paneIDs []string) {
	for _, paneID := range paneIDs {
		if paneID == "" || paneID == s.leaderPaneID {
			continue
		}
		s.forceKillPane(paneID)
	}
}

// KillTeamSession kills the worker panes and then tears down the tmux
// session — unless the leader's own pane still lives inside it. Killing
// a session destroys every member pane, so while the leader pane is
// present the workers die individually and the session stays up.
func (s *Supervisor) KillTeamSession(workerPaneIDs []string) error {
	s.KillWorkerPanes(workerPaneIDs)
	if s.leaderPaneID != "" && s.ops.PaneAlive(s.leaderPaneID) {
		s.logger.Info("leader pane still present, leaving session alive", "pane", s.leaderPaneID)
		return nil
	}
	if err := s.ops.KillSession(); err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil
		}
		return fmt.Errorf("supervisor: kill session: %w", err)
	}
	return nil
}
