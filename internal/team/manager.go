// Package team is the leader-facing control surface: starting a team,
// waiting for it to finish, inspecting its status, and tearing it down.
// One Manager serves one team; nothing in this package is global, so a
// leader can drive several teams from the same process.
package team

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crewmux/crewmux/internal/config"
	"github.com/crewmux/crewmux/internal/event"
	"github.com/crewmux/crewmux/internal/heartbeat"
	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/nudge"
	"github.com/crewmux/crewmux/internal/phase"
	"github.com/crewmux/crewmux/internal/router"
	"github.com/crewmux/crewmux/internal/supervisor"
	"github.com/crewmux/crewmux/internal/task"
	"github.com/crewmux/crewmux/internal/teamfs"
	"github.com/crewmux/crewmux/internal/tmux"
	"github.com/crewmux/crewmux/internal/usage"
	"github.com/crewmux/crewmux/internal/worktree"
)

// Manager drives one team through its lifecycle.
type Manager struct {
	cfg     *config.Config
	layout  *teamfs.Layout
	store   *task.Store
	monitor *heartbeat.Monitor
	bus     *event.Bus
	logger  *logging.Logger
	socket  string

	paneAlive func(paneID string) bool // injectable for tests
}

// NewManager creates a Manager for the named team. The team name is
// validated before any path is derived from it.
func NewManager(cfg *config.Config, teamName string, logger *logging.Logger) (*Manager, error) {
	layout, err := teamfs.NewLayout(cfg.RootDir, teamName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	socket := tmux.SocketName(teamName)
	maxAge := time.Duration(cfg.Heartbeat.MaxAgeSeconds) * time.Second
	return &Manager{
		cfg:     cfg,
		layout:  layout,
		store:   task.NewStore(layout, logger),
		monitor: heartbeat.NewMonitor(layout, maxAge, logger),
		bus:     event.NewBus(),
		logger:  logger,
		socket:  socket,
		paneAlive: func(paneID string) bool {
			return tmux.PaneAlive(socket, paneID)
		},
	}, nil
}

// Layout exposes the team's filesystem layout.
func (m *Manager) Layout() *teamfs.Layout { return m.layout }

// Bus exposes the team's event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Store exposes the team's task store.
func (m *Manager) Store() *task.Store { return m.store }

// WorkerSpec describes one worker to spawn at start.
type WorkerSpec struct {
	Name      string
	AgentType string
	Model     string
	Overlay   string
}

// StartOptions configure Start.
type StartOptions struct {
	Workers []WorkerSpec
	Tasks   []task.Task
	Cwd     string // working directory for all panes

	// IsolateWorktrees gives each worker its own git worktree on a fresh
	// branch under the team directory. Cwd must be inside a repository.
	IsolateWorktrees bool
}

// Start creates the team's directories and task files, brings up the
// tmux session with the leader in the first pane, spawns the workers,
// and persists the session topology.
func (m *Manager) Start(opts StartOptions) (*Session, error) {
	if len(opts.Workers) == 0 {
		return nil, fmt.Errorf("team: at least one worker is required")
	}
	if err := m.layout.EnsureDirs(); err != nil {
		return nil, err
	}

	for _, t := range opts.Tasks {
		if err := m.store.Create(t); err != nil {
			return nil, fmt.Errorf("team: create task %s: %w", t.ID, err)
		}
	}

	sessionName := m.layout.Team()
	leaderPaneID, err := tmux.NewSession(m.socket, sessionName, opts.Cwd)
	if err != nil {
		return nil, fmt.Errorf("team: create session: %w", err)
	}

	sup := supervisor.New(m.layout, m.socket, sessionName, leaderPaneID, m.logger)
	sup.SetShutdownGrace(time.Duration(m.cfg.Shutdown.GraceSeconds) * time.Second)

	session := &Session{
		SessionName:   sessionName,
		LeaderPaneID:  leaderPaneID,
		WorkerPaneIDs: make(map[string]string, len(opts.Workers)),
	}

	var trees *worktree.Manager
	if opts.IsolateWorktrees {
		root, err := worktree.FindGitRoot(opts.Cwd)
		if err != nil {
			return nil, fmt.Errorf("team: worktree isolation: %w", err)
		}
		trees, err = worktree.NewManager(root, m.layout.WorktreesDir())
		if err != nil {
			return nil, err
		}
		session.RepoRoot = root
	}
	for _, w := range opts.Workers {
		cwd := opts.Cwd
		if trees != nil {
			path, err := trees.Create(sessionName, w.Name)
			if err != nil {
				return nil, fmt.Errorf("team: worktree for %s: %w", w.Name, err)
			}
			if session.WorktreePaths == nil {
				session.WorktreePaths = make(map[string]string, len(opts.Workers))
			}
			session.WorktreePaths[w.Name] = path
			cwd = path
		}

		reg, err := sup.Spawn(supervisor.SpawnOptions{
			Name:      w.Name,
			AgentType: w.AgentType,
			Model:     w.Model,
			Cwd:       cwd,
			Overlay:   w.Overlay,
			Command:   m.cfg.Worker.Command,
		})
		if err != nil {
			return nil, fmt.Errorf("team: spawn %s: %w", w.Name, err)
		}
		session.WorkerPaneIDs[w.Name] = reg.PaneID
	}

	if err := SaveSession(m.layout, session); err != nil {
		return nil, err
	}
	m.logger.Info("team started", "session", sessionName, "workers", len(opts.Workers))
	return session, nil
}

// Wait blocks until the team reaches a terminal phase, the context is
// canceled, or the timeout elapses. It watches the task directory for
// changes and also polls, so a lost filesystem event cannot wedge the
// caller. Returns the final phase observed.
func (m *Manager) Wait(ctx context.Context, timeout time.Duration) (phase.Phase, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	seen := make(map[string]task.Status)
	check := func() (phase.Phase, bool) {
		tasks, err := m.store.List()
		if err != nil {
			m.logger.Warn("task list failed during wait", "error", err)
			return phase.Executing, false
		}
		m.publishTaskTransitions(seen, tasks)
		p := phase.Infer(tasks)
		return p, p.IsTerminal()
	}

	if p, done := check(); done {
		return p, nil
	}

	// While waiting, the leader also nudges idle workers and watches
	// isolated worktrees for overlapping edits.
	var idle *nudge.Tracker
	if session := LoadSession(m.layout); session != nil {
		idle = nudge.NewTracker(m.socket, &router.TmuxNotifier{Socket: m.socket}, m.bus, m.logger, nudge.Options{
			IdleDelay:    time.Duration(m.cfg.Nudge.IdleDelaySeconds) * time.Second,
			MaxNudges:    m.cfg.Nudge.MaxNudges,
			ScanInterval: time.Duration(m.cfg.Nudge.ScanIntervalSeconds) * time.Second,
			LeaderPaneID: session.LeaderPaneID,
		})
		for name, paneID := range session.WorkerPaneIDs {
			idle.Track(paneID, name)
		}

		if len(session.WorktreePaths) > 0 {
			if overlaps, err := worktree.NewTracker(m.bus, m.logger); err != nil {
				m.logger.Debug("worktree tracker unavailable", "error", err)
			} else {
				for name, root := range session.WorktreePaths {
					if err := overlaps.Watch(name, root); err != nil {
						m.logger.Warn("worktree watch failed", "worker", name, "error", err)
					}
				}
				overlaps.Start()
				defer overlaps.Stop()
			}
		}
	}

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err != nil {
		m.logger.Debug("fsnotify unavailable, polling only", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(m.layout.TasksDir()); err != nil {
			m.logger.Debug("task dir watch failed, polling only", "error", err)
		} else {
			events = watcher.Events
		}
	}

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			p, _ := check()
			return p, ctx.Err()
		case <-poll.C:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		}
		if p, done := check(); done {
			return p, nil
		}
		if idle != nil {
			idle.Scan()
		}
	}
}

// publishTaskTransitions emits bus events for status changes between
// two observations of the task list, updating seen in place. The first
// observation of a task only seeds the map: transitions that happened
// before the observer arrived are not replayed.
func (m *Manager) publishTaskTransitions(seen map[string]task.Status, tasks []task.Task) {
	for _, t := range tasks {
		old, ok := seen[t.ID]
		seen[t.ID] = t.Status
		if !ok || old == t.Status {
			continue
		}
		switch t.Status {
		case task.StatusInProgress:
			m.bus.Publish(event.NewTaskClaimedEvent(t.ID, t.Owner))
		case task.StatusCompleted:
			m.bus.Publish(event.NewTaskCompletedEvent(t.ID, t.Owner, t.GenuinelyCompleted()))
		case task.StatusFailed:
			m.bus.Publish(event.NewTaskCompletedEvent(t.ID, t.Owner, false))
		}
	}
}

// paneLookup resolves worker names to pane ids from the session record.
// Workers without a recorded pane resolve to "", which skips notification.
func (m *Manager) paneLookup() func(string) string {
	session := LoadSession(m.layout)
	return func(worker string) string {
		if session == nil {
			return ""
		}
		return session.WorkerPaneIDs[worker]
	}
}

// Instruct appends a leader instruction to the worker's inbox and wakes
// its pane.
func (m *Manager) Instruct(worker, instruction string) error {
	inbox := router.NewInbox(m.layout, &router.TmuxNotifier{Socket: m.socket}, m.paneLookup(), m.logger)
	return inbox.Send(worker, instruction)
}

// Message delivers a peer message to one worker's mailbox. Returns the
// message id.
func (m *Manager) Message(from, to, body string) (string, error) {
	mb := router.NewMailbox(m.layout, &router.TmuxNotifier{Socket: m.socket}, m.paneLookup(), m.logger)
	return mb.Send(from, to, body)
}

// Broadcast delivers a message to every registered worker except the
// sender. Returns the shared message id.
func (m *Manager) Broadcast(from, body string) (string, error) {
	session := LoadSession(m.layout)
	if session == nil {
		return "", fmt.Errorf("team: no session record, is the team started?")
	}
	recipients := make([]string, 0, len(session.WorkerPaneIDs))
	for name := range session.WorkerPaneIDs {
		recipients = append(recipients, name)
	}
	sort.Strings(recipients)

	mb := router.NewMailbox(m.layout, &router.TmuxNotifier{Socket: m.socket}, m.paneLookup(), m.logger)
	return mb.Broadcast(from, recipients, body)
}

// WorkerStatus is one worker's liveness view.
type WorkerStatus struct {
	Name      string
	PaneID    string
	PaneAlive bool
	Heartbeat heartbeat.Liveness
	Alive     bool // heartbeat fresh, identity verified, pane present
}

// Status is a point-in-time view of the team.
type Status struct {
	Team    string
	Phase   phase.Phase
	Tasks   []task.Task
	Workers []WorkerStatus
	Usage   *usage.Report // nil unless requested
}

// Status inspects the team: task snapshot, inferred phase, per-worker
// liveness, and optionally aggregated usage.
func (m *Manager) Status(includeUsage bool) (*Status, error) {
	tasks, err := m.store.List()
	if err != nil {
		return nil, err
	}

	st := &Status{
		Team:  m.layout.Team(),
		Phase: phase.Infer(tasks),
		Tasks: tasks,
	}

	session := LoadSession(m.layout)
	if session != nil {
		for name, paneID := range session.WorkerPaneIDs {
			ws := WorkerStatus{Name: name, PaneID: paneID}
			ws.Heartbeat = m.monitor.Classify(name)
			ws.PaneAlive = m.paneAlive(paneID)
			ws.Alive = ws.Heartbeat.Alive && ws.PaneAlive &&
				m.monitor.VerifyIdentity(ws.Heartbeat.Record)
			if !ws.Alive {
				reason := ws.Heartbeat.Reason
				if reason == "" {
					if !ws.PaneAlive {
						reason = "pane_gone"
					} else {
						reason = "pid_unverified"
					}
				}
				m.bus.Publish(event.NewWorkerDeadEvent(name, reason))
			}
			st.Workers = append(st.Workers, ws)
		}
	}

	if includeUsage {
		report, err := usage.Aggregate(m.layout)
		if err != nil {
			m.logger.Warn("usage aggregation failed", "error", err)
		} else {
			st.Usage = report
		}
	}
	return st, nil
}

// Cleanup shuts every worker down (gracefully, then by force) and tears
// the tmux session down once the leader's own pane is no longer inside
// it. The team's state files stay on disk for inspection.
func (m *Manager) Cleanup() error {
	session := LoadSession(m.layout)
	if session == nil {
		m.logger.Info("no session record, nothing to clean up")
		return nil
	}

	sup := supervisor.New(m.layout, m.socket, session.SessionName, session.LeaderPaneID, m.logger)
	sup.SetShutdownGrace(time.Duration(m.cfg.Shutdown.GraceSeconds) * time.Second)

	var paneIDs []string
	for name, paneID := range session.WorkerPaneIDs {
		if _, err := sup.Shutdown(name, paneID, "team cleanup"); err != nil {
			m.logger.Warn("worker shutdown failed", "worker", name, "error", err)
		}
		paneIDs = append(paneIDs, paneID)
	}

	if err := sup.KillTeamSession(paneIDs); err != nil {
		return fmt.Errorf("team: cleanup: %w", err)
	}

	m.reportOverlaps(session)
	m.removeWorktrees(session)
	m.logger.Info("team cleaned up", "session", session.SessionName)
	return nil
}

// reportOverlaps compares each worker tree's file set against the main
// repository and flags paths that more than one worker added or removed.
// Best-effort: a tree that cannot be snapshotted is skipped.
func (m *Manager) reportOverlaps(session *Session) {
	if len(session.WorktreePaths) < 2 || session.RepoRoot == "" {
		return
	}
	snapper, err := worktree.NewSnapshotter(nil)
	if err != nil {
		return
	}
	base, err := snapper.Take(session.RepoRoot)
	if err != nil {
		m.logger.Debug("baseline snapshot failed", "error", err)
		return
	}

	touched := make(map[string][]string, len(session.WorktreePaths))
	for name, path := range session.WorktreePaths {
		snap, err := snapper.Take(path)
		if err != nil {
			m.logger.Debug("worktree snapshot failed", "worker", name, "error", err)
			continue
		}
		touched[name] = worktree.Diff(base, snap)
	}

	for path, workers := range worktree.Overlaps(touched) {
		m.logger.Warn("overlapping edits at cleanup", "path", path, "workers", workers)
		m.bus.Publish(event.NewOverlapDetectedEvent(path, workers))
	}
}

// removeWorktrees commits any loose work in the isolated trees so it
// survives on the worker branches, then deletes the trees.
func (m *Manager) removeWorktrees(session *Session) {
	if len(session.WorktreePaths) == 0 || session.RepoRoot == "" {
		return
	}
	trees, err := worktree.NewManager(session.RepoRoot, m.layout.WorktreesDir())
	if err != nil {
		m.logger.Warn("worktree cleanup skipped", "error", err)
		return
	}
	for name, path := range session.WorktreePaths {
		if dirty, err := trees.HasUncommittedChanges(path); err == nil && dirty {
			if err := trees.CommitAll(path, "work in progress at team cleanup"); err != nil {
				m.logger.Warn("worktree commit failed", "worker", name, "error", err)
			}
		}
		if err := trees.Remove(name); err != nil {
			m.logger.Warn("worktree remove failed", "worker", name, "error", err)
		}
	}
}
