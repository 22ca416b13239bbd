// Package task provides the file-backed task store shared by a team's
// leader and workers. Each task is one JSON file; all writes go through
// a temporary file plus rename so concurrent pollers never read a partial
// task. Ownership is transferred by an atomic-claim read-modify-write.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
)

// Sentinel errors returned by store operations.
var (
	// ErrTaskNotFound is returned when no task file exists for an id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrClaimConflict is returned when the on-disk owner is already set
	// to a different worker. Non-fatal: callers retry the next claimable.
	ErrClaimConflict = errors.New("task already claimed by another worker")

	// ErrTaskExists is returned when creating a task whose id is taken.
	ErrTaskExists = errors.New("task already exists")
)

// defaultMaxRetries applies when a created task does not set its own budget.
const defaultMaxRetries = 2

// Store provides CRUD and atomic-claim operations over a team's task files.
// It holds no in-memory task state: the filesystem is the source of truth,
// so any number of processes may hold a Store for the same team.
type Store struct {
	layout *teamfs.Layout
	logger *logging.Logger
}

// NewStore creates a Store over the given team layout.
func NewStore(layout *teamfs.Layout, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{layout: layout, logger: logger}
}

// Create persists a new task file. The task id must be unique within the
// team. Status defaults to pending and a zero retry budget defaults to
// defaultMaxRetries.
func (s *Store) Create(t Task) error {
	if t.ID == "" {
		return fmt.Errorf("task: id is required")
	}
	if strings.ContainsAny(t.ID, "/\\") || strings.Contains(t.ID, "..") {
		return fmt.Errorf("task: invalid id %q", t.ID)
	}
	if t.Subject == "" {
		return fmt.Errorf("task: subject is required")
	}

	if _, err := os.Stat(s.layout.TaskFile(t.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrTaskExists, t.ID)
	}

	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Metadata.MaxRetries == 0 {
		t.Metadata.MaxRetries = defaultMaxRetries
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	return s.write(t)
}

// Read returns the task with the given id. A missing or malformed file
// yields ErrTaskNotFound; malformed files are logged, not raised, since a
// crashed writer mid-write is an expected failure mode.
func (s *Store) Read(id string) (Task, error) {
	data, err := os.ReadFile(s.layout.TaskFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return Task{}, fmt.Errorf("read task %s: %w", id, err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		s.logger.Warn("malformed task file, treating as absent", "task", id, "error", err)
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// List returns all readable tasks sorted by id. Malformed files are
// skipped with a log entry.
func (s *Store) List() ([]Task, error) {
	entries, err := os.ReadDir(s.layout.TasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var tasks []Task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		t, err := s.Read(id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// Claim transfers ownership of a pending task to the given worker via
// read-modify-write. It returns ErrClaimConflict when the on-disk owner is
// already set to a different worker, so two workers racing on the same
// file never both believe they own it: the loser's pre-read check rejects
// the claim before it writes. The read and write are one critical section
// under an flock held in the tasks directory, so the pre-read check holds
// across processes. Claiming a task one already owns is a no-op.
func (s *Store) Claim(id, workerName string) (Task, error) {
	if workerName == "" {
		return Task{}, fmt.Errorf("task: worker name is required")
	}

	if err := os.MkdirAll(s.layout.TasksDir(), 0o755); err != nil {
		return Task{}, fmt.Errorf("create tasks dir: %w", err)
	}
	fl := newFileLock(s.layout.TasksDir())
	if err := fl.Lock(); err != nil {
		return Task{}, fmt.Errorf("acquire claim lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	t, err := s.Read(id)
	if err != nil {
		return Task{}, err
	}

	if t.Owner != "" && t.Owner != workerName {
		return Task{}, fmt.Errorf("%w: %s owned by %s", ErrClaimConflict, id, t.Owner)
	}
	if t.Owner == workerName && t.Status == StatusInProgress {
		return t, nil
	}
	if t.Status != StatusPending {
		return Task{}, fmt.Errorf("%w: %s is %s", ErrClaimConflict, id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusInProgress
	t.Owner = workerName
	t.StartedAt = &now
	t.UpdatedAt = now

	if err := s.write(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// UpdateStatus transitions a task to a new status, replacing its metadata.
// An owner is retained for completed tasks and cleared otherwise, keeping
// the owner-only-when-in-progress-or-completed invariant.
func (s *Store) UpdateStatus(id string, status Status, meta Metadata) (Task, error) {
	if !status.IsValid() {
		return Task{}, fmt.Errorf("task: invalid status %q", status)
	}

	t, err := s.Read(id)
	if err != nil {
		return Task{}, err
	}

	t.Status = status
	t.Metadata = meta
	t.UpdatedAt = time.Now().UTC()

	switch status {
	case StatusInProgress, StatusCompleted:
		// owner remains as-is
	default:
		t.Owner = ""
	}

	if err := s.write(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// FindNextClaimable selects the lowest-id pending task with no unresolved
// blockers. A blocker is resolved only when it completed genuinely; a
// blocker that failed permanently keeps its dependents blocked forever.
// Returns ErrTaskNotFound when nothing is currently claimable.
func (s *Store) FindNextClaimable(workerName string) (Task, error) {
	tasks, err := s.List()
	if err != nil {
		return Task{}, err
	}

	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks { // List is id-sorted, so ties break by id order
		if t.Status != StatusPending {
			continue
		}
		if blocked(t, byID) {
			continue
		}
		return t, nil
	}
	return Task{}, fmt.Errorf("%w: no claimable task for %s", ErrTaskNotFound, workerName)
}

// blocked reports whether any of t's blockers is unresolved. A blocker
// missing from the store is treated as unresolved (fail-closed).
func blocked(t Task, byID map[string]Task) bool {
	for _, depID := range t.BlockedBy {
		dep, ok := byID[depID]
		if !ok || !dep.GenuinelyCompleted() {
			return true
		}
	}
	return false
}

// write persists a task atomically.
func (s *Store) write(t Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if err := os.MkdirAll(s.layout.TasksDir(), 0o755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}
	return teamfs.WriteFileAtomic(s.layout.TaskFile(t.ID), data, 0o644)
}
