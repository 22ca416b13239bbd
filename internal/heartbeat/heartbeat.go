// Package heartbeat provides file-based liveness detection for workers.
//
// Each worker overwrites its own heartbeat record on every poll cycle;
// everyone else only reads it. Staleness of the record (age since the
// last poll) is the sole file-based liveness signal. The supervisor
// combines it with direct pane-alive checks, since a pane can die
// without a final heartbeat ever being written.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
	"github.com/crewmux/crewmux/internal/tmux"
)

// DefaultMaxAge is the staleness threshold beyond which a worker is
// classified dead.
const DefaultMaxAge = 30 * time.Second

// Status values a worker reports about itself.
const (
	StatusIdle    = "idle"
	StatusWorking = "working"
	StatusErrored = "errored"
)

// Record is a worker's self-reported liveness state, overwritten in
// place on every poll cycle.
type Record struct {
	WorkerName        string    `json:"worker_name"`
	TeamName          string    `json:"team_name"`
	Provider          string    `json:"provider,omitempty"`
	PID               int       `json:"pid"`
	PIDStartedAt      string    `json:"pid_started_at,omitempty"`
	LastPollAt        time.Time `json:"last_poll_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Status            string    `json:"status"`
}

// Writer overwrites one worker's heartbeat file. Owned by the worker
// process; nothing else may write it.
type Writer struct {
	layout *teamfs.Layout
	worker string
	record Record
}

// NewWriter creates a Writer for the given worker. The PID start time is
// captured once so later readers can detect PID reuse.
func NewWriter(layout *teamfs.Layout, worker, provider string) *Writer {
	pid := os.Getpid()
	started, err := tmux.ProcessStartTime(pid)
	if err != nil {
		started = ""
	}
	return &Writer{
		layout: layout,
		worker: worker,
		record: Record{
			WorkerName:   worker,
			TeamName:     layout.Team(),
			Provider:     provider,
			PID:          pid,
			PIDStartedAt: started,
		},
	}
}

// Beat records a poll cycle: it stamps the current time and status and
// overwrites the heartbeat file atomically.
func (w *Writer) Beat(status string, consecutiveErrors int) error {
	w.record.LastPollAt = time.Now().UTC()
	w.record.Status = status
	w.record.ConsecutiveErrors = consecutiveErrors

	data, err := json.MarshalIndent(w.record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return teamfs.WriteFileAtomic(w.layout.HeartbeatFile(w.worker), data, 0o644)
}

// Liveness classifies one worker's heartbeat.
type Liveness struct {
	Alive  bool
	Age    time.Duration // since LastPollAt; meaningful only when a record exists
	Record *Record       // nil when missing or malformed
	Reason string        // set when not alive
}

// Monitor classifies worker liveness from heartbeat files.
type Monitor struct {
	layout *teamfs.Layout
	maxAge time.Duration
	logger *logging.Logger
	now    func() time.Time // injectable for tests
}

// NewMonitor creates a Monitor with the given staleness threshold.
// A non-positive maxAge falls back to DefaultMaxAge.
func NewMonitor(layout *teamfs.Layout, maxAge time.Duration, logger *logging.Logger) *Monitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{layout: layout, maxAge: maxAge, logger: logger, now: time.Now}
}

// Classify reads a worker's heartbeat file and returns its liveness.
//
// The boundary is inclusive: a heartbeat aged exactly maxAge is still
// alive; one older is dead. A missing or malformed file classifies the
// worker dead rather than raising, since a crashed writer mid-write is
// an expected failure mode.
func (m *Monitor) Classify(worker string) Liveness {
	data, err := os.ReadFile(m.layout.HeartbeatFile(worker))
	if err != nil {
		return Liveness{Alive: false, Reason: "no heartbeat file"}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("malformed heartbeat, treating as stale", "worker", worker, "error", err)
		return Liveness{Alive: false, Reason: "malformed heartbeat"}
	}

	age := m.now().Sub(rec.LastPollAt)
	if age > m.maxAge {
		return Liveness{Alive: false, Age: age, Record: &rec, Reason: "heartbeat stale"}
	}
	return Liveness{Alive: true, Age: age, Record: &rec}
}

// VerifyIdentity re-checks that the PID recorded in a heartbeat still
// belongs to the process that wrote it, guarding against PID reuse after
// the worker exits. Failure to verify is treated as dead (fail-closed).
func (m *Monitor) VerifyIdentity(rec *Record) bool {
	if rec == nil {
		return false
	}
	return tmux.VerifyPID(rec.PID, rec.PIDStartedAt)
}
