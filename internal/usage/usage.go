// Package usage records per-task telemetry into an append-only JSONL
// log and aggregates it on demand. Recording is optional everywhere it
// is called; a team without a usage file simply has no telemetry.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crewmux/crewmux/internal/teamfs"
)

// Entry is one task execution's resource record.
type Entry struct {
	TaskID        string    `json:"task_id"`
	WorkerName    string    `json:"worker_name"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	WallClockMS   int64     `json:"wall_clock_ms"`
	PromptChars   int       `json:"prompt_chars,omitempty"`
	ResponseChars int       `json:"response_chars,omitempty"`
}

// Recorder appends entries to the team's usage log.
type Recorder struct {
	layout *teamfs.Layout
	mu     sync.Mutex
}

// NewRecorder creates a Recorder for one team.
func NewRecorder(layout *teamfs.Layout) *Recorder {
	return &Recorder{layout: layout}
}

// Record appends one entry. WallClockMS is derived from the timestamps
// when unset.
func (r *Recorder) Record(e Entry) error {
	if e.TaskID == "" || e.WorkerName == "" {
		return fmt.Errorf("usage: task id and worker name are required")
	}
	if e.WallClockMS == 0 && !e.StartedAt.IsZero() && !e.CompletedAt.IsZero() {
		e.WallClockMS = e.CompletedAt.Sub(e.StartedAt).Milliseconds()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("usage: marshal: %w", err)
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.layout.UsageFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WorkerTotals is one worker's aggregated usage.
type WorkerTotals struct {
	Tasks         int   `json:"tasks"`
	WallClockMS   int64 `json:"wall_clock_ms"`
	PromptChars   int   `json:"prompt_chars"`
	ResponseChars int   `json:"response_chars"`
}

// Report is the aggregated view of a team's usage log.
type Report struct {
	Team    WorkerTotals            `json:"team"`
	Workers map[string]WorkerTotals `json:"workers"`
}

// Aggregate reads the whole log and sums per-worker and team totals.
// A missing log yields an empty report; malformed lines are skipped.
func Aggregate(layout *teamfs.Layout) (*Report, error) {
	report := &Report{Workers: make(map[string]WorkerTotals)}

	f, err := os.Open(layout.UsageFile())
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, fmt.Errorf("usage: open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}

		totals := report.Workers[e.WorkerName]
		totals.Tasks++
		totals.WallClockMS += e.WallClockMS
		totals.PromptChars += e.PromptChars
		totals.ResponseChars += e.ResponseChars
		report.Workers[e.WorkerName] = totals

		report.Team.Tasks++
		report.Team.WallClockMS += e.WallClockMS
		report.Team.PromptChars += e.PromptChars
		report.Team.ResponseChars += e.ResponseChars
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("usage: scan log: %w", err)
	}
	return report, nil
}
