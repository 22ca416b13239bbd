// Package phase derives a team's lifecycle phase from a snapshot of its
// task list. The phase is never stored: it is recomputed on demand so it
// can never drift from the task files that define it.
package phase

import "github.com/crewmux/crewmux/internal/task"

// Phase represents the inferred lifecycle stage of a team.
type Phase string

const (
	// Initializing indicates no tasks exist yet.
	Initializing Phase = "initializing"

	// Planning indicates tasks exist but none have started.
	Planning Phase = "planning"

	// Executing indicates work is actively progressing.
	Executing Phase = "executing"

	// Fixing indicates failures exist that still have retries left.
	Fixing Phase = "fixing"

	// Completed indicates every task genuinely completed.
	Completed Phase = "completed"

	// Failed indicates failures remain with no retries left.
	Failed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal returns true if this phase represents a final state.
func (p Phase) IsTerminal() bool {
	return p == Completed || p == Failed
}

// Infer maps a task-status distribution to a team phase. It is a pure
// function of the tasks' status and metadata; same input always yields
// the same output.
//
// The rules are ordered and first match wins. The failure rules run
// before the all-completed rule so that a team stuck on unretryable
// permanent failures is never misreported as finished: a task stored as
// completed but flagged permanently failed counts as failed here.
func Infer(tasks []task.Task) Phase {
	if len(tasks) == 0 {
		return Initializing
	}

	var pending, inProgress, genuinelyCompleted, failed, failedRetryable int
	for _, t := range tasks {
		switch {
		case t.SemanticallyFailed():
			failed++
			if t.RetriesRemaining() {
				failedRetryable++
			}
		case t.Status == task.StatusInProgress:
			inProgress++
		case t.GenuinelyCompleted():
			genuinelyCompleted++
		case t.Status == task.StatusPending:
			pending++
		}
	}

	if inProgress > 0 {
		return Executing
	}
	if pending == len(tasks) {
		return Planning
	}
	if failed == 0 && pending > 0 && genuinelyCompleted > 0 {
		return Executing
	}
	if failedRetryable > 0 {
		return Fixing
	}
	if failed == len(tasks) || (pending == 0 && genuinelyCompleted == 0 && failed > 0) {
		return Failed
	}
	if genuinelyCompleted == len(tasks) {
		return Completed
	}
	return Executing
}
