package task

import "time"

// Status represents the stored state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusInProgress indicates a worker owns the task and is executing it.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the task finished. Note that a completed
	// task whose Metadata.PermanentlyFailed flag is set is semantically
	// failed; callers inferring progress must check both.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed its most recent attempt.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Metadata carries retry bookkeeping for a task.
type Metadata struct {
	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retry attempts allowed.
	MaxRetries int `json:"max_retries"`

	// PermanentlyFailed marks a task whose stored status is completed but
	// which actually failed with no retries remaining. This status/semantics
	// split is load-bearing for phase inference.
	PermanentlyFailed bool `json:"permanently_failed"`
}

// Task is one unit of work in a team's task graph, persisted as a single
// JSON file under the team's tasks directory.
type Task struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Owner       string   `json:"owner,omitempty"` // set only while in_progress or completed
	Blocks      []string `json:"blocks,omitempty"`
	BlockedBy   []string `json:"blocked_by,omitempty"`
	Metadata    Metadata `json:"metadata"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// SemanticallyFailed reports whether the task should be counted as failed
// for progress purposes: either an explicit failed status, or a completed
// status carrying the permanently-failed marker.
func (t Task) SemanticallyFailed() bool {
	if t.Status == StatusFailed {
		return true
	}
	return t.Status == StatusCompleted && t.Metadata.PermanentlyFailed
}

// GenuinelyCompleted reports whether the task completed without the
// permanently-failed marker.
func (t Task) GenuinelyCompleted() bool {
	return t.Status == StatusCompleted && !t.Metadata.PermanentlyFailed
}

// RetriesRemaining reports whether the task's retry budget is not exhausted.
func (t Task) RetriesRemaining() bool {
	return t.Metadata.RetryCount < t.Metadata.MaxRetries
}
