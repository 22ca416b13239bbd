package event

import "time"

// Event is the interface all published events implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "task.claimed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// TaskClaimedEvent is emitted when a worker takes ownership of a task.
type TaskClaimedEvent struct {
	baseEvent
	TaskID string
	Worker string
}

// NewTaskClaimedEvent creates a TaskClaimedEvent.
func NewTaskClaimedEvent(taskID, worker string) TaskClaimedEvent {
	return TaskClaimedEvent{
		baseEvent: newBaseEvent("task.claimed"),
		TaskID:    taskID,
		Worker:    worker,
	}
}

// TaskCompletedEvent is emitted when a task reaches a terminal state.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string
	Worker  string
	Success bool
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, worker string, success bool) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent("task.completed"),
		TaskID:    taskID,
		Worker:    worker,
		Success:   success,
	}
}

// WorkerDeadEvent is emitted when liveness checks classify a worker dead.
type WorkerDeadEvent struct {
	baseEvent
	Worker string
	Reason string // "heartbeat_stale", "pane_gone", "pid_unverified"
}

// NewWorkerDeadEvent creates a WorkerDeadEvent.
func NewWorkerDeadEvent(worker, reason string) WorkerDeadEvent {
	return WorkerDeadEvent{
		baseEvent: newBaseEvent("worker.dead"),
		Worker:    worker,
		Reason:    reason,
	}
}

// NudgeSentEvent is emitted when the idle tracker re-prompts a pane.
type NudgeSentEvent struct {
	baseEvent
	Worker string
	PaneID string
	Count  int // nudges sent to this pane so far, including this one
}

// NewNudgeSentEvent creates a NudgeSentEvent.
func NewNudgeSentEvent(worker, paneID string, count int) NudgeSentEvent {
	return NudgeSentEvent{
		baseEvent: newBaseEvent("nudge.sent"),
		Worker:    worker,
		PaneID:    paneID,
		Count:     count,
	}
}

// OverlapDetectedEvent is emitted when two workers touch the same path.
type OverlapDetectedEvent struct {
	baseEvent
	Path    string
	Workers []string
}

// NewOverlapDetectedEvent creates an OverlapDetectedEvent.
func NewOverlapDetectedEvent(path string, workers []string) OverlapDetectedEvent {
	return OverlapDetectedEvent{
		baseEvent: newBaseEvent("merge.overlap"),
		Path:      path,
		Workers:   workers,
	}
}
