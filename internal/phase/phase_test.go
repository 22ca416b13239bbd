package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewmux/crewmux/internal/task"
)

func pending() task.Task {
	return task.Task{Status: task.StatusPending, Metadata: task.Metadata{MaxRetries: 2}}
}

func inProgress() task.Task {
	return task.Task{Status: task.StatusInProgress, Metadata: task.Metadata{MaxRetries: 2}}
}

func completed() task.Task {
	return task.Task{Status: task.StatusCompleted, Metadata: task.Metadata{MaxRetries: 2}}
}

func failedWithRetries() task.Task {
	return task.Task{Status: task.StatusFailed, Metadata: task.Metadata{RetryCount: 1, MaxRetries: 2}}
}

func failedExhausted() task.Task {
	return task.Task{Status: task.StatusFailed, Metadata: task.Metadata{RetryCount: 2, MaxRetries: 2}}
}

func permanentlyFailed() task.Task {
	return task.Task{Status: task.StatusCompleted, Metadata: task.Metadata{RetryCount: 2, MaxRetries: 2, PermanentlyFailed: true}}
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name  string
		tasks []task.Task
		want  Phase
	}{
		{"empty list", nil, Initializing},
		{"all pending", []task.Task{pending(), pending()}, Planning},
		{"any in progress", []task.Task{pending(), inProgress(), completed()}, Executing},
		{"in progress beats failure", []task.Task{inProgress(), failedExhausted()}, Executing},
		{"pending and completed mix", []task.Task{pending(), completed()}, Executing},
		{"all completed", []task.Task{completed(), completed()}, Completed},
		{"failure with retries among completed", []task.Task{completed(), failedWithRetries()}, Fixing},
		{"permanent-failure flag with retries", []task.Task{completed(), {Status: task.StatusCompleted, Metadata: task.Metadata{RetryCount: 0, MaxRetries: 2, PermanentlyFailed: true}}}, Fixing},
		{"all failed exhausted", []task.Task{failedExhausted(), failedExhausted()}, Failed},
		{"completed plus exhausted failure", []task.Task{completed(), failedExhausted()}, Executing},
		{"exhausted failures only via permanent flag", []task.Task{permanentlyFailed(), permanentlyFailed()}, Failed},
		{"permanent flag never reports completed", []task.Task{permanentlyFailed()}, Failed},
		{"failed and pending no retries", []task.Task{pending(), failedExhausted()}, Executing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Infer(tt.tasks))
		})
	}
}

// Infer must be a pure function: repeated evaluation of the same snapshot
// yields the same phase and never mutates its input.
func TestInferIsPure(t *testing.T) {
	tasks := []task.Task{pending(), inProgress(), failedWithRetries()}
	first := Infer(tasks)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Infer(tasks))
	}
	assert.Equal(t, task.StatusPending, tasks[0].Status)
	assert.Equal(t, task.StatusInProgress, tasks[1].Status)
}

func TestPhaseHelpers(t *testing.T) {
	assert.True(t, Completed.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.False(t, Executing.IsTerminal())
	assert.Equal(t, "fixing", Fixing.String())
}
