// Package worker is the process that runs inside a worker pane. It
// registers itself from the environment, polls the task store for
// claimable work, executes it through an agent backend, and reports
// results through its outbox. Every poll cycle writes a heartbeat;
// the shutdown sentinel is honored by acking and exiting.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/crewmux/crewmux/internal/config"
	"github.com/crewmux/crewmux/internal/heartbeat"
	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/router"
	"github.com/crewmux/crewmux/internal/task"
	"github.com/crewmux/crewmux/internal/teamfs"
	"github.com/crewmux/crewmux/internal/usage"
)

// Environment variables the supervisor injects at spawn.
const (
	EnvTeam   = "CREWMUX_TEAM"
	EnvWorker = "CREWMUX_WORKER"
)

// Result is what a backend produced for one task.
type Result struct {
	Summary       string
	Provider      string
	Model         string
	PromptChars   int
	ResponseChars int
}

// Backend executes a single task. Implementations wrap an agent CLI or
// API; the loop only cares about success, failure, and the summary.
type Backend interface {
	Execute(ctx context.Context, t task.Task) (Result, error)
}

// Worker is one worker process's state.
type Worker struct {
	name    string
	layout  *teamfs.Layout
	store   *task.Store
	hb      *heartbeat.Writer
	outbox  *router.Outbox
	usage   *usage.Recorder // nil disables telemetry
	backend Backend
	logger  *logging.Logger

	poll       time.Duration
	maxRetries int

	consecutiveErrors int
}

// FromEnv builds a Worker from the spawn environment.
func FromEnv(cfg *config.Config, backend Backend, logger *logging.Logger) (*Worker, error) {
	teamName := os.Getenv(EnvTeam)
	workerName := os.Getenv(EnvWorker)
	if teamName == "" || workerName == "" {
		return nil, fmt.Errorf("worker: %s and %s must be set", EnvTeam, EnvWorker)
	}
	layout, err := teamfs.NewLayout(cfg.RootDir, teamName)
	if err != nil {
		return nil, err
	}
	return New(cfg, layout, workerName, backend, logger)
}

// New builds a Worker bound to an existing team layout.
func New(cfg *config.Config, layout *teamfs.Layout, name string, backend Backend, logger *logging.Logger) (*Worker, error) {
	if err := teamfs.ValidateWorkerName(name); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("worker: backend is required")
	}
	if err := layout.EnsureWorkerDir(name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	w := &Worker{
		name:       name,
		layout:     layout,
		store:      task.NewStore(layout, logger),
		hb:         heartbeat.NewWriter(layout, name, ""),
		outbox:     router.NewOutbox(layout, name),
		backend:    backend,
		logger:     logger.WithWorker(name),
		poll:       time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
		maxRetries: cfg.Task.MaxRetries,
	}
	if cfg.Usage.Enabled {
		w.usage = usage.NewRecorder(layout)
	}
	return w, nil
}

// Run is the main loop. It returns nil after a requested shutdown and
// the context's error when canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "team", w.layout.Team())

	for {
		if w.shutdownRequested() {
			return w.ackShutdown()
		}

		status := heartbeat.StatusIdle
		if err := w.hb.Beat(status, w.consecutiveErrors); err != nil {
			w.logger.Warn("heartbeat write failed", "error", err)
		}

		worked, err := w.runOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.consecutiveErrors++
			w.logger.Error("cycle failed", "error", err, "consecutive", w.consecutiveErrors)
			_ = w.hb.Beat(heartbeat.StatusErrored, w.consecutiveErrors)
		} else {
			w.consecutiveErrors = 0
		}

		if worked {
			continue // look for more work immediately
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.poll):
		}
	}
}

// runOne claims and executes at most one task. Returns whether any work
// was done.
func (w *Worker) runOne(ctx context.Context) (bool, error) {
	next, err := w.store.FindNextClaimable(w.name)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return w.retryOne(ctx)
		}
		return false, err
	}

	claimed, err := w.store.Claim(next.ID, w.name)
	if err != nil {
		if errors.Is(err, task.ErrClaimConflict) {
			// Someone else won; not an error, try again next cycle.
			w.logger.Debug("lost claim race", "task", next.ID)
			return false, nil
		}
		return false, err
	}

	return true, w.execute(ctx, claimed)
}

// retryOne re-queues one failed task that still has retry budget and
// claims it. Permanently failed tasks are never touched.
func (w *Worker) retryOne(ctx context.Context) (bool, error) {
	tasks, err := w.store.List()
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status != task.StatusFailed || t.Metadata.PermanentlyFailed || !t.RetriesRemaining() {
			continue
		}
		if _, err := w.store.UpdateStatus(t.ID, task.StatusPending, t.Metadata); err != nil {
			continue
		}
		claimed, err := w.store.Claim(t.ID, w.name)
		if err != nil {
			continue
		}
		w.logger.Info("retrying failed task", "task", t.ID, "attempt", t.Metadata.RetryCount+1)
		return true, w.execute(ctx, claimed)
	}
	return false, nil
}

// execute runs the backend for one claimed task and records the
// outcome: task status, outbox event, and usage entry.
func (w *Worker) execute(ctx context.Context, t task.Task) error {
	if err := w.hb.Beat(heartbeat.StatusWorking, w.consecutiveErrors); err != nil {
		w.logger.Warn("heartbeat write failed", "error", err)
	}

	started := time.Now().UTC()
	result, execErr := w.backend.Execute(ctx, t)
	completed := time.Now().UTC()

	if execErr != nil {
		return w.recordFailure(t, execErr)
	}

	meta := t.Metadata
	if _, err := w.store.UpdateStatus(t.ID, task.StatusCompleted, meta); err != nil {
		return fmt.Errorf("worker: complete %s: %w", t.ID, err)
	}
	if err := w.outbox.Append(router.OutboxMessage{
		Type:    router.OutboxTaskCompleted,
		TaskID:  t.ID,
		Summary: result.Summary,
	}); err != nil {
		w.logger.Warn("outbox append failed", "task", t.ID, "error", err)
	}

	if w.usage != nil {
		if err := w.usage.Record(usage.Entry{
			TaskID:        t.ID,
			WorkerName:    w.name,
			Provider:      result.Provider,
			Model:         result.Model,
			StartedAt:     started,
			CompletedAt:   completed,
			PromptChars:   result.PromptChars,
			ResponseChars: result.ResponseChars,
		}); err != nil {
			w.logger.Warn("usage record failed", "task", t.ID, "error", err)
		}
	}

	w.logger.Info("task completed", "task", t.ID)
	return nil
}

// recordFailure increments the retry count, marks the task permanently
// failed once the budget is exhausted, and reports through the outbox.
func (w *Worker) recordFailure(t task.Task, execErr error) error {
	meta := t.Metadata
	if meta.MaxRetries == 0 {
		meta.MaxRetries = w.maxRetries
	}
	meta.RetryCount++
	if meta.RetryCount >= meta.MaxRetries {
		meta.PermanentlyFailed = true
	}

	if _, err := w.store.UpdateStatus(t.ID, task.StatusFailed, meta); err != nil {
		return fmt.Errorf("worker: fail %s: %w", t.ID, err)
	}
	if err := w.outbox.Append(router.OutboxMessage{
		Type:    router.OutboxTaskFailed,
		TaskID:  t.ID,
		Summary: execErr.Error(),
	}); err != nil {
		w.logger.Warn("outbox append failed", "task", t.ID, "error", err)
	}

	w.logger.Warn("task failed", "task", t.ID, "error", execErr,
		"retries", meta.RetryCount, "permanent", meta.PermanentlyFailed)
	return nil
}

// shutdownRequested reports whether the leader has written the sentinel.
func (w *Worker) shutdownRequested() bool {
	_, err := os.Stat(w.layout.ShutdownRequestFile(w.name))
	return err == nil
}

// ackShutdown writes the ack file and the outbox event, then returns.
// The ack write is the durable part; the outbox event is informational.
func (w *Worker) ackShutdown() error {
	ack := map[string]any{"acked_at": time.Now().UTC()}
	data, _ := json.Marshal(ack)
	if err := teamfs.WriteFileAtomic(w.layout.ShutdownAckFile(w.name), data, 0o644); err != nil {
		return fmt.Errorf("worker: write shutdown ack: %w", err)
	}
	if err := w.outbox.Append(router.OutboxMessage{Type: router.OutboxShutdownAck}); err != nil {
		w.logger.Debug("outbox append failed", "error", err)
	}
	w.logger.Info("shutdown acknowledged")
	return nil
}
