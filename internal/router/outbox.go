package router

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crewmux/crewmux/internal/teamfs"
)

// Outbox event types.
const (
	OutboxTaskCompleted = "task_completed"
	OutboxTaskFailed    = "task_failed"
	OutboxShutdownAck   = "shutdown_ack"
)

// OutboxMessage is one worker-to-leader event. Append-only; never mutated.
type OutboxMessage struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Outbox appends completion/failure events to one worker's JSONL log.
// The worker is the only writer; the leader and status layer tail it.
type Outbox struct {
	layout *teamfs.Layout
	worker string
	mu     sync.Mutex
}

// NewOutbox creates an Outbox for the given worker.
func NewOutbox(layout *teamfs.Layout, worker string) *Outbox {
	return &Outbox{layout: layout, worker: worker}
}

// Append writes one event. The timestamp is stamped if zero.
func (o *Outbox) Append(msg OutboxMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("outbox: message type is required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := o.layout.EnsureWorkerDir(o.worker); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbox: marshal: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	return appendFile(o.layout.OutboxFile(o.worker), data)
}

// TailOutbox reads every event from a worker's outbox in append order.
// Malformed lines are skipped: a crashed writer mid-line is expected,
// not an error.
func TailOutbox(layout *teamfs.Layout, worker string) ([]OutboxMessage, error) {
	f, err := os.Open(layout.OutboxFile(worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open outbox for %s: %w", worker, err)
	}
	defer func() { _ = f.Close() }()

	var messages []OutboxMessage
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg OutboxMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan outbox for %s: %w", worker, err)
	}
	return messages, nil
}
