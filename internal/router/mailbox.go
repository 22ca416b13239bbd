package router

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
)

// Mailbox entry kinds. A "message" line is the payload; a later
// "notified" line with the same id records delivery acknowledgment
// without mutating the original entry. The log is append-only by
// design: in-place updates of concurrently-read files would reintroduce
// partial-write races.
const (
	KindMessage  = "message"
	KindNotified = "notified"
)

// MailboxMessage is one line in a recipient's mailbox JSONL log.
type MailboxMessage struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Body       string     `json:"body,omitempty"`
	Broadcast  bool       `json:"broadcast,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// Mailbox routes peer-to-peer and broadcast messages between workers.
type Mailbox struct {
	layout   *teamfs.Layout
	notifier Notifier
	panes    func(worker string) string
	logger   *logging.Logger
	mu       sync.Mutex
}

// NewMailbox creates a Mailbox. paneLookup resolves worker names to pane
// ids for the notify step; returning "" skips notification.
func NewMailbox(layout *teamfs.Layout, notifier Notifier, paneLookup func(string) string, logger *logging.Logger) *Mailbox {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if paneLookup == nil {
		paneLookup = func(string) string { return "" }
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mailbox{layout: layout, notifier: notifier, panes: paneLookup, logger: logger}
}

// Send appends a message to the recipient's log, then best-effort
// notifies the recipient's pane. A successful notify is recorded by
// appending a second entry of kind "notified" with the same id.
func (m *Mailbox) Send(from, to, body string) (string, error) {
	if from == "" || to == "" {
		return "", fmt.Errorf("mailbox: from and to are required")
	}

	msg := MailboxMessage{
		ID:        uuid.NewString(),
		Kind:      KindMessage,
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.append(to, msg); err != nil {
		return "", err
	}

	m.notify(to, msg)
	return msg.ID, nil
}

// Broadcast appends one message with a shared id to every recipient's
// log before any notify signal is sent, so a crash mid-broadcast still
// leaves every already-written recipient with the message.
func (m *Mailbox) Broadcast(from string, recipients []string, body string) (string, error) {
	if from == "" {
		return "", fmt.Errorf("mailbox: from is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	var written []MailboxMessage
	for _, to := range recipients {
		if to == from {
			continue
		}
		msg := MailboxMessage{
			ID:        id,
			Kind:      KindMessage,
			From:      from,
			To:        to,
			Body:      body,
			Broadcast: true,
			CreatedAt: now,
		}
		if err := m.append(to, msg); err != nil {
			return id, fmt.Errorf("broadcast to %s: %w", to, err)
		}
		written = append(written, msg)
	}

	// All writes durable; only now signal anyone.
	for _, msg := range written {
		m.notify(msg.To, msg)
	}
	return id, nil
}

// Read returns the recipient's messages in creation order, deduplicated
// by id. "Notified" entries never appear as messages; they only set the
// NotifiedAt field on the original they acknowledge. Malformed lines
// are skipped.
func (m *Mailbox) Read(worker string) ([]MailboxMessage, error) {
	f, err := os.Open(m.layout.MailboxFile(worker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open mailbox for %s: %w", worker, err)
	}
	defer func() { _ = f.Close() }()

	byID := make(map[string]*MailboxMessage)
	var order []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry MailboxMessage
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		switch entry.Kind {
		case KindMessage:
			if _, seen := byID[entry.ID]; seen {
				continue // duplicate id: first write wins
			}
			msg := entry
			byID[entry.ID] = &msg
			order = append(order, entry.ID)
		case KindNotified:
			if original, ok := byID[entry.ID]; ok {
				original.NotifiedAt = entry.NotifiedAt
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan mailbox for %s: %w", worker, err)
	}

	messages := make([]MailboxMessage, 0, len(order))
	for _, id := range order {
		messages = append(messages, *byID[id])
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

// notify signals the recipient's pane and, on success, appends the
// acknowledgment entry. Notify failures are swallowed: the durable
// state already has the real information.
func (m *Mailbox) notify(to string, msg MailboxMessage) {
	paneID := m.panes(to)
	if paneID == "" {
		return
	}
	if err := m.notifier.Notify(paneID, fmt.Sprintf("Message from %s: %s", msg.From, msg.Body)); err != nil {
		m.logger.Debug("mailbox notify failed", "to", to, "id", msg.ID, "error", err)
		return
	}

	now := time.Now().UTC()
	ack := MailboxMessage{
		ID:         msg.ID,
		Kind:       KindNotified,
		From:       msg.From,
		To:         to,
		NotifiedAt: &now,
	}
	if err := m.append(to, ack); err != nil {
		m.logger.Debug("mailbox ack append failed", "to", to, "id", msg.ID, "error", err)
	}
}

// append writes one JSONL entry to the recipient's mailbox.
func (m *Mailbox) append(to string, entry MailboxMessage) error {
	if err := teamfs.ValidateWorkerName(to); err != nil {
		return err
	}
	if err := m.layout.EnsureWorkerDir(to); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("mailbox: marshal: %w", err)
	}
	data = append(data, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	return appendFile(m.layout.MailboxFile(to), data)
}
