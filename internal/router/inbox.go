package router

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
)

// Inbox appends leader instructions to a worker's inbox.md file. The
// file is markdown so a worker (or a human debugging a run) can read it
// directly; each instruction carries a timestamp marker. A worker that
// polls and finds no explicit trigger still eventually reads the file.
type Inbox struct {
	layout   *teamfs.Layout
	notifier Notifier
	panes    func(worker string) string // worker -> pane id; "" when unknown
	logger   *logging.Logger
	mu       sync.Mutex
}

// NewInbox creates an Inbox. paneLookup resolves a worker name to its
// pane id for the notify step; returning "" skips notification.
func NewInbox(layout *teamfs.Layout, notifier Notifier, paneLookup func(string) string, logger *logging.Logger) *Inbox {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if paneLookup == nil {
		paneLookup = func(string) string { return "" }
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Inbox{layout: layout, notifier: notifier, panes: paneLookup, logger: logger}
}

// Send appends an instruction to the worker's inbox and then notifies
// the worker's pane. The write always precedes the notify; a failed
// notify is logged and swallowed since the durable state already holds
// the real information.
func (i *Inbox) Send(worker, instruction string) error {
	if err := teamfs.ValidateWorkerName(worker); err != nil {
		return err
	}
	if err := i.layout.EnsureWorkerDir(worker); err != nil {
		return err
	}

	entry := fmt.Sprintf("\n## %s\n\n%s\n", time.Now().UTC().Format(time.RFC3339), instruction)

	i.mu.Lock()
	err := appendFile(i.layout.InboxFile(worker), []byte(entry))
	i.mu.Unlock()
	if err != nil {
		return fmt.Errorf("append inbox for %s: %w", worker, err)
	}

	if paneID := i.panes(worker); paneID != "" {
		if err := i.notifier.Notify(paneID, "New instruction in your inbox"); err != nil {
			i.logger.Debug("inbox notify failed", "worker", worker, "error", err)
		}
	}
	return nil
}

// Read returns the full inbox contents, or empty when none exist yet.
func (i *Inbox) Read(worker string) (string, error) {
	data, err := os.ReadFile(i.layout.InboxFile(worker))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read inbox for %s: %w", worker, err)
	}
	return string(data), nil
}

// appendFile opens path in append mode and writes data.
func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
