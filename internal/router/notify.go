// Package router carries the three message channels between a team's
// processes: inbox (leader to worker), outbox (worker to leader), and
// mailbox (worker to worker, including broadcast).
//
// Every channel follows write-then-notify: durable state hits disk
// first, and only after a successful write is a best-effort wake-up
// signal injected into the recipient's pane. A lost signal loses
// nothing; the recipient sees the new content on its own next poll.
package router

import (
	"fmt"

	"github.com/crewmux/crewmux/internal/tmux"
)

// NotifyMaxLen caps outgoing notify text. The notify channel is raw
// keystroke injection into a terminal, not a file transfer; the real
// payload is already on disk.
const NotifyMaxLen = 200

// Notifier delivers a short wake-up signal to a pane. Implementations
// are best-effort: failures are swallowed by callers, never escalated.
type Notifier interface {
	Notify(paneID, message string) error
}

// TmuxNotifier injects notify text into panes via tmux send-keys.
type TmuxNotifier struct {
	Socket string
}

// Notify types the message into the pane followed by Enter. The message
// is truncated to NotifyMaxLen.
func (n *TmuxNotifier) Notify(paneID, message string) error {
	if paneID == "" {
		return fmt.Errorf("router: pane id is required")
	}
	if err := tmux.SendKeys(n.Socket, paneID, Truncate(message), true); err != nil {
		return err
	}
	return tmux.SendKeys(n.Socket, paneID, "Enter", false)
}

// NopNotifier discards all notifications. Used when a recipient has no
// pane (tests, detached workers).
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(string, string) error { return nil }

// Truncate shortens s to NotifyMaxLen runes.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= NotifyMaxLen {
		return s
	}
	return string(runes[:NotifyMaxLen-1]) + "…"
}
