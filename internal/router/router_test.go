package router

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/teamfs"
)

// fakeNotifier records notify calls and can fail per pane.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []string // "paneID|message"
	fail  map[string]bool
}

func (f *fakeNotifier) Notify(paneID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[paneID] {
		return errors.New("pane dead")
	}
	f.calls = append(f.calls, paneID+"|"+message)
	return nil
}

func newTestLayout(t *testing.T) *teamfs.Layout {
	t.Helper()
	layout, err := teamfs.NewLayout(t.TempDir(), "alpha")
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	return layout
}

func paneTable(panes map[string]string) func(string) string {
	return func(worker string) string { return panes[worker] }
}

func TestInboxSendAppendsAndNotifies(t *testing.T) {
	layout := newTestLayout(t)
	notifier := &fakeNotifier{}
	inbox := NewInbox(layout, notifier, paneTable(map[string]string{"crane": "%2"}), logging.Nop())

	if err := inbox.Send("crane", "start with task-1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := inbox.Send("crane", "then review task-2"); err != nil {
		t.Fatalf("second Send: %v", err)
	}

	content, err := inbox.Read("crane")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.Contains(content, "start with task-1") || !strings.Contains(content, "then review task-2") {
		t.Errorf("inbox missing instructions:\n%s", content)
	}
	// Timestamp markers present.
	if strings.Count(content, "## ") != 2 {
		t.Errorf("expected 2 timestamp markers, content:\n%s", content)
	}
	if len(notifier.calls) != 2 {
		t.Errorf("expected 2 notifies, got %d", len(notifier.calls))
	}
}

func TestInboxNotifyFailureIsSwallowed(t *testing.T) {
	layout := newTestLayout(t)
	notifier := &fakeNotifier{fail: map[string]bool{"%2": true}}
	inbox := NewInbox(layout, notifier, paneTable(map[string]string{"crane": "%2"}), logging.Nop())

	if err := inbox.Send("crane", "instruction"); err != nil {
		t.Fatalf("Send must succeed despite notify failure: %v", err)
	}

	// The durable write happened regardless.
	content, _ := inbox.Read("crane")
	if !strings.Contains(content, "instruction") {
		t.Error("instruction not written despite notify failure")
	}
}

func TestInboxRejectsBadWorkerName(t *testing.T) {
	layout := newTestLayout(t)
	inbox := NewInbox(layout, nil, nil, nil)
	if err := inbox.Send("../escape", "x"); err == nil {
		t.Error("expected error for traversal worker name")
	}
}

func TestOutboxAppendAndTail(t *testing.T) {
	layout := newTestLayout(t)
	outbox := NewOutbox(layout, "crane")

	if err := outbox.Append(OutboxMessage{Type: OutboxTaskCompleted, TaskID: "task-1", Summary: "done"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := outbox.Append(OutboxMessage{Type: OutboxTaskFailed, TaskID: "task-2", Summary: "compile error"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	messages, err := TailOutbox(layout, "crane")
	if err != nil {
		t.Fatalf("TailOutbox: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Type != OutboxTaskCompleted || messages[1].TaskID != "task-2" {
		t.Errorf("unexpected order or content: %+v", messages)
	}
	if messages[0].Timestamp.IsZero() {
		t.Error("timestamp was not stamped")
	}
}

func TestTailOutboxSkipsMalformedLines(t *testing.T) {
	layout := newTestLayout(t)
	outbox := NewOutbox(layout, "crane")
	if err := outbox.Append(OutboxMessage{Type: OutboxTaskCompleted, TaskID: "task-1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Simulate a crashed writer mid-line.
	if err := appendFile(layout.OutboxFile("crane"), []byte(`{"type":"task_comp`)); err != nil {
		t.Fatalf("appendFile: %v", err)
	}

	messages, err := TailOutbox(layout, "crane")
	if err != nil {
		t.Fatalf("TailOutbox: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("expected malformed line skipped, got %d messages", len(messages))
	}
}

func TestTailOutboxMissingFile(t *testing.T) {
	layout := newTestLayout(t)
	messages, err := TailOutbox(layout, "ghost")
	if err != nil || messages != nil {
		t.Errorf("missing outbox should be (nil, nil), got (%v, %v)", messages, err)
	}
}

func TestMailboxSendAndRead(t *testing.T) {
	layout := newTestLayout(t)
	notifier := &fakeNotifier{}
	mb := NewMailbox(layout, notifier, paneTable(map[string]string{"heron": "%3"}), logging.Nop())

	id, err := mb.Send("crane", "heron", "api schema is frozen")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}

	messages, err := mb.Read("heron")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.ID != id || msg.From != "crane" || msg.Body != "api schema is frozen" {
		t.Errorf("message = %+v", msg)
	}
	// The successful notify appended an ack that marks the original.
	if msg.NotifiedAt == nil {
		t.Error("expected NotifiedAt set after successful notify")
	}
}

// A "notified" entry is an acknowledgment only: it never overwrites or
// removes the original message line.
func TestMailboxNotifiedEntryPreservesOriginal(t *testing.T) {
	layout := newTestLayout(t)
	notifier := &fakeNotifier{}
	mb := NewMailbox(layout, notifier, paneTable(map[string]string{"heron": "%3"}), logging.Nop())

	if _, err := mb.Send("crane", "heron", "payload"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Raw log holds two lines: the message and the ack.
	raw, err := mb.Read("heron")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("reader must dedupe to 1 message, got %d", len(raw))
	}
	if raw[0].Body != "payload" {
		t.Errorf("original body lost: %+v", raw[0])
	}
}

func TestMailboxNotifyFailureLeavesMessageUnacked(t *testing.T) {
	layout := newTestLayout(t)
	notifier := &fakeNotifier{fail: map[string]bool{"%3": true}}
	mb := NewMailbox(layout, notifier, paneTable(map[string]string{"heron": "%3"}), logging.Nop())

	if _, err := mb.Send("crane", "heron", "hello"); err != nil {
		t.Fatalf("Send must succeed despite notify failure: %v", err)
	}

	messages, err := mb.Read("heron")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].NotifiedAt != nil {
		t.Error("failed notify must not record an ack")
	}
}

func TestBroadcastWritesAllBeforeNotify(t *testing.T) {
	layout := newTestLayout(t)
	// heron's pane notify fails; ibis succeeds.
	notifier := &fakeNotifier{fail: map[string]bool{"%3": true}}
	mb := NewMailbox(layout, notifier,
		paneTable(map[string]string{"heron": "%3", "ibis": "%4"}), logging.Nop())

	id, err := mb.Broadcast("crane", []string{"heron", "ibis", "crane"}, "merging now")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	// Exactly one entry per recipient, sharing the message id. The
	// sender is excluded.
	for _, worker := range []string{"heron", "ibis"} {
		messages, err := mb.Read(worker)
		if err != nil {
			t.Fatalf("Read %s: %v", worker, err)
		}
		if len(messages) != 1 {
			t.Fatalf("%s: expected 1 message, got %d", worker, len(messages))
		}
		if messages[0].ID != id {
			t.Errorf("%s: id = %s, want shared %s", worker, messages[0].ID, id)
		}
		if !messages[0].Broadcast {
			t.Errorf("%s: broadcast flag not set", worker)
		}
	}
	if messages, _ := mb.Read("crane"); len(messages) != 0 {
		t.Error("sender must not receive its own broadcast")
	}

	// Only ibis got the notify signal.
	if len(notifier.calls) != 1 || !strings.HasPrefix(notifier.calls[0], "%4|") {
		t.Errorf("notify calls = %v", notifier.calls)
	}
}

func TestMailboxReadDedupesByID(t *testing.T) {
	layout := newTestLayout(t)
	mb := NewMailbox(layout, NopNotifier{}, nil, logging.Nop())

	// Write the same message line twice (e.g. a retried append).
	msg := MailboxMessage{ID: "fixed-id", Kind: KindMessage, From: "crane", To: "heron", Body: "once"}
	if err := mb.append("heron", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mb.append("heron", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := mb.Read("heron")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(messages) != 1 {
		t.Errorf("expected dedupe to 1 message, got %d", len(messages))
	}
}

func TestMailboxReadMissingFile(t *testing.T) {
	layout := newTestLayout(t)
	mb := NewMailbox(layout, nil, nil, nil)
	messages, err := mb.Read("nobody-here")
	if err != nil || messages != nil {
		t.Errorf("missing mailbox should be (nil, nil), got (%v, %v)", messages, err)
	}
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if Truncate(short) != short {
		t.Error("short strings must pass through")
	}

	long := strings.Repeat("x", NotifyMaxLen*2)
	got := Truncate(long)
	if len([]rune(got)) != NotifyMaxLen {
		t.Errorf("truncated length = %d runes, want %d", len([]rune(got)), NotifyMaxLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated text should end with ellipsis")
	}
}
