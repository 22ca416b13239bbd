package nudge

import (
	"sync"
	"time"

	"github.com/crewmux/crewmux/internal/event"
	"github.com/crewmux/crewmux/internal/logging"
	"github.com/crewmux/crewmux/internal/router"
	"github.com/crewmux/crewmux/internal/tmux"
)

// Defaults for the idle tracker.
const (
	DefaultIdleDelay    = 30 * time.Second
	DefaultMaxNudges    = 3
	DefaultScanInterval = 5 * time.Second
)

// paneState is the per-pane position in the idle state machine.
type paneState int

const (
	paneActive paneState = iota
	paneIdlePending
	paneNudged
)

type paneRecord struct {
	worker     string
	state      paneState
	idleSince  time.Time
	nudgeCount int
}

// CaptureFunc returns the visible output of a pane.
type CaptureFunc func(paneID string, lines int) (string, error)

// Options configure a Tracker. Zero values take the defaults.
type Options struct {
	IdleDelay    time.Duration
	MaxNudges    int
	ScanInterval time.Duration
	LeaderPaneID string
	Capture      CaptureFunc
	Classifier   Classifier
}

// Tracker watches registered panes and nudges the ones that sit idle at
// an input prompt for too long. Each pane moves through active ->
// idle-pending -> nudged; any sign of activity resets it to active. The
// leader's own pane is never tracked or nudged.
type Tracker struct {
	classifier Classifier
	capture    CaptureFunc
	notifier   router.Notifier
	bus        *event.Bus
	logger     *logging.Logger

	idleDelay    time.Duration
	maxNudges    int
	scanInterval time.Duration
	leaderPaneID string

	now func() time.Time

	mu       sync.Mutex
	panes    map[string]*paneRecord
	lastScan time.Time
}

// NewTracker creates a Tracker for one team session.
func NewTracker(socket string, notifier router.Notifier, bus *event.Bus, logger *logging.Logger, opts Options) *Tracker {
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = DefaultIdleDelay
	}
	if opts.MaxNudges <= 0 {
		opts.MaxNudges = DefaultMaxNudges
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	if opts.Capture == nil {
		opts.Capture = func(paneID string, lines int) (string, error) {
			return tmux.CapturePane(socket, paneID, lines)
		}
	}
	if opts.Classifier == nil {
		opts.Classifier = NewRegexClassifier()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		classifier:   opts.Classifier,
		capture:      opts.Capture,
		notifier:     notifier,
		bus:          bus,
		logger:       logger,
		idleDelay:    opts.IdleDelay,
		maxNudges:    opts.MaxNudges,
		scanInterval: opts.ScanInterval,
		leaderPaneID: opts.LeaderPaneID,
		now:          time.Now,
		panes:        make(map[string]*paneRecord),
	}
}

// Track registers a worker pane. The leader pane is refused silently.
func (t *Tracker) Track(paneID, worker string) {
	if paneID == "" || paneID == t.leaderPaneID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.panes[paneID]; !ok {
		t.panes[paneID] = &paneRecord{worker: worker, state: paneActive}
	}
}

// Untrack removes a pane, e.g. after its worker shuts down.
func (t *Tracker) Untrack(paneID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.panes, paneID)
}

// Scan examines every tracked pane once. Calls closer together than the
// scan interval are dropped. Returns the number of nudges sent.
func (t *Tracker) Scan() int {
	t.mu.Lock()
	now := t.now()
	if now.Sub(t.lastScan) < t.scanInterval {
		t.mu.Unlock()
		return 0
	}
	t.lastScan = now

	type target struct {
		paneID string
		rec    *paneRecord
	}
	targets := make([]target, 0, len(t.panes))
	for id, rec := range t.panes {
		targets = append(targets, target{id, rec})
	}
	t.mu.Unlock()

	sent := 0
	for _, tg := range targets {
		if t.scanPane(tg.paneID, tg.rec, now) {
			sent++
		}
	}
	return sent
}

func (t *Tracker) scanPane(paneID string, rec *paneRecord, now time.Time) bool {
	output, err := t.capture(paneID, 40)
	if err != nil {
		t.logger.Debug("pane capture failed", "pane", paneID, "error", err)
		return false
	}

	idle := t.classifier.ReadyForInput(output) && !t.classifier.HasActiveTask(output)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.panes[paneID]; !ok {
		return false // untracked mid-scan
	}

	if !idle {
		rec.state = paneActive
		rec.idleSince = time.Time{}
		return false
	}

	switch rec.state {
	case paneActive:
		rec.state = paneIdlePending
		rec.idleSince = now
		return false
	case paneIdlePending, paneNudged:
		if now.Sub(rec.idleSince) < t.idleDelay {
			return false
		}
		if rec.nudgeCount >= t.maxNudges {
			return false
		}
	}

	if err := t.notifier.Notify(paneID, "Reminder: check your inbox and task list for pending work"); err != nil {
		t.logger.Debug("nudge delivery failed", "pane", paneID, "worker", rec.worker, "error", err)
		return false
	}

	rec.state = paneNudged
	rec.nudgeCount++
	rec.idleSince = now // timer restarts after each nudge
	t.logger.Info("nudged idle worker", "worker", rec.worker, "pane", paneID, "count", rec.nudgeCount)
	if t.bus != nil {
		t.bus.Publish(event.NewNudgeSentEvent(rec.worker, paneID, rec.nudgeCount))
	}
	return true
}
