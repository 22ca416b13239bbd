package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crewmux/crewmux/internal/event"
	"github.com/crewmux/crewmux/internal/logging"
)

// ignoreDirs are directory names the tracker never descends into.
var ignoreDirs = []string{".git", "node_modules", "target", "dist", ".DS_Store"}

// Tracker watches worker trees for writes and publishes an overlap
// event whenever two workers touch the same relative path. Events are
// debounced since editors fire several writes per save.
type Tracker struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	logger  *logging.Logger

	mu      sync.Mutex
	trees   map[string]string              // worker -> tree root
	touched map[string]map[string]struct{} // relative path -> workers
	flagged map[string]struct{}            // paths already published

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewTracker creates a Tracker publishing to bus.
func NewTracker(bus *event.Bus, logger *logging.Logger) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		watcher: watcher,
		bus:     bus,
		logger:  logger,
		trees:   make(map[string]string),
		touched: make(map[string]map[string]struct{}),
		flagged: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Watch registers a worker's tree, recursively adding subdirectories.
func (t *Tracker) Watch(worker, treeRoot string) error {
	t.mu.Lock()
	t.trees[worker] = treeRoot
	t.mu.Unlock()

	return filepath.Walk(treeRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			for _, ignore := range ignoreDirs {
				if filepath.Base(path) == ignore {
					return filepath.SkipDir
				}
			}
			_ = t.watcher.Add(path)
		}
		return nil
	})
}

// Unwatch removes a worker's tree and forgets its touches.
func (t *Tracker) Unwatch(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.trees[worker]
	if !ok {
		return
	}
	_ = t.watcher.Remove(root)
	delete(t.trees, worker)

	for path, workers := range t.touched {
		delete(workers, worker)
		if len(workers) == 0 {
			delete(t.touched, path)
			delete(t.flagged, path)
		}
	}
}

// Start launches the watch loop.
func (t *Tracker) Start() {
	go t.loop()
}

// Stop shuts the tracker down and waits for the loop to exit.
func (t *Tracker) Stop() {
	close(t.stopCh)
	_ = t.watcher.Close()
	<-t.doneCh
}

func (t *Tracker) loop() {
	defer close(t.doneCh)

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := make(map[string]struct{})

	for {
		select {
		case <-t.stopCh:
			return

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			for path := range pending {
				t.record(path)
			}
			pending = make(map[string]struct{})

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Debug("worktree watch error", "error", err)
		}
	}
}

// record attributes an absolute path to a worker and publishes an
// overlap event the first time a second worker touches it.
func (t *Tracker) record(path string) {
	base := filepath.Base(path)
	for _, ignore := range ignoreDirs {
		if base == ignore || strings.Contains(path, string(filepath.Separator)+ignore+string(filepath.Separator)) {
			return
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var worker, rel string
	for w, root := range t.trees {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			worker = w
			rel, _ = filepath.Rel(root, path)
			break
		}
	}
	if worker == "" {
		return
	}

	if t.touched[rel] == nil {
		t.touched[rel] = make(map[string]struct{})
	}
	t.touched[rel][worker] = struct{}{}

	if len(t.touched[rel]) > 1 {
		if _, done := t.flagged[rel]; done {
			return
		}
		t.flagged[rel] = struct{}{}

		workers := make([]string, 0, len(t.touched[rel]))
		for w := range t.touched[rel] {
			workers = append(workers, w)
		}
		t.logger.Warn("overlapping edits detected", "path", rel, "workers", workers)
		if t.bus != nil {
			t.bus.Publish(event.NewOverlapDetectedEvent(rel, workers))
		}
	}
}

// TouchedBy returns the relative paths a worker has written, in no
// particular order.
func (t *Tracker) TouchedBy(worker string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var paths []string
	for path, workers := range t.touched {
		if _, ok := workers[worker]; ok {
			paths = append(paths, path)
		}
	}
	return paths
}
