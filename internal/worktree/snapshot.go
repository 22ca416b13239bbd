package worktree

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultIgnorePatterns are paths excluded from snapshots and overlap
// detection. Lock files and build output churn constantly without
// representing real work.
var DefaultIgnorePatterns = []string{
	".git/**",
	"node_modules/**",
	"**/*.lock",
	"**/.DS_Store",
	"target/**",
	"dist/**",
}

// Snapshot is the set of paths present in a tree at one moment,
// relative to the tree root.
type Snapshot map[string]struct{}

// Snapshotter captures tracked and untracked paths from git trees,
// filtered by compiled glob ignore patterns.
type Snapshotter struct {
	ignores []glob.Glob
}

// NewSnapshotter compiles the ignore patterns. Invalid patterns are an
// error: a typo that silently widened a snapshot would produce phantom
// overlaps.
func NewSnapshotter(patterns []string) (*Snapshotter, error) {
	if patterns == nil {
		patterns = DefaultIgnorePatterns
	}
	ignores := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("worktree: ignore pattern %q: %w", p, err)
		}
		ignores = append(ignores, g)
	}
	return &Snapshotter{ignores: ignores}, nil
}

// Take captures the current paths of a tree: tracked files plus
// untracked files that are not git-ignored.
func (s *Snapshotter) Take(dir string) (Snapshot, error) {
	cmd := exec.Command("git", "ls-files", "--others", "--exclude-standard", "--cached")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("worktree: snapshot %s: %w", dir, err)
	}

	snap := make(Snapshot)
	for _, line := range strings.Split(string(output), "\n") {
		path := strings.TrimSpace(line)
		if path == "" || s.ignored(path) {
			continue
		}
		snap[path] = struct{}{}
	}
	return snap, nil
}

func (s *Snapshotter) ignored(path string) bool {
	for _, g := range s.ignores {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Diff returns the paths added or removed between two snapshots,
// sorted.
func Diff(before, after Snapshot) []string {
	var changed []string
	for path := range after {
		if _, ok := before[path]; !ok {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// Overlaps returns paths touched by more than one worker, mapped to the
// sorted list of workers that touched them. touched maps worker name to
// its touched-path set.
func Overlaps(touched map[string][]string) map[string][]string {
	byPath := make(map[string][]string)
	for worker, paths := range touched {
		for _, path := range paths {
			byPath[path] = append(byPath[path], worker)
		}
	}

	overlaps := make(map[string][]string)
	for path, workers := range byPath {
		if len(workers) > 1 {
			sort.Strings(workers)
			overlaps[path] = workers
		}
	}
	return overlaps
}
