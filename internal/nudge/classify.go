// Package nudge watches worker panes for prolonged idleness and types a
// short reminder into panes that appear stuck at an input prompt.
// Classification of pane output is best-effort heuristics over captured
// terminal text; it only triggers reminders and never gates task state.
package nudge

import (
	"regexp"
	"strings"
)

// Classifier analyzes captured pane output.
type Classifier interface {
	// ReadyForInput reports whether the pane appears to be sitting at
	// an input prompt.
	ReadyForInput(output string) bool
	// HasActiveTask reports whether the pane shows signs of active work
	// (spinners, progress text).
	HasActiveTask(output string) bool
}

// Pattern groups for pane output classification.
var (
	readyPatterns = []string{
		`⏵⏵\s*bypass permissions`,
		`⏵\s*(?:allow|approve|bypass)`,
		`↵\s*send`,
		`\(shift\+tab to cycle\)`,
		`>\s+.*↵`,
		`(?i)\[Y(?:es)?/[Nn](?:o)?\]`,
		`(?i)\(y(?:es)?/n(?:o)?\)`,
		`(?i)waiting for (?:your )?(?:input|response|approval|confirmation)`,
	}

	activePatterns = []string{
		`(?i)(?:reading|writing|editing|creating|modifying|analyzing|searching|running|executing|building|compiling|testing)\.{3}`,
		`(?i)(?:working on|processing|loading|fetching)`,
		`⠋|⠙|⠹|⠸|⠼|⠴|⠦|⠧|⠇|⠏`, // spinner frames
		`(?i)esc to interrupt`,
	}
)

// RegexClassifier classifies pane output with pre-compiled patterns.
// It looks at the last few non-empty lines of the stripped capture, so
// stale prompts scrolled up in history do not count as current state.
type RegexClassifier struct {
	ready  []*regexp.Regexp
	active []*regexp.Regexp
}

// NewRegexClassifier compiles the pattern groups.
func NewRegexClassifier() *RegexClassifier {
	return &RegexClassifier{
		ready:  compilePatterns(readyPatterns),
		active: compilePatterns(activePatterns),
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// ReadyForInput reports whether the recent output shows an input prompt.
func (c *RegexClassifier) ReadyForInput(output string) bool {
	return matchesAny(recentText(output), c.ready)
}

// HasActiveTask reports whether the recent output shows active work.
func (c *RegexClassifier) HasActiveTask(output string) bool {
	return matchesAny(recentText(output), c.active)
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// recentText strips ANSI sequences and keeps the last few non-empty
// lines of the capture.
func recentText(output string) string {
	text := StripAnsi(output)
	lines := strings.Split(text, "\n")
	recent := make([]string, 0, 10)
	for i := len(lines) - 1; i >= 0 && len(recent) < 10; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			recent = append([]string{line}, recent...)
		}
	}
	return strings.Join(recent, "\n")
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripAnsi removes CSI and OSC escape sequences from captured text.
func StripAnsi(text string) string {
	return ansiRegex.ReplaceAllString(text, "")
}

// notAvailableClassifier is used when pane capture is unsupported. It
// never reports idle, so no nudges are sent.
type notAvailableClassifier struct{}

func (notAvailableClassifier) ReadyForInput(string) bool { return false }
func (notAvailableClassifier) HasActiveTask(string) bool { return false }

// NotAvailable returns a classifier that disables nudging.
func NotAvailable() Classifier { return notAvailableClassifier{} }
