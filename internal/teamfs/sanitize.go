package teamfs

import (
	"strings"
	"unicode"
)

// maxOverlayFieldLen caps any single piece of task text embedded into a
// worker overlay. Task text is leader- or peer-supplied and the overlay is
// read by the worker's host agent, so oversized or crafted text must not
// be able to dominate the prompt.
const maxOverlayFieldLen = 2000

// SanitizeOverlayText prepares untrusted task text for embedding into a
// worker bootstrap overlay. It strips control characters (including ANSI
// escape introducers), neutralizes markup that a host agent could read as
// instructions, and truncates to a fixed length.
func SanitizeOverlayText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == 0x1b: // ESC starts terminal escape sequences
			continue
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()

	// Angle-bracket tags and template braces are how host agents delimit
	// their own instruction blocks. Escape them so embedded task text can
	// never open or close such a block.
	replacer := strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		"{{", "{ {",
		"}}", "} }",
	)
	out = replacer.Replace(out)

	// Truncate on a rune boundary; slicing bytes could split a
	// multi-byte character and emit invalid UTF-8.
	if runes := []rune(out); len(runes) > maxOverlayFieldLen {
		out = string(runes[:maxOverlayFieldLen]) + "…"
	}
	return out
}
