// Package trigger decides whether the line under the cursor is worth running.
//
// It is a lexical sniff, not a parser. A comment that mentions "$" will
// trigger and a statement split over several lines may not; both are accepted.
package trigger

import "strings"

// echoPrefixes are statement keywords that print on their own.
var echoPrefixes = []string{"echo", "print"}

// printCalls are output function names that trigger wherever they appear.
var printCalls = []string{"print", "printf", "print_r", "var_dump", "var_export"}

// VariableSigil marks a PHP variable.
const VariableSigil = "$"

// ShouldEvaluate reports whether line looks evaluable.
func ShouldEvaluate(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}

	for _, p := range echoPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	for _, name := range printCalls {
		if strings.Contains(trimmed, name) {
			return true
		}
	}
	return strings.Contains(trimmed, VariableSigil)
}

// LineAt returns line n (0-based) of text, or "" when n is out of range.
// Both \n and \r\n line endings are handled.
func LineAt(text string, n int) string {
	if n < 0 {
		return ""
	}
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return ""
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSuffix(text, "\r")
}

// FirstChangedLine returns the index of the first line that differs between
// before and after. When the texts share every line of after, the last line
// of after is returned. It stands in for a cursor position when edits arrive
// from the filesystem instead of an editor.
func FirstChangedLine(before, after string) int {
	a := strings.Split(before, "\n")
	b := strings.Split(after, "\n")
	for i := range b {
		if i >= len(a) || strings.TrimSuffix(a[i], "\r") != strings.TrimSuffix(b[i], "\r") {
			return i
		}
	}
	return LastLine(after)
}

// LastLine is the index of the last non-blank line of text, or 0.
func LastLine(text string) int {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return 0
}
