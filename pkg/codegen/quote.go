package codegen

import (
	"math"
	"strconv"
	"strings"
)

// Escape escapes backslashes and double quotes for use inside a
// double-quoted literal.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Quote returns s as a double-quoted literal.
func Quote(s string) string {
	return `"` + Escape(s) + `"`
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// CommentText flattens s onto one line so it can follow a "#" in a script.
func CommentText(s string) string {
	return lineBreaks.Replace(s)
}

// IsNumeric reports whether s, once trimmed, parses as a finite number.
func IsNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Literal renders a comparison value: numeric-looking values are emitted
// bare, everything else as a quoted string.
func Literal(v string) string {
	if IsNumeric(v) {
		return strings.TrimSpace(v)
	}
	return Quote(v)
}

// column returns a frame column reference.
func column(frameVar, name string) string {
	return frameVar + "[" + Quote(name) + "]"
}

// quoteList renders a list literal of quoted strings.
func quoteList(items []string) string {
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = Quote(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
