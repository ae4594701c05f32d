package codegen

import (
	"fmt"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// Fixed script framing.
const (
	Preamble         = "import pandas as pd"
	CompletionMarker = "# Pipeline complete"
)

// Policy selects which cells go into a script and how source cells are
// rendered.
type Policy struct {
	// UpTo, when set, keeps only cells [0, *UpTo] inclusive.
	UpTo *int
	// BrowserSafe swaps file loads for in-memory empty frames.
	BrowserSafe bool
	// Columns overrides the known columns of source cells, keyed by node id.
	Columns map[string][]string
}

// FullScript assembles every cell.
func FullScript(cells []Cell) string {
	return Assemble(cells, Policy{})
}

// PrefixScript assembles cells [0, upTo] inclusive.
func PrefixScript(cells []Cell, upTo int) string {
	return Assemble(cells, Policy{UpTo: &upTo})
}

// BrowserSafeScript assembles every cell with source loads replaced by
// empty frames. columns may be nil.
func BrowserSafeScript(cells []Cell, columns map[string][]string) string {
	return Assemble(cells, Policy{BrowserSafe: true, Columns: columns})
}

// Assemble builds a script under the given policy. No cells, after
// truncation, gives the empty string.
func Assemble(cells []Cell, p Policy) string {
	cells = Truncate(cells, p.UpTo)
	if len(cells) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(Preamble + "\n\n")
	fmt.Fprintf(&sb, "# Convoy pipeline: %d steps\n", len(cells))
	for i, c := range cells {
		code := c.Code
		if p.BrowserSafe && c.Kind == pipeline.KindSource {
			code = EmptyFrame(sourceColumns(c, p.Columns))
		}
		fmt.Fprintf(&sb, "\n# Step %d: %s\n", i+1, CommentText(c.Label))
		sb.WriteString(strings.TrimRight(code, "\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n" + CompletionMarker + "\n")
	return sb.String()
}

// Truncate returns cells [0, *upTo] inclusive, or all cells when upTo is
// nil. A negative bound keeps nothing.
func Truncate(cells []Cell, upTo *int) []Cell {
	if upTo == nil {
		return cells
	}
	n := *upTo + 1
	switch {
	case n <= 0:
		return nil
	case n > len(cells):
		return cells
	}
	return cells[:n]
}

// EmptyFrame returns the in-memory constructor used in place of a file
// load.
func EmptyFrame(columns []string) string {
	if len(columns) == 0 {
		return "df = pd.DataFrame()"
	}
	return "df = pd.DataFrame(columns=" + quoteList(columns) + ")"
}

func sourceColumns(c Cell, override map[string][]string) []string {
	if id, ok := c.NodeID(); ok {
		if cols, ok := override[id]; ok {
			return cols
		}
	}
	return c.Columns
}
