package codegen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Change is one cell whose code differs between two versions.
type Change struct {
	Ref    CellRef
	Before string
	After  string
}

// Diff compares cells by ref and returns those whose code changed, in the
// order of next. Cells present only in next are reported with an empty
// Before; cells that disappeared are ignored.
func Diff(prev, next []Cell) []Change {
	old := make(map[CellRef]string, len(prev))
	for _, c := range prev {
		old[c.Ref] = c.Code
	}
	var out []Change
	for _, c := range next {
		before, ok := old[c.Ref]
		if ok && normalize(before) == normalize(c.Code) {
			continue
		}
		out = append(out, Change{Ref: c.Ref, Before: before, After: c.Code})
	}
	return out
}

func normalize(code string) string {
	lines := strings.Split(strings.TrimSpace(code), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// ErrStepMismatch is returned when an edited script does not have the same
// steps as the cells it is compared with.
var ErrStepMismatch = errors.New("codegen: edited script steps do not match pipeline")

var stepHeader = regexp.MustCompile(`^# Step (\d+): `)

// SplitScript cuts a script produced by Assemble back into per-step code,
// using the step header comments. Preamble and completion marker are
// dropped.
func SplitScript(script string) []string {
	var steps []string
	var cur []string
	in := false
	flush := func() {
		if in {
			steps = append(steps, strings.TrimSpace(strings.Join(cur, "\n")))
		}
		cur = nil
	}
	for _, line := range strings.Split(script, "\n") {
		if stepHeader.MatchString(line) {
			flush()
			in = true
			continue
		}
		if strings.TrimSpace(line) == CompletionMarker {
			flush()
			in = false
			continue
		}
		if in {
			cur = append(cur, line)
		}
	}
	flush()
	return steps
}

// EditsFromScript maps an edited full script onto cells and returns the
// cells whose code was changed by hand.
func EditsFromScript(cells []Cell, script string) ([]Change, error) {
	steps := SplitScript(script)
	if len(steps) != len(cells) {
		return nil, fmt.Errorf("%w: script has %d steps, pipeline has %d", ErrStepMismatch, len(steps), len(cells))
	}
	next := make([]Cell, len(cells))
	for i, c := range cells {
		c.Code = steps[i]
		next[i] = c
	}
	return Diff(cells, next), nil
}

// EditsFromClipboard maps edited clipboard text onto cells block by block
// and returns the cells whose code was changed by hand. Blocks are matched
// by position; their labels are ignored.
func EditsFromClipboard(cells []Cell, text string) ([]Change, error) {
	blocks := SplitClipboard(text)
	if len(blocks) != len(cells) {
		return nil, fmt.Errorf("%w: clipboard has %d blocks, pipeline has %d", ErrStepMismatch, len(blocks), len(cells))
	}
	next := make([]Cell, len(cells))
	for i, c := range cells {
		c.Code = blocks[i].Code
		next[i] = c
	}
	return Diff(cells, next), nil
}
