// Package runner executes generated pipeline code. A Runner hands a script
// to an interpreter; an Executor walks the ordered pipeline one step at a
// time and writes the outcome back to the graph.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
)

// Markers bracket the result frame in interpreter output.
const (
	FrameBegin = "__CONVOY_FRAME_BEGIN__"
	FrameEnd   = "__CONVOY_FRAME_END__"
)

// Result is the outcome of a successful script run.
type Result struct {
	Stdout string
	// Frame is the value of df at the end of the script, nil when the
	// script did not print one.
	Frame *frame.DataFrame
}

// Runner executes a script and reports its result. A script that fails
// returns an *ExecutionError carrying the interpreter's message.
type Runner interface {
	Run(ctx context.Context, script string) (*Result, error)
}

// ExecutionError is an interpreter failure. Message is shown verbatim on
// the failing node.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// Seed returns python that rebuilds df from a frame so a single step can
// run in isolation.
func Seed(df *frame.DataFrame) (string, error) {
	if df == nil {
		df = frame.Empty(nil)
	}
	raw, err := json.Marshal(df)
	if err != nil {
		return "", fmt.Errorf("seed frame: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("import json as _convoy_json\n")
	sb.WriteString("import pandas as pd\n\n")
	fmt.Fprintf(&sb, "_convoy_in = _convoy_json.loads(%s)\n", codegen.Quote(string(raw)))
	sb.WriteString("df = pd.DataFrame(_convoy_in[\"rows\"], columns=[c[\"name\"] for c in _convoy_in[\"columns\"]])\n")
	return sb.String(), nil
}

// Epilogue prints df between the frame markers.
const Epilogue = `
import json as _convoy_json
print("` + FrameBegin + `")
print(_convoy_json.dumps({"columns": [str(c) for c in df.columns], "rows": _convoy_json.loads(df.to_json(orient="records", date_format="iso"))}))
print("` + FrameEnd + `")
`

// WithEpilogue appends Epilogue to script.
func WithEpilogue(script string) string {
	return strings.TrimRight(script, "\n") + "\n" + Epilogue
}

// readFrame extracts the frame printed between the markers. The text
// outside the markers is returned as the remaining output.
func readFrame(stdout string) (*frame.DataFrame, string, error) {
	start := strings.LastIndex(stdout, FrameBegin)
	if start < 0 {
		return nil, stdout, nil
	}
	end := strings.Index(stdout[start:], FrameEnd)
	if end < 0 {
		return nil, stdout, fmt.Errorf("result frame: missing %s marker", FrameEnd)
	}
	body := strings.TrimSpace(stdout[start+len(FrameBegin) : start+end])
	rest := stdout[:start] + stdout[start+end+len(FrameEnd):]

	var wire struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, rest, fmt.Errorf("result frame: %w", err)
	}
	return frame.Infer(wire.Rows, wire.Columns), strings.TrimRight(rest, "\n"), nil
}
