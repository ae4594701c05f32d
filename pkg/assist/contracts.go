// Package assist holds the remote collaborators of a pipeline session:
// generation, explanation, script import, selection edits and chart
// rendering. It also provides the request bookkeeping those calls share, an
// explanation cache and "latest request wins" slots.
package assist

import (
	"context"
	"errors"
	"fmt"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
)

// PipelineGenerator proposes a pipeline from a natural-language prompt and
// the columns of the loaded data.
type PipelineGenerator interface {
	Generate(ctx context.Context, prompt string, schema []frame.Column) (*reconcile.Proposal, error)
}

// ExplainRequest describes one step to explain. Row counts are optional.
type ExplainRequest struct {
	Kind       pipeline.Kind
	Config     pipeline.Config
	InputRows  *int
	OutputRows *int
}

// Explainer describes what a step does in plain words.
type Explainer interface {
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// ScriptImporter turns a pandas script into a proposal.
type ScriptImporter interface {
	ImportScript(ctx context.Context, source string) (*reconcile.Proposal, error)
}

// EditRequest asks for changes to the selected nodes. Context is optional
// surrounding pipeline text, usually the full script.
type EditRequest struct {
	Nodes   []pipeline.Node
	Prompt  string
	Schema  []frame.Column
	Context string
}

// NodeIDs returns the ids of the selected nodes.
func (r EditRequest) NodeIDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// SelectionEditor proposes updates for a set of selected nodes.
type SelectionEditor interface {
	EditSelected(ctx context.Context, req EditRequest) (map[string]reconcile.Update, error)
}

// ChartRequest is the payload sent to a chart renderer.
type ChartRequest struct {
	ChartType string           `json:"chartType"`
	XAxis     string           `json:"xAxis"`
	YAxis     string           `json:"yAxis"`
	ColorBy   string           `json:"colorBy,omitempty"`
	Data      []map[string]any `json:"data"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Format    string           `json:"format"`
}

// Chart is a rendered image. Image is a data URL for png, or the raw
// document for svg.
type Chart struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

// ChartRenderer draws a chart.
type ChartRenderer interface {
	Render(ctx context.Context, req ChartRequest) (*Chart, error)
}

// ChartRequestFor builds a render request for a chart step over df.
func ChartRequestFor(cfg pipeline.ChartConfig, df *frame.DataFrame) ChartRequest {
	req := ChartRequest{
		ChartType: cfg.ChartType,
		XAxis:     cfg.XAxis,
		YAxis:     cfg.YAxis,
		ColorBy:   cfg.ColorBy,
		Data:      []map[string]any{},
	}
	if df != nil && df.Rows != nil {
		req.Data = df.Rows
	}
	return req
}

var (
	// ErrInvalidResponse marks a remote answer that does not have the
	// expected shape. Errors carrying it are also proposal rejections.
	ErrInvalidResponse = errors.New("assist: invalid response")
	// ErrStale is returned when a response arrives after a newer request
	// was issued for the same slot.
	ErrStale = errors.New("assist: stale response")
)

// TransportError is a failed remote call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %w", ErrInvalidResponse, &reconcile.Error{Reason: reason})
}
