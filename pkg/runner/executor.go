package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

var (
	// ErrIndexOutOfRange is returned when a run targets a step past the end
	// of the ordered pipeline.
	ErrIndexOutOfRange = errors.New("runner: step index out of range")
	// ErrNeedsConfirmation is returned when a proposed step with incomplete
	// configuration lies inside the requested range.
	ErrNeedsConfirmation = errors.New("runner: proposed step needs configuration")
	// ErrSuperseded is returned by a run whose results were dropped because
	// a newer run started before it finished.
	ErrSuperseded = errors.New("runner: superseded by a newer run")
)

// StepHandler computes the output of one pipeline step from its input.
// input is nil for the first step.
type StepHandler interface {
	Step(ctx context.Context, node pipeline.Node, input *frame.DataFrame) (*frame.DataFrame, error)
}

// StepFunc adapts a function to StepHandler.
type StepFunc func(ctx context.Context, node pipeline.Node, input *frame.DataFrame) (*frame.DataFrame, error)

func (f StepFunc) Step(ctx context.Context, node pipeline.Node, input *frame.DataFrame) (*frame.DataFrame, error) {
	return f(ctx, node, input)
}

// StepResult is what one step of a run produced.
type StepResult struct {
	NodeID     string
	Kind       pipeline.Kind
	InputRows  *int
	OutputRows int
	Err        string
	// ShortCircuited is set when the step saw zero input rows and was not
	// executed.
	ShortCircuited bool
}

// Report summarises a run. Steps stops at the first failure.
type Report struct {
	Steps []StepResult
	// Frame is the output of the last successful step.
	Frame *frame.DataFrame
}

// Failed returns the failing step, or nil when every step succeeded.
func (r *Report) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != "" {
			return &r.Steps[i]
		}
	}
	return nil
}

// Executor runs pipeline prefixes step by step and records the outcome on
// the graph. Only the most recently started run writes its results back.
type Executor struct {
	Graph  *pipeline.Graph
	Cache  *pipeline.OutputCache
	Runner Runner
	Logger *slog.Logger

	// Handlers overrides the step handler for a kind.
	Handlers map[pipeline.Kind]StepHandler

	mu  sync.Mutex
	seq uint64
}

// NewExecutor creates an Executor over a graph and its output cache.
func NewExecutor(g *pipeline.Graph, cache *pipeline.OutputCache, r Runner) *Executor {
	return &Executor{Graph: g, Cache: cache, Runner: r}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) handler(kind pipeline.Kind) StepHandler {
	if h, ok := e.Handlers[kind]; ok {
		return h
	}
	switch kind {
	case pipeline.KindSource:
		return StepFunc(e.sourceStep)
	case pipeline.KindChart:
		return StepFunc(passThrough)
	default:
		return StepFunc(e.codeStep)
	}
}

func (e *Executor) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// RunUpTo executes the ordered pipeline steps 0..index. Proposed steps in
// range with complete configuration are confirmed first. A step failure is
// recorded on its node and also returned as an error wrapping the
// *ExecutionError; the report is returned either way.
func (e *Executor) RunUpTo(ctx context.Context, index int) (*Report, error) {
	nodes, edges := e.Graph.Snapshot()
	ordered := pipeline.OrderedPipeline(nodes, edges)
	if index < 0 || index >= len(ordered) {
		return nil, fmt.Errorf("run up to %d of %d steps: %w", index, len(ordered), ErrIndexOutOfRange)
	}
	steps := ordered[:index+1]

	var proposed []string
	for _, n := range steps {
		if n.State != pipeline.StateProposed {
			continue
		}
		if strings.TrimSpace(n.OverrideCode) == "" && len(n.EffectiveConfig().Missing()) > 0 {
			return nil, fmt.Errorf("step %q: %w", n.DisplayLabel(), ErrNeedsConfirmation)
		}
		proposed = append(proposed, n.ID)
	}
	if len(proposed) > 0 {
		e.Graph.ConfirmProposals(proposed...)
	}

	ids := pipeline.OrderedIDs(nodes, edges)[:index+1]
	prev, err := e.Graph.MarkRunning(ids)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	token := e.begin()
	restore := make(map[string]pipeline.State, len(prev))
	for id, st := range prev {
		// A node left running by an overtaken run has nothing to go back to.
		if st == pipeline.StateRunning {
			st = pipeline.StateConfirmed
		}
		restore[id] = st
	}

	report := &Report{}
	outputs := make(map[string]*frame.DataFrame, len(steps))
	var input *frame.DataFrame
	var failure error
	for i, n := range steps {
		select {
		case <-ctx.Done():
			e.abort(token, restore)
			return report, fmt.Errorf("run cancelled at step %d: %w", i, ctx.Err())
		default:
		}

		res := StepResult{NodeID: n.ID, Kind: n.Kind}
		if input != nil {
			rows := input.Len()
			res.InputRows = &rows
		}

		var out *frame.DataFrame
		if emptyInput(input) {
			res.ShortCircuited = true
			out = input.WithSchemaOnly()
		} else {
			e.logger().Info("executing node", "node", n.ID, "kind", n.Kind, "step", i)
			out, err = e.handler(n.Kind).Step(ctx, n, input)
			if err != nil {
				var execErr *ExecutionError
				if !errors.As(err, &execErr) {
					if ctx.Err() != nil {
						e.abort(token, restore)
						return report, fmt.Errorf("run cancelled at step %d: %w", i, ctx.Err())
					}
					execErr = &ExecutionError{Message: err.Error()}
				}
				res.Err = execErr.Message
				report.Steps = append(report.Steps, res)
				failure = fmt.Errorf("step %q: %w", n.DisplayLabel(), execErr)
				e.logger().Warn("node failed", "node", n.ID, "error", execErr.Message)
				break
			}
		}
		res.OutputRows = out.Len()
		report.Steps = append(report.Steps, res)
		outputs[n.ID] = out
		report.Frame = out
		input = out
	}

	if !e.commit(token, report, outputs, restore) {
		return report, ErrSuperseded
	}
	return report, failure
}

// commit writes a run's results back if it is still the newest run.
func (e *Executor) commit(token uint64, report *Report, outputs map[string]*frame.DataFrame, restore map[string]pipeline.State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token != e.seq {
		e.logger().Debug("dropping superseded run", "run", token, "latest", e.seq)
		return false
	}
	records := make([]pipeline.RunRecord, 0, len(report.Steps))
	for _, s := range report.Steps {
		out := s.OutputRows
		rec := pipeline.RunRecord{NodeID: s.NodeID, Err: s.Err, InputRows: s.InputRows}
		if s.Err == "" {
			rec.OutputRows = &out
			if e.Cache != nil {
				e.Cache.Put(s.NodeID, outputs[s.NodeID])
			}
		}
		records = append(records, rec)
	}
	e.Graph.RecordRun(records, restore)
	return true
}

// abort puts nodes back to their previous states unless a newer run owns
// them.
func (e *Executor) abort(token uint64, restore map[string]pipeline.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token == e.seq {
		e.Graph.RecordRun(nil, restore)
	}
}

// RunScript executes the browser-safe script for steps 0..index in one
// interpreter call. Source steps start from empty frames carrying the
// cached column names. The graph is not modified.
func (e *Executor) RunScript(ctx context.Context, index int) (*Result, error) {
	nodes, edges := e.Graph.Snapshot()
	cells := codegen.BuildCells(nodes, edges)
	if index < 0 || index >= len(cells) {
		return nil, fmt.Errorf("run script up to %d of %d steps: %w", index, len(cells), ErrIndexOutOfRange)
	}
	columns := make(map[string][]string)
	if e.Cache != nil {
		for _, c := range cells {
			id, ok := c.NodeID()
			if !ok || c.Kind != pipeline.KindSource {
				continue
			}
			if df, ok := e.Cache.Get(id); ok {
				columns[id] = df.ColumnNames()
			}
		}
	}
	script := codegen.Assemble(cells, codegen.Policy{UpTo: &index, BrowserSafe: true, Columns: columns})
	return e.Runner.Run(ctx, WithEpilogue(script))
}

// RunCell executes one piece of code against input and returns the
// resulting frame. It is used for draft cells, which have no node yet.
// An input with no rows is returned schema-only without running code.
func (e *Executor) RunCell(ctx context.Context, input *frame.DataFrame, code string) (*frame.DataFrame, error) {
	return e.runCode(ctx, input, code)
}

func (e *Executor) sourceStep(_ context.Context, n pipeline.Node, _ *frame.DataFrame) (*frame.DataFrame, error) {
	if e.Cache != nil {
		if df, ok := e.Cache.Get(n.ID); ok {
			return df, nil
		}
	}
	cfg, _ := n.EffectiveConfig().(pipeline.SourceConfig)
	return frame.Empty(cfg.Columns), nil
}

func (e *Executor) codeStep(ctx context.Context, n pipeline.Node, input *frame.DataFrame) (*frame.DataFrame, error) {
	return e.runCode(ctx, input, codegen.Generate(n))
}

func (e *Executor) runCode(ctx context.Context, input *frame.DataFrame, code string) (*frame.DataFrame, error) {
	if emptyInput(input) {
		return input.WithSchemaOnly(), nil
	}
	if e.Runner == nil {
		return nil, errors.New("runner: no interpreter configured")
	}
	seed, err := Seed(input)
	if err != nil {
		return nil, err
	}
	res, err := e.Runner.Run(ctx, WithEpilogue(seed+"\n"+code))
	if err != nil {
		return nil, err
	}
	if res.Frame == nil {
		return nil, &ExecutionError{Message: "script produced no result frame"}
	}
	return res.Frame, nil
}

// emptyInput reports whether a step would receive a frame with no rows.
// Such steps skip the interpreter and yield the input schema.
func emptyInput(input *frame.DataFrame) bool {
	return input != nil && input.Len() == 0
}

// passThrough forwards its input. Charts are drawn by a ChartRenderer, not
// the interpreter, so they leave the frame unchanged.
func passThrough(_ context.Context, _ pipeline.Node, input *frame.DataFrame) (*frame.DataFrame, error) {
	if input == nil {
		return frame.Empty(nil), nil
	}
	return input, nil
}
