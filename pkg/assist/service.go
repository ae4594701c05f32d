package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/llm"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
)

// DefaultImportExplanation is used when an import carries no explanation.
const DefaultImportExplanation = "Imported from script"

const systemPrompt = `You design data pipelines over pandas DataFrames.
Step kinds and their config fields:
- dataSource: fileName
- filter: column, operator (eq|neq|gt|lt|contains|startsWith), value
- groupBy: groupByColumn, aggregateColumn, aggregation (sum|avg|count|min|max)
- sort: column, direction (asc|desc)
- select: columns (list)
- computedColumn: newColumnName, expression (pandas expression using df)
- reshape: keyColumn, valueColumn, pivotColumns (list)
- chart: chartType (bar|line|area|scatter|pie), xAxis, yAxis, colorBy
Use only column names that exist at each step.`

const explainPrompt = `Explain in two or three plain sentences what this pipeline step does to the data. Do not repeat the configuration verbatim.`

// Service implements the remote contracts over a model client. Structured
// answers are obtained through a forced tool call and validated against
// the tool's schema before use.
type Service struct {
	Client    llm.Client
	MaxTokens int
	Logger    *slog.Logger
}

// NewService returns a Service using client.
func NewService(client llm.Client) *Service {
	return &Service{Client: client}
}

var (
	_ PipelineGenerator = (*Service)(nil)
	_ Explainer         = (*Service)(nil)
	_ ScriptImporter    = (*Service)(nil)
	_ SelectionEditor   = (*Service)(nil)
)

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Generate implements PipelineGenerator.
func (s *Service) Generate(ctx context.Context, prompt string, schema []frame.Column) (*reconcile.Proposal, error) {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n")
	writeSchema(&sb, schema)
	raw, err := s.callTool(ctx, "generate", proposeTool, sb.String())
	if err != nil {
		return nil, err
	}
	return decodeProposal(raw)
}

// ImportScript implements ScriptImporter by asking the model. Use
// ImportFromScript to try the local parser first.
func (s *Service) ImportScript(ctx context.Context, source string) (*reconcile.Proposal, error) {
	prompt := "Convert this pandas script into pipeline steps.\n\n```python\n" + source + "\n```"
	raw, err := s.callTool(ctx, "import", importTool, prompt)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Pipeline json.RawMessage `json:"pipeline"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, invalid("import: %v", err)
	}
	p, err := decodeProposal(wire.Pipeline)
	if err != nil {
		return nil, err
	}
	if p.Explanation == "" {
		p.Explanation = DefaultImportExplanation
	}
	return p, nil
}

// Explain implements Explainer with a plain text completion.
func (s *Service) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	cfg, err := json.Marshal(req.Config)
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step: %s\nConfig: %s\n", req.Kind.DisplayName(), cfg)
	if req.InputRows != nil {
		fmt.Fprintf(&sb, "Rows in: %d\n", *req.InputRows)
	}
	if req.OutputRows != nil {
		fmt.Fprintf(&sb, "Rows out: %d\n", *req.OutputRows)
	}
	resp, err := s.complete(ctx, "explain", llm.Request{
		System:   systemPrompt + "\n\n" + explainPrompt,
		Messages: []llm.Message{llm.TextMessage(llm.RoleUser, sb.String())},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", invalid("explain: empty answer")
	}
	return text, nil
}

// EditSelected implements SelectionEditor. Updates for nodes outside the
// selection reject the whole answer.
func (s *Service) EditSelected(ctx context.Context, req EditRequest) (map[string]reconcile.Update, error) {
	kinds := make(map[string]pipeline.Kind, len(req.Nodes))
	var sb strings.Builder
	sb.WriteString("Selected nodes:\n")
	for _, n := range req.Nodes {
		kinds[n.ID] = n.Kind
		cfg, err := json.Marshal(n.EffectiveConfig())
		if err != nil {
			return nil, fmt.Errorf("edit: %w", err)
		}
		fmt.Fprintf(&sb, "- id %s, kind %s, config %s\n", n.ID, n.Kind, cfg)
		if n.OverrideCode != "" {
			fmt.Fprintf(&sb, "  custom code: %s\n", n.OverrideCode)
		}
	}
	sb.WriteString("\n")
	writeSchema(&sb, req.Schema)
	if req.Context != "" {
		sb.WriteString("\nCurrent pipeline:\n```python\n" + req.Context + "\n```\n")
	}
	sb.WriteString("\nRequest: " + req.Prompt)

	raw, err := s.callTool(ctx, "edit", editTool, sb.String())
	if err != nil {
		return nil, err
	}
	var wire struct {
		Updates map[string]struct {
			Config       json.RawMessage `json:"config"`
			OverrideCode *string         `json:"overrideCode"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, invalid("edit: %v", err)
	}
	out := make(map[string]reconcile.Update, len(wire.Updates))
	for id, u := range wire.Updates {
		kind, ok := kinds[id]
		if !ok {
			return nil, invalid("edit: update for unselected node %q", id)
		}
		var up reconcile.Update
		if len(u.Config) > 0 {
			cfg, err := pipeline.DecodeConfig(kind, u.Config)
			if err != nil {
				return nil, invalid("edit node %q: %v", id, err)
			}
			up.Config = cfg
		}
		up.OverrideCode = u.OverrideCode
		out[id] = up
	}
	return out, nil
}

func (s *Service) callTool(ctx context.Context, op string, tool *structuredTool, prompt string) (json.RawMessage, error) {
	resp, err := s.complete(ctx, op, llm.Request{
		System:    systemPrompt,
		Messages:  []llm.Message{llm.TextMessage(llm.RoleUser, prompt)},
		Tools:     []llm.Tool{tool.Tool},
		ForceTool: tool.Name,
	})
	if err != nil {
		return nil, err
	}
	call, ok := resp.ToolCall(tool.Name)
	if !ok {
		return nil, invalid("%s: model did not call %s", op, tool.Name)
	}
	if err := tool.validate(call.Input); err != nil {
		return nil, err
	}
	return call.Input, nil
}

func (s *Service) complete(ctx context.Context, op string, req llm.Request) (llm.Response, error) {
	req.MaxTokens = s.MaxTokens
	resp, err := s.Client.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{}, &TransportError{Op: op, Err: err}
	}
	s.logger().Debug("assist call", "op", op,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp, nil
}

type wireNode struct {
	Kind         pipeline.Kind   `json:"kind"`
	Config       json.RawMessage `json:"config"`
	Label        string          `json:"label"`
	OverrideCode string          `json:"overrideCode"`
}

type wireProposal struct {
	Nodes       []wireNode `json:"nodes"`
	Explanation string     `json:"explanation"`
}

func decodeProposal(raw json.RawMessage) (*reconcile.Proposal, error) {
	var w wireProposal
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, invalid("proposal: %v", err)
	}
	if w.Nodes == nil {
		return nil, invalid("proposal has no node list")
	}
	p := &reconcile.Proposal{Nodes: make([]reconcile.ProposedNode, 0, len(w.Nodes)), Explanation: w.Explanation}
	for i, n := range w.Nodes {
		if !n.Kind.IsDataKind() {
			return nil, invalid("step %d: kind %q is not a pipeline kind", i, n.Kind)
		}
		cfg, err := pipeline.DecodeConfig(n.Kind, n.Config)
		if err != nil {
			return nil, invalid("step %d: %v", i, err)
		}
		p.Nodes = append(p.Nodes, reconcile.ProposedNode{
			Kind:         n.Kind,
			Config:       cfg,
			Label:        n.Label,
			OverrideCode: n.OverrideCode,
		})
	}
	return p, nil
}

func writeSchema(sb *strings.Builder, schema []frame.Column) {
	if len(schema) == 0 {
		sb.WriteString("No data is loaded yet.\n")
		return
	}
	sb.WriteString("Available columns:\n")
	for _, c := range schema {
		fmt.Fprintf(sb, "- %s (%s)\n", c.Name, c.Type)
	}
}

// ImportFromScript converts a script into a proposal. The local parser is
// tried first; the importer is consulted only for scripts it cannot fully
// recognise. A nil importer keeps whatever the parser found.
func ImportFromScript(ctx context.Context, importer ScriptImporter, source string) (*reconcile.Proposal, error) {
	res := codegen.ParseScript(source)
	if !res.Fallback || importer == nil {
		if len(res.Steps) == 0 {
			return nil, &reconcile.Error{Reason: "script contains no recognisable pipeline steps"}
		}
		return reconcile.ProposalFromSteps(res.Steps, DefaultImportExplanation), nil
	}
	p, err := importer.ImportScript(ctx, source)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, invalid("import returned no pipeline")
	}
	if p.Explanation == "" {
		p.Explanation = DefaultImportExplanation
	}
	return p, nil
}
