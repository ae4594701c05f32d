package assist_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/llm"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
)

// toolClient answers every request with one call of the forced tool.
func toolClient(t *testing.T, input string, seen *llm.Request) llm.Client {
	t.Helper()
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		if seen != nil {
			*seen = req
		}
		return llm.Response{
			Content: []llm.ContentBlock{{
				Type:    llm.ContentTypeToolUse,
				ToolUse: &llm.ToolUse{ID: "call_1", Name: req.ForceTool, Input: json.RawMessage(input)},
			}},
			StopReason: llm.StopReasonToolUse,
		}, nil
	})
}

func TestService_Generate(t *testing.T) {
	var seen llm.Request
	svc := assist.NewService(toolClient(t, `{
		"nodes": [
			{"kind": "dataSource", "config": {"fileName": "sales.csv"}},
			{"kind": "filter", "config": {"column": "amount", "operator": "gt", "value": 100}},
			{"kind": "chart", "config": {"chartType": "bar", "xAxis": "region", "yAxis": "amount"}}
		],
		"explanation": "Big sales by region"
	}`, &seen))

	p, err := svc.Generate(context.Background(), "show big sales", []frame.Column{{Name: "amount", Type: frame.TypeNumber}})
	require.NoError(t, err)
	assert.Equal(t, "propose_pipeline", seen.ForceTool)
	require.Len(t, seen.Tools, 1)
	assert.Contains(t, seen.Messages[0].Content[0].Text, "amount (number)")

	require.Len(t, p.Nodes, 3)
	assert.Equal(t, "Big sales by region", p.Explanation)
	assert.Equal(t, pipeline.FilterConfig{Column: "amount", Operator: pipeline.OpGt, Value: "100"}, p.Nodes[1].Config)
	assert.Equal(t, pipeline.KindChart, p.Nodes[2].Kind)
}

func TestService_RejectsMalformedAnswers(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing nodes", `{"explanation": "nothing"}`},
		{"unknown kind", `{"nodes": [{"kind": "pivot"}]}`},
		{"advisory kind", `{"nodes": [{"kind": "note"}]}`},
		{"config not an object", `{"nodes": [{"kind": "sort", "config": "column=a"}]}`},
		{"not json", `{"nodes": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := assist.NewService(toolClient(t, tt.input, nil)).Generate(context.Background(), "x", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, assist.ErrInvalidResponse)
			assert.True(t, reconcile.IsRejection(err))
		})
	}
}

func TestService_NoToolCall(t *testing.T) {
	client := llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Content: []llm.ContentBlock{{Type: llm.ContentTypeText, Text: "sure"}}}, nil
	})
	_, err := assist.NewService(client).Generate(context.Background(), "x", nil)
	assert.ErrorIs(t, err, assist.ErrInvalidResponse)
}

func TestService_TransportError(t *testing.T) {
	cause := llm.FromStatus(503, "overloaded", nil)
	client := llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, cause
	})
	_, err := assist.NewService(client).Generate(context.Background(), "x", nil)
	var te *assist.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "generate", te.Op)
	assert.ErrorIs(t, err, cause)
	assert.False(t, reconcile.IsRejection(err))
}

func TestService_ImportScriptDefaultsExplanation(t *testing.T) {
	var seen llm.Request
	svc := assist.NewService(toolClient(t, `{"pipeline": {"nodes": [{"kind": "dataSource", "config": {"fileName": "a.csv"}}]}}`, &seen))
	p, err := svc.ImportScript(context.Background(), "df = load()")
	require.NoError(t, err)
	assert.Equal(t, "import_pipeline", seen.ForceTool)
	assert.Equal(t, assist.DefaultImportExplanation, p.Explanation)
	require.Len(t, p.Nodes, 1)

	_, err = assist.NewService(toolClient(t, `{"pipeline": {}}`, nil)).ImportScript(context.Background(), "x")
	assert.ErrorIs(t, err, assist.ErrInvalidResponse)
}

type countingImporter struct {
	calls atomic.Int32
	p     *reconcile.Proposal
}

func (c *countingImporter) ImportScript(context.Context, string) (*reconcile.Proposal, error) {
	c.calls.Add(1)
	return c.p, nil
}

func TestImportFromScript(t *testing.T) {
	imp := &countingImporter{p: &reconcile.Proposal{Nodes: []reconcile.ProposedNode{{Kind: pipeline.KindCompute}}}}

	p, err := assist.ImportFromScript(context.Background(), imp, "import pandas as pd\ndf = pd.read_csv(\"a.csv\")\ndf = df.sort_values(\"x\")\n")
	require.NoError(t, err)
	assert.Zero(t, imp.calls.Load(), "recognised scripts stay local")
	require.Len(t, p.Nodes, 2)
	assert.Equal(t, assist.DefaultImportExplanation, p.Explanation)

	p, err = assist.ImportFromScript(context.Background(), imp, "df = pd.read_csv(\"a.csv\")\ndf = df.dropna()\n")
	require.NoError(t, err)
	assert.Equal(t, int32(1), imp.calls.Load())
	assert.Equal(t, assist.DefaultImportExplanation, p.Explanation)
	assert.Equal(t, pipeline.KindCompute, p.Nodes[0].Kind)

	_, err = assist.ImportFromScript(context.Background(), nil, "print('hi')")
	assert.True(t, reconcile.IsRejection(err))
}

func TestService_EditSelected(t *testing.T) {
	var seen llm.Request
	svc := assist.NewService(toolClient(t, `{"updates": {
		"f1": {"config": {"column": "region", "operator": "eq", "value": "west"}},
		"s1": {"overrideCode": "df = df.sort_index()"}
	}}`, &seen))
	nodes := []pipeline.Node{
		{ID: "f1", Kind: pipeline.KindFilter, Config: pipeline.FilterConfig{Column: "region"}},
		{ID: "s1", Kind: pipeline.KindSort},
	}
	updates, err := svc.EditSelected(context.Background(), assist.EditRequest{Nodes: nodes, Prompt: "only west", Context: "df = df"})
	require.NoError(t, err)
	assert.Equal(t, "update_nodes", seen.ForceTool)
	assert.Contains(t, seen.Messages[0].Content[0].Text, "id f1, kind filter")
	assert.Contains(t, seen.Messages[0].Content[0].Text, "only west")

	require.Len(t, updates, 2)
	assert.Equal(t, pipeline.FilterConfig{Column: "region", Operator: pipeline.OpEq, Value: "west"}, updates["f1"].Config)
	assert.Nil(t, updates["f1"].OverrideCode)
	require.NotNil(t, updates["s1"].OverrideCode)
	assert.Equal(t, "df = df.sort_index()", *updates["s1"].OverrideCode)

	bad := assist.NewService(toolClient(t, `{"updates": {"zz": {"overrideCode": "x"}}}`, nil))
	_, err = bad.EditSelected(context.Background(), assist.EditRequest{Nodes: nodes})
	assert.ErrorIs(t, err, assist.ErrInvalidResponse)
}

func TestService_Explain(t *testing.T) {
	var seen llm.Request
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		seen = req
		return llm.Response{Content: []llm.ContentBlock{{Type: llm.ContentTypeText, Text: "  Keeps rows over 100.\n"}}}, nil
	})
	in, out := 10, 4
	text, err := assist.NewService(client).Explain(context.Background(), assist.ExplainRequest{
		Kind:       pipeline.KindFilter,
		Config:     pipeline.FilterConfig{Column: "amount", Operator: pipeline.OpGt, Value: "100"},
		InputRows:  &in,
		OutputRows: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "Keeps rows over 100.", text)
	assert.Empty(t, seen.ForceTool)
	msg := seen.Messages[0].Content[0].Text
	assert.True(t, strings.Contains(msg, "Rows in: 10") && strings.Contains(msg, "Rows out: 4"))

	empty := llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) { return llm.Response{}, nil })
	_, err = assist.NewService(empty).Explain(context.Background(), assist.ExplainRequest{Kind: pipeline.KindSort})
	assert.ErrorIs(t, err, assist.ErrInvalidResponse)
}

func TestService_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.Join(errors.New("request aborted"), ctx.Err())
	})
	_, err := assist.NewService(client).Generate(ctx, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	var te *assist.TransportError
	assert.False(t, errors.As(err, &te))
}
