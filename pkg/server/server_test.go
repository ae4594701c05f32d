package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
	"github.com/ravi-parthasarathy/convoy/pkg/server"
	"github.com/ravi-parthasarathy/convoy/pkg/store"
)

type fakeRunner struct {
	fn func(script string) (*runner.Result, error)
}

func (f fakeRunner) Run(_ context.Context, script string) (*runner.Result, error) {
	return f.fn(script)
}

type fakeGenerator struct{ p *reconcile.Proposal }

func (f fakeGenerator) Generate(context.Context, string, []frame.Column) (*reconcile.Proposal, error) {
	return f.p, nil
}

type fakeExplainer struct{ got assist.ExplainRequest }

func (f *fakeExplainer) Explain(_ context.Context, req assist.ExplainRequest) (string, error) {
	f.got = req
	return "keeps large sales", nil
}

type fakeEditor struct {
	updates map[string]reconcile.Update
	got     assist.EditRequest
}

func (f *fakeEditor) EditSelected(_ context.Context, req assist.EditRequest) (map[string]reconcile.Update, error) {
	f.got = req
	return f.updates, nil
}

func salesFrame(n int) *frame.DataFrame {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"region": "north", "amount": float64(i)}
	}
	df, _ := frame.New([]frame.Column{{Name: "region", Type: frame.TypeString}, {Name: "amount", Type: frame.TypeNumber}}, rows)
	return df
}

type harness struct {
	t   *testing.T
	srv *server.Server
}

func newHarness(t *testing.T, opts server.Options) *harness {
	t.Helper()
	if opts.Sessions == nil {
		opts.Sessions = server.NewSessions(store.NewMemory(), fakeRunner{fn: func(string) (*runner.Result, error) {
			return &runner.Result{Frame: salesFrame(2)}, nil
		}})
	}
	return &harness{t: t, srv: server.New(opts)}
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var r io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
		contentType = "text/plain"
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.srv.App().Test(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	} else if len(raw) > 0 {
		out["text"] = string(raw)
	}
	return resp.StatusCode, out
}

func (h *harness) create() string {
	h.t.Helper()
	code, body := h.do(http.MethodPost, "/pipelines", map[string]any{"name": "sales"})
	require.Equal(h.t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func (h *harness) addNode(pid string, node map[string]any) string {
	h.t.Helper()
	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/nodes", node)
	require.Equal(h.t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func (h *harness) addEdge(pid, from, to string) (int, map[string]any) {
	h.t.Helper()
	return h.do(http.MethodPost, "/pipelines/"+pid+"/edges", map[string]any{"source": from, "target": to})
}

// chain builds source -> filter and loads three rows into the source.
func (h *harness) chain(pid string) (string, string) {
	h.t.Helper()
	src := h.addNode(pid, map[string]any{"kind": "dataSource", "config": map[string]any{"fileName": "sales.csv"}})
	flt := h.addNode(pid, map[string]any{
		"kind":   "filter",
		"config": map[string]any{"column": "amount", "operator": "gt", "value": "0"},
	})
	code, body := h.addEdge(pid, src, flt)
	require.Equal(h.t, http.StatusCreated, code, body)
	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/data/"+src, salesFrame(3))
	require.Equal(h.t, http.StatusOK, code, body)
	return src, flt
}

func TestPipelineLifecycle(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()

	code, body := h.do(http.MethodGet, "/pipelines", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["pipelines"], 1)

	code, body = h.do(http.MethodGet, "/pipelines/"+pid, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sales", body["document"].(map[string]any)["name"])

	code, _ = h.do(http.MethodDelete, "/pipelines/"+pid, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, body = h.do(http.MethodGet, "/pipelines/"+pid, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])
}

func TestGraphRoutes(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	src, flt := h.chain(pid)

	code, body := h.do(http.MethodGet, "/pipelines/"+pid, nil)
	require.Equal(t, http.StatusOK, code)
	doc := body["document"].(map[string]any)
	assert.Len(t, doc["nodes"], 2)
	assert.Len(t, doc["edges"], 1)
	assert.Empty(t, body["lint"])

	code, body = h.addEdge(pid, flt, src)
	assert.Equal(t, http.StatusUnprocessableEntity, code, body)
	code, _ = h.addEdge(pid, src, src)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = h.do(http.MethodPatch, "/pipelines/"+pid+"/nodes/"+flt, map[string]any{
		"label":  "Big sales",
		"config": map[string]any{"column": "amount", "operator": "gt", "value": "1"},
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Big sales", body["label"])
	assert.Equal(t, "1", body["config"].(map[string]any)["value"])

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/nodes", map[string]any{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/data/"+flt, salesFrame(1))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodDelete, "/pipelines/"+pid+"/nodes/"+flt, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(http.MethodDelete, "/pipelines/"+pid+"/nodes/"+flt, nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, body = h.do(http.MethodGet, "/pipelines/"+pid, nil)
	doc = body["document"].(map[string]any)
	assert.Len(t, doc["nodes"], 1)
	assert.Empty(t, doc["edges"])
}

func TestCodeRoutes(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	_, flt := h.chain(pid)

	code, body := h.do(http.MethodGet, "/pipelines/"+pid+"/cells", nil)
	require.Equal(t, http.StatusOK, code)
	cells := body["cells"].([]any)
	require.Len(t, cells, 2)
	assert.Equal(t, "node:"+flt, cells[1].(map[string]any)["ref"])

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/script", nil)
	require.Equal(t, http.StatusOK, code)
	script := body["text"].(string)
	assert.Contains(t, script, "read_csv(")

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/script?policy=browser", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body["text"], "read_csv(")

	code, _ = h.do(http.MethodGet, "/pipelines/"+pid+"/script?policy=prefix", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodGet, "/pipelines/"+pid+"/script?policy=nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/notebook", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "cells")

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/clipboard", nil)
	require.Equal(t, http.StatusOK, code)
	clip := body["text"].(string)
	assert.True(t, strings.HasPrefix(clip, "# %% [1] "), clip)

	edited := strings.Replace(clip, `df["amount"] > 0`, `df["amount"] > 5`, 1)
	require.NotEqual(t, clip, edited)
	code, body = h.do(http.MethodPut, "/pipelines/"+pid+"/clipboard", edited)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []any{flt}, body["changed"])

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/cells", nil)
	require.Equal(t, http.StatusOK, code)
	filter := body["cells"].([]any)[1].(map[string]any)
	assert.True(t, filter["overridden"].(bool))
	assert.Contains(t, filter["code"], "> 5")

	code, _ = h.do(http.MethodPut, "/pipelines/"+pid+"/clipboard", "# %% [1] Only\ndf = 1\n")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestRun(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	_, flt := h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/run", nil)
	require.Equal(t, http.StatusOK, code, body)
	steps := body["steps"].([]any)
	require.Len(t, steps, 2)
	last := steps[1].(map[string]any)
	assert.Equal(t, flt, last["nodeId"])
	assert.EqualValues(t, 3, last["inputRowCount"])
	assert.EqualValues(t, 2, last["outputRowCount"])

	_, body = h.do(http.MethodGet, "/pipelines/"+pid, nil)
	for _, n := range body["document"].(map[string]any)["nodes"].([]any) {
		node := n.(map[string]any)
		if node["id"] == flt {
			assert.EqualValues(t, 2, node["outputRowCount"])
		}
	}

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/run?upTo=7", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/run?upTo=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRun_StepFailure(t *testing.T) {
	sessions := server.NewSessions(store.NewMemory(), fakeRunner{fn: func(string) (*runner.Result, error) {
		return nil, &runner.ExecutionError{Message: "KeyError: 'amount'"}
	}})
	h := newHarness(t, server.Options{Sessions: sessions})
	pid := h.create()
	h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["error"], "KeyError")
	steps := body["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, "KeyError: 'amount'", steps[1].(map[string]any)["error"])
}

func cellRefs(t *testing.T, h *harness, pid string) []string {
	t.Helper()
	code, body := h.do(http.MethodGet, "/pipelines/"+pid+"/cells", nil)
	require.Equal(t, http.StatusOK, code, body)
	var refs []string
	for _, c := range body["cells"].([]any) {
		refs = append(refs, c.(map[string]any)["ref"].(string))
	}
	return refs
}

func TestDrafts_RunPromotes(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	_, flt := h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/drafts", map[string]any{"code": "df = df.head(1)"})
	require.Equal(t, http.StatusCreated, code, body)
	ref := body["ref"].(string)
	assert.True(t, body["draft"].(bool))
	id := strings.TrimPrefix(ref, "draft:")

	code, body = h.do(http.MethodPatch, "/pipelines/"+pid+"/drafts/"+id, map[string]any{"code": `df = df.sort_values("amount", ascending=False)`})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, `df = df.sort_values("amount", ascending=False)`, body["code"])
	assert.Len(t, cellRefs(t, h, pid), 3)

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/"+id+"/run", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.NotNil(t, body["frame"])
	node := body["node"].(map[string]any)
	assert.Equal(t, "sort", node["kind"])
	assert.Equal(t, "confirmed", node["state"])
	assert.EqualValues(t, 2, node["outputRowCount"])

	refs := cellRefs(t, h, pid)
	require.Len(t, refs, 3)
	for _, r := range refs {
		assert.False(t, strings.HasPrefix(r, "draft:"), r)
	}
	assert.Equal(t, "node:"+flt, refs[1])
	assert.Equal(t, "node:"+node["id"].(string), refs[2])

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/"+id+"/run", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/"+id+"/promote", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPatch, "/pipelines/"+pid+"/drafts/missing", map[string]any{"code": "x = 1"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDrafts_FailedRunKeepsDraft(t *testing.T) {
	sessions := server.NewSessions(store.NewMemory(), fakeRunner{fn: func(string) (*runner.Result, error) {
		return nil, &runner.ExecutionError{Message: "NameError: name 'x' is not defined"}
	}})
	h := newHarness(t, server.Options{Sessions: sessions})
	pid := h.create()
	h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/drafts", map[string]any{"code": "df = x"})
	require.Equal(t, http.StatusCreated, code, body)
	ref := body["ref"].(string)

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/"+strings.TrimPrefix(ref, "draft:")+"/run", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/cells", nil)
	require.Equal(t, http.StatusOK, code)
	cells := body["cells"].([]any)
	require.Len(t, cells, 3)
	last := cells[2].(map[string]any)
	assert.Equal(t, ref, last["ref"])
	assert.Equal(t, "NameError: name 'x' is not defined", last["error"])
}

func TestDrafts_Promote(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/drafts", map[string]any{"code": "df = df.head(1)"})
	require.Equal(t, http.StatusCreated, code, body)
	id := strings.TrimPrefix(body["ref"].(string), "draft:")

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/"+id+"/promote", map[string]any{
		"kind":   "sort",
		"config": map[string]any{"column": "amount"},
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "sort", body["kind"])
	assert.Equal(t, "df = df.head(1)", body["overrideCode"])

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/drafts/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestImportDrafts(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()

	var ids []string
	for _, src := range []string{`df = pd.read_csv("sales.csv")`, `df = df.sort_values("amount")`} {
		code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/drafts", map[string]any{"code": src})
		require.Equal(t, http.StatusCreated, code, body)
		ids = append(ids, strings.TrimPrefix(body["ref"].(string), "draft:"))
	}
	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/drafts", map[string]any{"code": "df = df.head(3)"})
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/import", map[string]any{"script": "x", "drafts": ids})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/import", map[string]any{"drafts": ids})
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["created"], 2)

	refs := cellRefs(t, h, pid)
	require.Len(t, refs, 3)
	assert.True(t, strings.HasPrefix(refs[2], "draft:"))
	for _, id := range ids {
		assert.NotContains(t, refs, "draft:"+id)
	}
}

func TestProposals(t *testing.T) {
	gen := fakeGenerator{p: &reconcile.Proposal{
		Nodes: []reconcile.ProposedNode{
			{Kind: pipeline.KindSource, Config: pipeline.SourceConfig{FileName: "sales.csv"}},
			{Kind: pipeline.KindSort, Config: pipeline.SortConfig{Column: "amount", Direction: pipeline.DirDesc}},
		},
		Explanation: "sorted sales",
	}}
	h := newHarness(t, server.Options{Generator: gen})
	pid := h.create()

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/proposals", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/proposals", map[string]any{"prompt": "sort sales by amount"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "sorted sales", body["explanation"])
	assert.Len(t, body["created"], 2)
	for _, n := range body["document"].(map[string]any)["nodes"].([]any) {
		assert.Equal(t, "proposed", n.(map[string]any)["state"])
	}

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/proposals/confirm", map[string]any{})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["confirmed"], 2)

	code, body = h.do(http.MethodDelete, "/pipelines/"+pid+"/proposals", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["removed"])
}

func TestImportScript_LocalParse(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/import", map[string]any{
		"script": "import pandas as pd\ndf = pd.read_csv(\"sales.csv\")\ndf = df.sort_values(\"amount\")\n",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, assist.DefaultImportExplanation, body["explanation"])
	assert.Len(t, body["created"], 2)

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/import", map[string]any{"script": "print('hi')\n"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestAssistRoutesUnavailable(t *testing.T) {
	h := newHarness(t, server.Options{})
	pid := h.create()
	src, _ := h.chain(pid)

	code, _ := h.do(http.MethodPost, "/pipelines/"+pid+"/proposals", map[string]any{"prompt": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/explain/"+src, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/edit", map[string]any{"prompt": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = h.do(http.MethodGet, "/pipelines/"+pid+"/chart", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestExplain(t *testing.T) {
	ex := &fakeExplainer{}
	h := newHarness(t, server.Options{Explainer: ex})
	pid := h.create()
	_, flt := h.chain(pid)

	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/explain/"+flt, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "keeps large sales", body["explanation"])
	assert.Equal(t, pipeline.KindFilter, ex.got.Kind)
	assert.Equal(t, "amount", ex.got.Config.(pipeline.FilterConfig).Column)

	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/explain/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEditSelected(t *testing.T) {
	ed := &fakeEditor{}
	h := newHarness(t, server.Options{Editor: ed})
	pid := h.create()
	_, flt := h.chain(pid)

	code, _ := h.do(http.MethodPost, "/pipelines/"+pid+"/edit", map[string]any{"prompt": "stricter"})
	assert.Equal(t, http.StatusBadRequest, code)

	ed.updates = map[string]reconcile.Update{
		flt: {Config: pipeline.FilterConfig{Column: "amount", Operator: pipeline.OpGt, Value: "100"}},
	}
	code, body := h.do(http.MethodPost, "/pipelines/"+pid+"/edit", map[string]any{"prompt": "stricter", "nodeIds": []string{flt}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, []any{flt}, body["updated"])
	assert.Equal(t, "stricter", ed.got.Prompt)
	assert.Contains(t, ed.got.Context, "read_csv(")
	require.Len(t, ed.got.Nodes, 1)

	_, body = h.do(http.MethodGet, "/pipelines/"+pid, nil)
	assert.Equal(t, []any{flt}, body["selection"])
	for _, n := range body["document"].(map[string]any)["nodes"].([]any) {
		node := n.(map[string]any)
		if node["id"] == flt {
			assert.Equal(t, "100", node["config"].(map[string]any)["value"])
		}
	}
}

type recordingRenderer struct {
	got chan assist.ChartRequest
}

func (r recordingRenderer) Render(_ context.Context, req assist.ChartRequest) (*assist.Chart, error) {
	r.got <- req
	return &assist.Chart{Image: "aW1n", Format: "png"}, nil
}

func TestChart(t *testing.T) {
	rr := recordingRenderer{got: make(chan assist.ChartRequest, 1)}
	sessions := server.NewSessions(store.NewMemory(), fakeRunner{fn: func(string) (*runner.Result, error) {
		return &runner.Result{Frame: salesFrame(2)}, nil
	}})
	sessions.Charts = rr
	sessions.Debounce = 1
	h := newHarness(t, server.Options{Sessions: sessions})
	pid := h.create()
	_, flt := h.chain(pid)
	cht := h.addNode(pid, map[string]any{
		"kind":   "chart",
		"config": map[string]any{"chartType": "bar", "xAxis": "region", "yAxis": "amount"},
	})
	code, body := h.addEdge(pid, flt, cht)
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = h.do(http.MethodGet, "/pipelines/"+pid+"/chart", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/chart/"+cht, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/chart/"+flt, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(http.MethodPost, "/pipelines/"+pid+"/run", nil)
	require.Equal(t, http.StatusOK, code, body)
	code, _ = h.do(http.MethodPost, "/pipelines/"+pid+"/chart/"+cht, nil)
	require.Equal(t, http.StatusAccepted, code)

	req := <-rr.got
	assert.Equal(t, "bar", req.ChartType)
	assert.Equal(t, "region", req.XAxis)
	require.Eventually(t, func() bool {
		code, body = h.do(http.MethodGet, "/pipelines/"+pid+"/chart", nil)
		return code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "aW1n", body["image"])
}
