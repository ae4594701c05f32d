package codegen_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

func samplePipeline() ([]pipeline.Node, []pipeline.Edge) {
	nodes := []pipeline.Node{
		{ID: "chart", Kind: pipeline.KindChart, Config: pipeline.ChartConfig{ChartType: pipeline.ChartLine, XAxis: "region", YAxis: "amount"}},
		{ID: "note", Kind: pipeline.KindNote, Config: pipeline.NoteConfig{Text: "remember"}},
		{ID: "src", Kind: pipeline.KindSource, Config: pipeline.SourceConfig{
			FileName: "sales.csv",
			Columns:  []frame.Column{{Name: "region", Type: frame.TypeString}, {Name: "amount", Type: frame.TypeNumber}},
		}},
		{ID: "big", Kind: pipeline.KindFilter, Config: pipeline.FilterConfig{Column: "amount", Operator: pipeline.OpGt, Value: "100"}},
		{ID: "grp", Kind: pipeline.KindGroupBy, Config: pipeline.GroupByConfig{GroupByColumn: "region", AggregateColumn: "amount", Aggregation: pipeline.AggSum}},
	}
	edges := []pipeline.Edge{
		{ID: "e1", From: "src", To: "big"},
		{ID: "e2", From: "big", To: "grp"},
		{ID: "e3", From: "grp", To: "chart"},
		{ID: "e4", From: "note", To: "src"},
	}
	return nodes, edges
}

func TestBuildCells_OrderAndMasking(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	var refs []string
	for _, c := range cells {
		refs = append(refs, c.Ref.Key())
	}
	assert.Equal(t, []string{"node:src", "node:big", "node:grp", "node:chart"}, refs)
}

func TestFullScript(t *testing.T) {
	assert.Equal(t, "", codegen.FullScript(nil))

	cells := codegen.BuildCells(samplePipeline())
	script := codegen.FullScript(cells)
	assert.True(t, strings.HasPrefix(script, codegen.Preamble+"\n"))
	assert.True(t, strings.HasSuffix(script, codegen.CompletionMarker+"\n"))
	assert.Contains(t, script, `pd.read_csv("sales.csv")`)
	for _, c := range cells {
		assert.Contains(t, script, c.Code)
	}
	assert.NotContains(t, script, "remember")
	assert.Less(t, strings.Index(script, "read_csv"), strings.Index(script, "groupby"))
}

func TestPrefixScript_TruncatesAfterIndex(t *testing.T) {
	cells := make([]codegen.Cell, 5)
	for i := range cells {
		cells[i] = codegen.Cell{
			Ref:   codegen.NodeRef{ID: fmt.Sprint(i)},
			Kind:  pipeline.KindCompute,
			Label: fmt.Sprintf("step %d", i),
			Code:  fmt.Sprintf("df[\"c%d\"] = %d", i, i),
		}
	}
	n := len(cells)
	prefix := codegen.PrefixScript(cells, n-2)
	for i, c := range cells {
		if i <= n-2 {
			assert.Contains(t, prefix, c.Code)
		} else {
			assert.NotContains(t, prefix, c.Code)
		}
	}
	assert.Equal(t, codegen.FullScript(cells), codegen.PrefixScript(cells, n+10))
	assert.Equal(t, "", codegen.PrefixScript(cells, -1))
}

func TestBrowserSafeScript(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	script := codegen.BrowserSafeScript(cells, nil)
	assert.NotContains(t, script, "read_csv")
	assert.Contains(t, script, `df = pd.DataFrame(columns=["region", "amount"])`)
	assert.Contains(t, script, `df = df[df["amount"] > 100]`)

	override := codegen.BrowserSafeScript(cells, map[string][]string{"src": {"only"}})
	assert.Contains(t, override, `df = pd.DataFrame(columns=["only"])`)

	src := codegen.NodeCell(pipeline.Node{ID: "s", Kind: pipeline.KindSource, Config: pipeline.SourceConfig{FileName: "x.csv"}})
	assert.Contains(t, codegen.BrowserSafeScript([]codegen.Cell{src}, nil), "df = pd.DataFrame()\n")
}

func TestAssemble_BrowserSafePrefix(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	upTo := 1
	script := codegen.Assemble(cells, codegen.Policy{UpTo: &upTo, BrowserSafe: true})
	assert.Contains(t, script, "# Convoy pipeline: 2 steps")
	assert.NotContains(t, script, "groupby")
	assert.NotContains(t, script, "read_csv")
}

func TestDiffAndEditsFromScript(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	script := codegen.FullScript(cells)
	assert.Len(t, codegen.SplitScript(script), len(cells))

	edited := strings.Replace(script, "> 100", "> 250", 1)
	changes, err := codegen.EditsFromScript(cells, edited)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, codegen.NodeRef{ID: "big"}, changes[0].Ref)
	assert.Equal(t, `df = df[df["amount"] > 250]`, changes[0].After)

	unchanged, err := codegen.EditsFromScript(cells, script)
	require.NoError(t, err)
	assert.Empty(t, unchanged)

	_, err = codegen.EditsFromScript(cells[:2], script)
	assert.ErrorIs(t, err, codegen.ErrStepMismatch)
}

func TestDiff_NewCells(t *testing.T) {
	a := codegen.Cell{Ref: codegen.NodeRef{ID: "a"}, Code: "x = 1"}
	d := codegen.NewDraft("y = 2")
	changes := codegen.Diff([]codegen.Cell{a}, []codegen.Cell{a, d})
	require.Len(t, changes, 1)
	assert.Equal(t, d.Ref, changes[0].Ref)
	assert.Equal(t, "", changes[0].Before)
}

func TestNotebook(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	raw, err := codegen.Notebook(cells)
	require.NoError(t, err)

	var doc struct {
		NBFormat int `json:"nbformat"`
		Cells    []struct {
			CellType string   `json:"cell_type"`
			Source   []string `json:"source"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 4, doc.NBFormat)
	require.Len(t, doc.Cells, len(cells)+1)
	assert.Equal(t, []string{codegen.Preamble}, doc.Cells[0].Source)
	assert.Equal(t, "# Data Source\n", doc.Cells[1].Source[0])
	assert.Equal(t, "code", doc.Cells[2].CellType)
}

func TestClipboardRoundTrip(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	text := codegen.Clipboard(cells)
	assert.True(t, strings.HasPrefix(text, "# %% [1] Data Source\n"))

	blocks := codegen.SplitClipboard(text)
	require.Len(t, blocks, len(cells))
	for i, b := range blocks {
		assert.Equal(t, cells[i].Label, b.Label)
		assert.Equal(t, strings.TrimSpace(cells[i].Code), b.Code)
	}
}

func TestSplitClipboard_LeadingText(t *testing.T) {
	blocks := codegen.SplitClipboard("import pandas as pd\n# %% Load\ndf = 1\n")
	require.Len(t, blocks, 2)
	assert.Equal(t, "", blocks[0].Label)
	assert.Equal(t, "import pandas as pd", blocks[0].Code)
	assert.Equal(t, codegen.Block{Label: "Load", Code: "df = 1"}, blocks[1])
}

func TestLabelsStayOnOneLine(t *testing.T) {
	label := "Sort\nimport os; os.system(\"echo pwned\")\r\nx = 1"
	nodes := []pipeline.Node{
		{ID: "src", Kind: pipeline.KindSource, Config: pipeline.SourceConfig{FileName: "sales.csv"}},
		{ID: "srt", Kind: pipeline.KindSort, Label: label, Config: pipeline.SortConfig{Column: "amount"}},
	}
	edges := []pipeline.Edge{{ID: "e1", From: "src", To: "srt"}}
	cells := codegen.BuildCells(nodes, edges)

	script := codegen.FullScript(cells)
	for _, line := range strings.Split(script, "\n") {
		assert.False(t, strings.HasPrefix(line, "import os"), "label leaked into code: %q", line)
		assert.NotEqual(t, "x = 1", line)
	}
	assert.Contains(t, script, `# Step 2: Sort import os; os.system("echo pwned") x = 1`)
	unchanged, err := codegen.EditsFromScript(cells, script)
	require.NoError(t, err)
	assert.Empty(t, unchanged)

	text := codegen.Clipboard(cells)
	blocks := codegen.SplitClipboard(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, strings.TrimSpace(cells[1].Code), blocks[1].Code)

	raw, err := codegen.Notebook(cells)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"import os`)
}

func TestEditsFromClipboard(t *testing.T) {
	cells := codegen.BuildCells(samplePipeline())
	text := codegen.Clipboard(cells)

	unchanged, err := codegen.EditsFromClipboard(cells, text)
	require.NoError(t, err)
	assert.Empty(t, unchanged)

	edited := strings.Replace(text, "> 100", "> 250", 1)
	changes, err := codegen.EditsFromClipboard(cells, edited)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, codegen.NodeRef{ID: "big"}, changes[0].Ref)
	assert.Equal(t, `df = df[df["amount"] > 250]`, changes[0].After)

	_, err = codegen.EditsFromClipboard(cells, "# %% [1] Only\ndf = 1\n")
	assert.ErrorIs(t, err, codegen.ErrStepMismatch)
}
