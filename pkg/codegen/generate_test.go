package codegen_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

func TestGenerate_FilterQuoting(t *testing.T) {
	str := codegen.GenerateConfig(pipeline.KindFilter, pipeline.FilterConfig{Column: "name", Operator: pipeline.OpEq, Value: "alice"})
	assert.Equal(t, `df = df[df["name"] == "alice"]`, str)

	num := codegen.GenerateConfig(pipeline.KindFilter, pipeline.FilterConfig{Column: "name", Operator: pipeline.OpEq, Value: "42"})
	assert.Equal(t, `df = df[df["name"] == 42]`, num)
}

func TestGenerate_FilterOperators(t *testing.T) {
	tests := []struct {
		op, value, want string
	}{
		{pipeline.OpNeq, "x", `df = df[df["c"] != "x"]`},
		{pipeline.OpGt, " 3.5 ", `df = df[df["c"] > 3.5]`},
		{pipeline.OpLt, "-1e3", `df = df[df["c"] < -1e3]`},
		{pipeline.OpEq, "NaN", `df = df[df["c"] == "NaN"]`},
		{pipeline.OpEq, "Inf", `df = df[df["c"] == "Inf"]`},
		{pipeline.OpContains, "12", `df = df[df["c"].astype(str).str.contains("12", na=False, regex=False)]`},
		{pipeline.OpStartsWith, `a"b`, `df = df[df["c"].astype(str).str.startswith("a\"b", na=False)]`},
	}
	for _, tt := range tests {
		t.Run(tt.op+"/"+tt.value, func(t *testing.T) {
			got := codegen.GenerateConfig(pipeline.KindFilter, pipeline.FilterConfig{Column: "c", Operator: tt.op, Value: pipeline.FlexString(tt.value)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerate_PlaceholderNamesKind(t *testing.T) {
	for _, kind := range pipeline.DataKinds {
		if kind == pipeline.KindSource {
			continue
		}
		t.Run(string(kind), func(t *testing.T) {
			got := codegen.GenerateConfig(kind, pipeline.ZeroConfig(kind))
			assert.True(t, strings.HasPrefix(got, "#"), "placeholder must be a comment: %q", got)
			assert.Contains(t, got, kind.DisplayName())
		})
	}
	assert.Contains(t, codegen.GenerateConfig(pipeline.KindFilter, nil), "Filter")
	assert.Contains(t, codegen.GenerateConfig(pipeline.KindSort, pipeline.FilterConfig{}), "Sort")
	assert.Contains(t, codegen.GenerateConfig(pipeline.KindFilter, pipeline.FilterConfig{Column: "a", Operator: pipeline.OpEq, Value: "   "}), "Filter")
}

func TestGenerate_Source(t *testing.T) {
	empty := codegen.GenerateConfig(pipeline.KindSource, pipeline.SourceConfig{})
	assert.Contains(t, empty, "df = pd.DataFrame()")
	assert.NotContains(t, empty, "read_csv")

	loaded := codegen.GenerateConfig(pipeline.KindSource, pipeline.SourceConfig{FileName: `c:\data\"x".csv`, RowCount: 3})
	assert.Equal(t, "df = pd.read_csv(\"c:\\\\data\\\\\\\"x\\\".csv\")\n# Loaded 3 rows from c:\\data\\\"x\".csv", loaded)
}

func TestGenerate_Kinds(t *testing.T) {
	tests := []struct {
		name string
		cfg  pipeline.Config
		want string
	}{
		{"sort default asc", pipeline.SortConfig{Column: "a"}, `df = df.sort_values("a", ascending=True)`},
		{"sort desc", pipeline.SortConfig{Column: "a", Direction: pipeline.DirDesc}, `df = df.sort_values("a", ascending=False)`},
		{"select keeps order", pipeline.SelectConfig{Columns: []string{"z", "a"}}, `df = df[["z", "a"]]`},
		{"group avg", pipeline.GroupByConfig{GroupByColumn: "g", AggregateColumn: "v", Aggregation: pipeline.AggAvg}, `df = df.groupby("g")["v"].mean().reset_index()`},
		{"group count", pipeline.GroupByConfig{GroupByColumn: "g", Aggregation: pipeline.AggCount}, `df = df.groupby("g").size().reset_index(name="count")`},
		{"group sum all", pipeline.GroupByConfig{GroupByColumn: "g", Aggregation: pipeline.AggSum}, `df = df.groupby("g").sum(numeric_only=True).reset_index()`},
		{"compute verbatim", pipeline.ComputeConfig{NewColumnName: "t", Expression: `df["a"] + df["b"]`}, `df["t"] = df["a"] + df["b"]`},
		{"reshape", pipeline.ReshapeConfig{KeyColumn: "k", ValueColumn: "v", PivotColumns: []string{"q1", "q2"}},
			`df = df.melt(id_vars=[c for c in df.columns if c not in ["q1", "q2"]], value_vars=["q1", "q2"], var_name="k", value_name="v")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codegen.GenerateConfig(tt.cfg.Kind(), tt.cfg))
		})
	}
}

func TestGenerate_Chart(t *testing.T) {
	bar := codegen.GenerateConfig(pipeline.KindChart, pipeline.ChartConfig{XAxis: "x", YAxis: "y"})
	assert.Contains(t, bar, `plt.bar(df["x"], df["y"])`)
	assert.True(t, strings.HasSuffix(bar, "plt.show()"))

	pie := codegen.GenerateConfig(pipeline.KindChart, pipeline.ChartConfig{ChartType: pipeline.ChartPie, XAxis: "x", YAxis: "y"})
	assert.Contains(t, pie, `plt.pie(df["y"], labels=df["x"])`)

	colored := codegen.GenerateConfig(pipeline.KindChart, pipeline.ChartConfig{ChartType: pipeline.ChartScatter, XAxis: "x", YAxis: "y", ColorBy: "g"})
	assert.Contains(t, colored, `for key, part in df.groupby("g"):`)
	assert.Contains(t, colored, `    plt.scatter(part["x"], part["y"], label=str(key))`)
}

func TestGenerate_OverrideWins(t *testing.T) {
	n := pipeline.Node{ID: "a", Kind: pipeline.KindSort, Config: pipeline.SortConfig{Column: "x"}, OverrideCode: "df = df.head(5)"}
	assert.Equal(t, "df = df.head(5)", codegen.Generate(n))

	n.OverrideCode = "  \n\t"
	assert.Equal(t, `df = df.sort_values("x", ascending=True)`, codegen.Generate(n))
}

func TestGenerate_BookkeepingNeverLeaks(t *testing.T) {
	cfg, err := pipeline.DecodeConfig(pipeline.KindSort, []byte(`{"column":"a","state":"error","label":"LEAK","overrideCode":"","inputRowCount":9}`))
	require.NoError(t, err)
	got := codegen.GenerateConfig(pipeline.KindSort, cfg)
	assert.NotContains(t, got, "LEAK")
	assert.NotContains(t, got, "error")
}

func TestQuoteAndLiteral(t *testing.T) {
	assert.Equal(t, `"a\"b\\c"`, codegen.Quote(`a"b\c`))
	assert.Equal(t, "7", codegen.Literal(" 7 "))
	assert.Equal(t, `""`, codegen.Literal(""))
	assert.Equal(t, `"inf"`, codegen.Literal("inf"))
	assert.False(t, codegen.IsNumeric("nan"))
	assert.True(t, codegen.IsNumeric("0.25"))
}

func TestNodeCell(t *testing.T) {
	n := pipeline.Node{
		ID:     "s",
		Kind:   pipeline.KindSource,
		Config: pipeline.SourceConfig{FileName: "a.csv", Columns: []frame.Column{{Name: "x"}, {Name: "y"}}},
	}
	c := codegen.NodeCell(n)
	assert.Equal(t, codegen.NodeRef{ID: "s"}, c.Ref)
	assert.Equal(t, "Data Source", c.Label)
	assert.Equal(t, []string{"x", "y"}, c.Columns)
	assert.False(t, c.Overridden)
	id, ok := c.NodeID()
	assert.True(t, ok)
	assert.Equal(t, "s", id)
}

func TestNewDraft(t *testing.T) {
	a := codegen.NewDraft("x = 1")
	b := codegen.NewDraft("x = 2")
	assert.True(t, a.IsDraft())
	assert.NotEqual(t, a.Ref, b.Ref)
	_, ok := a.NodeID()
	assert.False(t, ok)
	cells := []codegen.Cell{a, b}
	assert.Equal(t, 1, codegen.IndexOf(cells, b.Ref))
	assert.Equal(t, -1, codegen.IndexOf(cells, codegen.NodeRef{ID: "nope"}))
}
