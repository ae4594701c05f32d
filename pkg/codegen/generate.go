// Package codegen turns pipeline nodes into pandas code cells and assembles
// those cells into scripts, notebooks and clipboard blocks. It also reads
// generated-style scripts back into proposed steps.
package codegen

import (
	"fmt"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// Placeholder returns the no-op comment emitted for a step whose
// configuration is incomplete.
func Placeholder(kind pipeline.Kind) string {
	return fmt.Sprintf("# %s: configuration incomplete", kind.DisplayName())
}

// Generate returns the code for a node. Override code that is non-empty
// after trimming wins over config-driven generation.
func Generate(n pipeline.Node) string {
	if strings.TrimSpace(n.OverrideCode) != "" {
		return n.OverrideCode
	}
	return GenerateConfig(n.Kind, n.EffectiveConfig())
}

// GenerateConfig maps a kind and its config to code. It never fails: an
// incomplete or mismatched config yields Placeholder.
func GenerateConfig(kind pipeline.Kind, cfg pipeline.Config) string {
	if cfg == nil {
		cfg = pipeline.ZeroConfig(kind)
	}
	if cfg == nil || cfg.Kind() != kind {
		return Placeholder(kind)
	}
	if kind != pipeline.KindSource && len(cfg.Missing()) > 0 {
		return Placeholder(kind)
	}

	switch c := cfg.(type) {
	case pipeline.SourceConfig:
		return genSource(c)
	case pipeline.FilterConfig:
		return genFilter(c)
	case pipeline.SortConfig:
		return genSort(c)
	case pipeline.SelectConfig:
		return "df = df[" + quoteList(c.Columns) + "]"
	case pipeline.GroupByConfig:
		return genGroupBy(c)
	case pipeline.ComputeConfig:
		return column("df", c.NewColumnName) + " = " + c.Expression
	case pipeline.ReshapeConfig:
		return genReshape(c)
	case pipeline.ChartConfig:
		return genChart(c)
	case pipeline.QueryConfig, pipeline.NoteConfig:
		return ""
	}
	return Placeholder(kind)
}

func genSource(c pipeline.SourceConfig) string {
	if strings.TrimSpace(c.FileName) == "" {
		return "# " + pipeline.KindSource.DisplayName() + ": no file selected\ndf = pd.DataFrame()"
	}
	note := "# Loaded rows from " + c.FileName
	if c.RowCount > 0 {
		note = fmt.Sprintf("# Loaded %d rows from %s", c.RowCount, c.FileName)
	}
	return "df = pd.read_csv(" + Quote(c.FileName) + ")\n" + note
}

var comparison = map[string]string{
	pipeline.OpEq:  "==",
	pipeline.OpNeq: "!=",
	pipeline.OpGt:  ">",
	pipeline.OpLt:  "<",
}

func genFilter(c pipeline.FilterConfig) string {
	col := column("df", c.Column)
	switch c.Operator {
	case pipeline.OpContains:
		return fmt.Sprintf("df = df[%s.astype(str).str.contains(%s, na=False, regex=False)]", col, Quote(string(c.Value)))
	case pipeline.OpStartsWith:
		return fmt.Sprintf("df = df[%s.astype(str).str.startswith(%s, na=False)]", col, Quote(string(c.Value)))
	}
	return fmt.Sprintf("df = df[%s %s %s]", col, comparison[c.Operator], Literal(string(c.Value)))
}

func genSort(c pipeline.SortConfig) string {
	ascending := "True"
	if c.Direction == pipeline.DirDesc {
		ascending = "False"
	}
	return fmt.Sprintf("df = df.sort_values(%s, ascending=%s)", Quote(c.Column), ascending)
}

// pandasAgg maps aggregation names onto pandas reductions.
var pandasAgg = map[string]string{
	pipeline.AggCount: "count",
	pipeline.AggSum:   "sum",
	pipeline.AggAvg:   "mean",
	pipeline.AggMin:   "min",
	pipeline.AggMax:   "max",
}

func genGroupBy(c pipeline.GroupByConfig) string {
	agg := pandasAgg[c.Aggregation]
	group := "df.groupby(" + Quote(c.GroupByColumn) + ")"
	if strings.TrimSpace(c.AggregateColumn) != "" {
		return fmt.Sprintf("df = %s[%s].%s().reset_index()", group, Quote(c.AggregateColumn), agg)
	}
	if c.Aggregation == pipeline.AggCount {
		return fmt.Sprintf("df = %s.size().reset_index(name=%s)", group, Quote("count"))
	}
	return fmt.Sprintf("df = %s.%s(numeric_only=True).reset_index()", group, agg)
}

func genReshape(c pipeline.ReshapeConfig) string {
	pivot := quoteList(c.PivotColumns)
	return fmt.Sprintf(
		"df = df.melt(id_vars=[c for c in df.columns if c not in %s], value_vars=%s, var_name=%s, value_name=%s)",
		pivot, pivot, Quote(c.KeyColumn), Quote(c.ValueColumn))
}

// plotCall renders the matplotlib call for one chart type against a frame
// variable.
func plotCall(chartType, frameVar, x, y, label string) string {
	xs, ys := column(frameVar, x), column(frameVar, y)
	extra := ""
	if label != "" {
		extra = ", label=" + label
	}
	switch chartType {
	case pipeline.ChartLine:
		return fmt.Sprintf("plt.plot(%s, %s%s)", xs, ys, extra)
	case pipeline.ChartArea:
		return fmt.Sprintf("plt.fill_between(%s, %s%s)", xs, ys, extra)
	case pipeline.ChartScatter:
		return fmt.Sprintf("plt.scatter(%s, %s%s)", xs, ys, extra)
	case pipeline.ChartPie:
		return fmt.Sprintf("plt.pie(%s, labels=%s)", ys, xs)
	default:
		return fmt.Sprintf("plt.bar(%s, %s%s)", xs, ys, extra)
	}
}

func genChart(c pipeline.ChartConfig) string {
	chartType := c.ChartType
	if chartType == "" {
		chartType = pipeline.ChartBar
	}
	lines := []string{"import matplotlib.pyplot as plt", "plt.figure()"}
	if c.ColorBy != "" && chartType != pipeline.ChartPie {
		lines = append(lines,
			"for key, part in df.groupby("+Quote(c.ColorBy)+"):",
			"    "+plotCall(chartType, "part", c.XAxis, c.YAxis, "str(key)"),
			"plt.legend(title="+Quote(c.ColorBy)+")",
		)
	} else {
		lines = append(lines, plotCall(chartType, "df", c.XAxis, c.YAxis, ""))
	}
	if chartType != pipeline.ChartPie {
		lines = append(lines, "plt.xlabel("+Quote(c.XAxis)+")", "plt.ylabel("+Quote(c.YAxis)+")")
	}
	lines = append(lines, "plt.show()")
	return strings.Join(lines, "\n")
}
