package codegen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// Step is one pipeline step recognised in a script.
type Step struct {
	Kind   pipeline.Kind
	Config pipeline.Config
}

// ParseResult is the outcome of ParseScript. Fallback is set when some
// assignment to the frame could not be mapped to a step, or when nothing
// was recognised at all; callers should then ask a model instead.
type ParseResult struct {
	Steps    []Step
	Fallback bool
}

const frameVar = "df"

var (
	strLit = `(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`

	reAssign    = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=[^=]`)
	reReadCSV   = regexp.MustCompile(`^\w+\s*=\s*(?:pd|pandas)\.read_csv\(\s*(?:` + strLit + `)?`)
	reNewFrame  = regexp.MustCompile(`^\w+\s*=\s*(?:pd|pandas)\.DataFrame\((.*)\)\s*$`)
	reCompare   = regexp.MustCompile(`^\w+\s*=\s*\w+\[\s*\w+\[\s*` + strLit + `\s*\]\s*(==|!=|<=|>=|<|>)\s*(.+?)\s*\]\s*$`)
	reStrMatch  = regexp.MustCompile(`^\w+\s*=\s*\w+\[\s*\w+\[\s*` + strLit + `\s*\](?:\.astype\(str\))?\.str\.(contains|startswith)\(\s*` + strLit)
	reSelect    = regexp.MustCompile(`^\w+\s*=\s*\w+\[\s*\[(.*)\]\s*\]\s*$`)
	reGroupBy   = regexp.MustCompile(`\.groupby\(\s*(?:by\s*=\s*)?` + strLit + `\s*\)(?:\[\s*` + strLit + `\s*\])?(?:\.(sum|mean|count|min|max|size)\()?`)
	reSort      = regexp.MustCompile(`\.sort_values\((.*)\)`)
	reMelt      = regexp.MustCompile(`\.melt\((.*)\)`)
	reCompute   = regexp.MustCompile(`^\w+\[\s*` + strLit + `\s*\]\s*=\s*(.+)$`)
	rePlot      = regexp.MustCompile(`^plt\.(bar|plot|scatter|pie|fill_between)\((.*)\)\s*$`)
	reColorLoop = regexp.MustCompile(`^for\s+\w+\s*,\s*\w+\s+in\s+\w+\.groupby\(\s*` + strLit + `\s*\)\s*:`)
	reSubscript = regexp.MustCompile(`^\w+\[\s*` + strLit + `\s*\]$`)
	reStrings   = regexp.MustCompile(strLit)
)

var compareOps = map[string]string{
	"==": pipeline.OpEq,
	"!=": pipeline.OpNeq,
	"<":  pipeline.OpLt,
	"<=": pipeline.OpLt,
	">":  pipeline.OpGt,
	">=": pipeline.OpGt,
}

var plotTypes = map[string]string{
	"bar":          pipeline.ChartBar,
	"plot":         pipeline.ChartLine,
	"fill_between": pipeline.ChartArea,
	"scatter":      pipeline.ChartScatter,
	"pie":          pipeline.ChartPie,
}

// ParseScript recognises the pandas statements Generate emits, plus common
// hand-written variants of them, and returns them as steps in script order.
func ParseScript(src string) ParseResult {
	var res ParseResult
	colorBy := ""
	chartOpen := false

	for _, line := range logicalLines(src) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			continue
		}

		if m := reColorLoop.FindStringSubmatch(trimmed); m != nil {
			colorBy = first(m[1], m[2])
			continue
		}
		if m := rePlot.FindStringSubmatch(trimmed); m != nil {
			if !chartOpen {
				res.Steps = append(res.Steps, Step{Kind: pipeline.KindChart, Config: chartConfig(m[1], m[2], colorBy)})
				chartOpen = true
			}
			continue
		}
		if strings.HasPrefix(trimmed, "plt.") {
			if strings.HasPrefix(trimmed, "plt.show(") {
				chartOpen = false
				colorBy = ""
			}
			continue
		}

		if step, ok := parseStatement(trimmed); ok {
			res.Steps = append(res.Steps, step)
			chartOpen = false
			continue
		}
		if m := reAssign.FindStringSubmatch(trimmed); m != nil && m[1] == frameVar {
			res.Fallback = true
		}
	}
	if len(res.Steps) == 0 {
		res.Fallback = true
	}
	return res
}

func parseStatement(s string) (Step, bool) {
	if m := reReadCSV.FindStringSubmatch(s); m != nil {
		name := unescape(first(m[1], m[2]))
		if name == "" {
			name = "data.csv"
		}
		return Step{pipeline.KindSource, pipeline.SourceConfig{FileName: name}}, true
	}
	if m := reNewFrame.FindStringSubmatch(s); m != nil {
		cfg := pipeline.SourceConfig{}
		if _, after, ok := strings.Cut(m[1], "columns="); ok {
			for _, c := range stringList(after) {
				cfg.Columns = append(cfg.Columns, frame.Column{Name: c, Type: frame.TypeString})
			}
		}
		return Step{pipeline.KindSource, cfg}, true
	}
	if m := reStrMatch.FindStringSubmatch(s); m != nil {
		op := pipeline.OpContains
		if m[3] == "startswith" {
			op = pipeline.OpStartsWith
		}
		return Step{pipeline.KindFilter, pipeline.FilterConfig{
			Column:   unescape(first(m[1], m[2])),
			Operator: op,
			Value:    pipeline.FlexString(unescape(first(m[4], m[5]))),
		}}, true
	}
	if m := reCompare.FindStringSubmatch(s); m != nil {
		val, ok := constant(m[4])
		if !ok {
			return Step{}, false
		}
		return Step{pipeline.KindFilter, pipeline.FilterConfig{
			Column:   unescape(first(m[1], m[2])),
			Operator: compareOps[m[3]],
			Value:    pipeline.FlexString(val),
		}}, true
	}
	if m := reSelect.FindStringSubmatch(s); m != nil {
		if cols := stringList(m[1]); len(cols) > 0 {
			return Step{pipeline.KindSelect, pipeline.SelectConfig{Columns: cols}}, true
		}
		return Step{}, false
	}
	if m := reGroupBy.FindStringSubmatch(s); m != nil && reAssign.MatchString(s) {
		agg := m[5]
		switch agg {
		case "mean":
			agg = pipeline.AggAvg
		case "size", "":
			agg = pipeline.AggCount
		}
		return Step{pipeline.KindGroupBy, pipeline.GroupByConfig{
			GroupByColumn:   unescape(first(m[1], m[2])),
			AggregateColumn: unescape(first(m[3], m[4])),
			Aggregation:     agg,
		}}, true
	}
	if m := reSort.FindStringSubmatch(s); m != nil && reAssign.MatchString(s) {
		return sortStep(m[1])
	}
	if m := reMelt.FindStringSubmatch(s); m != nil && reAssign.MatchString(s) {
		return meltStep(m[1])
	}
	if m := reCompute.FindStringSubmatch(s); m != nil && !strings.HasPrefix(m[3], "=") {
		return Step{pipeline.KindCompute, pipeline.ComputeConfig{
			NewColumnName: unescape(first(m[1], m[2])),
			Expression:    strings.TrimSpace(m[3]),
		}}, true
	}
	return Step{}, false
}

func sortStep(args string) (Step, bool) {
	cfg := pipeline.SortConfig{Direction: pipeline.DirAsc}
	for i, arg := range splitArgs(args) {
		key, val, kw := keyword(arg)
		switch {
		case !kw && i == 0, kw && key == "by":
			if s, ok := stringLit(val); ok {
				cfg.Column = s
			} else if l := stringList(strings.Trim(val, "[]")); len(l) > 0 {
				cfg.Column = l[0]
			}
		case kw && key == "ascending":
			if strings.TrimSpace(val) == "False" {
				cfg.Direction = pipeline.DirDesc
			}
		}
	}
	return Step{pipeline.KindSort, cfg}, cfg.Column != ""
}

func meltStep(args string) (Step, bool) {
	cfg := pipeline.ReshapeConfig{KeyColumn: "variable", ValueColumn: "value"}
	for _, arg := range splitArgs(args) {
		key, val, kw := keyword(arg)
		if !kw {
			continue
		}
		switch key {
		case "value_vars":
			cfg.PivotColumns = stringList(strings.Trim(strings.TrimSpace(val), "[]()"))
		case "var_name":
			if s, ok := stringLit(val); ok {
				cfg.KeyColumn = s
			}
		case "value_name":
			if s, ok := stringLit(val); ok {
				cfg.ValueColumn = s
			}
		}
	}
	return Step{pipeline.KindReshape, cfg}, len(cfg.PivotColumns) > 0
}

func chartConfig(fn, args, colorBy string) pipeline.ChartConfig {
	cfg := pipeline.ChartConfig{ChartType: plotTypes[fn], ColorBy: colorBy}
	var positional []string
	for _, arg := range splitArgs(args) {
		key, val, kw := keyword(arg)
		if !kw {
			positional = append(positional, subscriptColumn(val))
			continue
		}
		if key == "labels" && fn == "pie" {
			cfg.XAxis = subscriptColumn(val)
		}
	}
	switch {
	case fn == "pie" && len(positional) >= 1:
		cfg.YAxis = positional[0]
	case len(positional) >= 2:
		cfg.XAxis, cfg.YAxis = positional[0], positional[1]
	case len(positional) == 1:
		cfg.YAxis = positional[0]
	}
	return cfg
}

// ─── lexical helpers ─────────────────────────────────────────────────────────

// logicalLines joins physical lines while brackets are open.
func logicalLines(src string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	for _, line := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		if cur.Len() > 0 {
			cur.WriteString(" ")
			line = strings.TrimSpace(line)
		}
		cur.WriteString(line)
		depth += bracketDelta(line)
		if depth <= 0 {
			out = append(out, cur.String())
			cur.Reset()
			depth = 0
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// bracketDelta counts opening minus closing brackets outside string
// literals and comments.
func bracketDelta(line string) int {
	d := 0
	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '#':
			return d
		case '(', '[', '{':
			d++
		case ')', ']', '}':
			d--
		}
	}
	return d
}

// splitArgs splits a call's argument text on top-level commas.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// keyword splits "name=value" arguments.
func keyword(arg string) (key, val string, ok bool) {
	k, v, found := strings.Cut(arg, "=")
	k = strings.TrimSpace(k)
	if !found || k == "" || strings.ContainsAny(k, `"'[( `) || strings.HasPrefix(v, "=") {
		return "", arg, false
	}
	return k, strings.TrimSpace(v), true
}

func stringList(s string) []string {
	var out []string
	for _, m := range reStrings.FindAllStringSubmatch(s, -1) {
		out = append(out, unescape(first(m[1], m[2])))
	}
	return out
}

func stringLit(s string) (string, bool) {
	s = strings.TrimSpace(s)
	m := reStrings.FindStringSubmatch(s)
	if m == nil || len(m[0]) != len(s) {
		return "", false
	}
	return unescape(first(m[1], m[2])), true
}

func subscriptColumn(s string) string {
	m := reSubscript.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ""
	}
	return unescape(first(m[1], m[2]))
}

// constant reads a Python literal used as a comparison value.
func constant(s string) (string, bool) {
	if v, ok := stringLit(s); ok {
		return v, true
	}
	s = strings.TrimSpace(s)
	switch s {
	case "True", "False":
		return s, true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s, true
	}
	return "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func first(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
