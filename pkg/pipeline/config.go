package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/frame"
)

// Config is the kind-specific configuration of a node. The set of
// implementations is closed; each carries only its own fields.
type Config interface {
	// Kind returns the node kind this config belongs to.
	Kind() Kind
	// Missing lists the required fields that are empty.
	Missing() []string

	sealed()
}

// Filter operators.
const (
	OpEq         = "eq"
	OpNeq        = "neq"
	OpGt         = "gt"
	OpLt         = "lt"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
)

// Aggregations.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// Sort directions.
const (
	DirAsc  = "asc"
	DirDesc = "desc"
)

// Chart types.
const (
	ChartBar     = "bar"
	ChartLine    = "line"
	ChartArea    = "area"
	ChartScatter = "scatter"
	ChartPie     = "pie"
)

// SourceConfig loads a file into the frame.
type SourceConfig struct {
	FileName string         `json:"fileName,omitempty"`
	Columns  []frame.Column `json:"columns,omitempty"`
	RowCount int            `json:"rowCount,omitempty"`
}

// FilterConfig keeps rows matching a single predicate.
type FilterConfig struct {
	Column   string     `json:"column,omitempty"`
	Operator string     `json:"operator,omitempty"`
	Value    FlexString `json:"value,omitempty"`
}

// SortConfig orders rows by one column.
type SortConfig struct {
	Column    string `json:"column,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// SelectConfig projects the frame onto an ordered column list.
type SelectConfig struct {
	Columns []string `json:"columns,omitempty"`
}

// GroupByConfig groups rows and reduces one column.
type GroupByConfig struct {
	GroupByColumn   string `json:"groupByColumn,omitempty"`
	AggregateColumn string `json:"aggregateColumn,omitempty"`
	Aggregation     string `json:"aggregation,omitempty"`
}

// ComputeConfig assigns an expression result to a new column.
type ComputeConfig struct {
	NewColumnName string `json:"newColumnName,omitempty"`
	Expression    string `json:"expression,omitempty"`
}

// ReshapeConfig unpivots columns into key/value pairs.
type ReshapeConfig struct {
	KeyColumn    string   `json:"keyColumn,omitempty"`
	ValueColumn  string   `json:"valueColumn,omitempty"`
	PivotColumns []string `json:"pivotColumns,omitempty"`
}

// ChartConfig plots two columns.
type ChartConfig struct {
	ChartType string `json:"chartType,omitempty"`
	XAxis     string `json:"xAxis,omitempty"`
	YAxis     string `json:"yAxis,omitempty"`
	ColorBy   string `json:"colorBy,omitempty"`
}

// QueryConfig is an advisory assistant prompt on the canvas.
type QueryConfig struct {
	Prompt string `json:"prompt,omitempty"`
}

// NoteConfig is a free-text annotation on the canvas.
type NoteConfig struct {
	Text string `json:"text,omitempty"`
}

func (SourceConfig) Kind() Kind  { return KindSource }
func (FilterConfig) Kind() Kind  { return KindFilter }
func (SortConfig) Kind() Kind    { return KindSort }
func (SelectConfig) Kind() Kind  { return KindSelect }
func (GroupByConfig) Kind() Kind { return KindGroupBy }
func (ComputeConfig) Kind() Kind { return KindCompute }
func (ReshapeConfig) Kind() Kind { return KindReshape }
func (ChartConfig) Kind() Kind   { return KindChart }
func (QueryConfig) Kind() Kind   { return KindQuery }
func (NoteConfig) Kind() Kind    { return KindNote }

func (SourceConfig) sealed()  {}
func (FilterConfig) sealed()  {}
func (SortConfig) sealed()    {}
func (SelectConfig) sealed()  {}
func (GroupByConfig) sealed() {}
func (ComputeConfig) sealed() {}
func (ReshapeConfig) sealed() {}
func (ChartConfig) sealed()   {}
func (QueryConfig) sealed()   {}
func (NoteConfig) sealed()    {}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func (c SourceConfig) Missing() []string {
	if blank(c.FileName) {
		return []string{"fileName"}
	}
	return nil
}

func (c FilterConfig) Missing() []string {
	var m []string
	if blank(c.Column) {
		m = append(m, "column")
	}
	switch c.Operator {
	case "":
		m = append(m, "operator")
	case OpEq, OpNeq, OpGt, OpLt:
		if blank(string(c.Value)) {
			m = append(m, "value")
		}
	case OpContains, OpStartsWith:
	default:
		m = append(m, "operator")
	}
	return m
}

func (c SortConfig) Missing() []string {
	if blank(c.Column) {
		return []string{"column"}
	}
	return nil
}

func (c SelectConfig) Missing() []string {
	if len(c.Columns) == 0 {
		return []string{"columns"}
	}
	return nil
}

func (c GroupByConfig) Missing() []string {
	var m []string
	if blank(c.GroupByColumn) {
		m = append(m, "groupByColumn")
	}
	switch c.Aggregation {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
	default:
		m = append(m, "aggregation")
	}
	return m
}

func (c ComputeConfig) Missing() []string {
	var m []string
	if blank(c.NewColumnName) {
		m = append(m, "newColumnName")
	}
	if blank(c.Expression) {
		m = append(m, "expression")
	}
	return m
}

func (c ReshapeConfig) Missing() []string {
	var m []string
	if blank(c.KeyColumn) {
		m = append(m, "keyColumn")
	}
	if blank(c.ValueColumn) {
		m = append(m, "valueColumn")
	}
	if len(c.PivotColumns) == 0 {
		m = append(m, "pivotColumns")
	}
	return m
}

func (c ChartConfig) Missing() []string {
	var m []string
	if blank(c.XAxis) {
		m = append(m, "xAxis")
	}
	if blank(c.YAxis) {
		m = append(m, "yAxis")
	}
	return m
}

func (QueryConfig) Missing() []string { return nil }
func (NoteConfig) Missing() []string  { return nil }

// ZeroConfig returns the empty config for a kind, or nil for unknown kinds.
func ZeroConfig(k Kind) Config {
	switch k {
	case KindSource:
		return SourceConfig{}
	case KindFilter:
		return FilterConfig{}
	case KindSort:
		return SortConfig{}
	case KindSelect:
		return SelectConfig{}
	case KindGroupBy:
		return GroupByConfig{}
	case KindCompute:
		return ComputeConfig{}
	case KindReshape:
		return ReshapeConfig{}
	case KindChart:
		return ChartConfig{}
	case KindQuery:
		return QueryConfig{}
	case KindNote:
		return NoteConfig{}
	}
	return nil
}

// bookkeepingKeys are node-level fields that callers sometimes send inside a
// config object. They are dropped before decoding so they never reach the
// generator.
var bookkeepingKeys = []string{
	"state", "label", "mode", "isProposed", "inputRowCount", "outputRowCount",
	"overrideCode", "error", "running",
}

// DecodeConfig decodes raw JSON into the config struct for kind. An empty
// payload yields the zero config.
func DecodeConfig(kind Kind, raw json.RawMessage) (Config, error) {
	zero := ZeroConfig(kind)
	if zero == nil {
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return zero, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", kind, err)
	}
	for _, k := range bookkeepingKeys {
		delete(fields, k)
	}
	clean, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", kind, err)
	}

	var cfg Config
	switch kind {
	case KindSource:
		var c SourceConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindFilter:
		var c FilterConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindSort:
		var c SortConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindSelect:
		var c SelectConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindGroupBy:
		var c GroupByConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindCompute:
		var c ComputeConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindReshape:
		var c ReshapeConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindChart:
		var c ChartConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindQuery:
		var c QueryConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	case KindNote:
		var c NoteConfig
		err = json.Unmarshal(clean, &c)
		cfg = c
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s config: %w", kind, err)
	}
	return cfg, nil
}

// FlexString is a string that also accepts JSON numbers and booleans, so a
// filter value of 42 and "42" decode to the same thing.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*f = FlexString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*f = FlexString(strconv.FormatBool(x))
	default:
		return fmt.Errorf("value must be a string, number or boolean")
	}
	return nil
}

// ─── DOT attribute mapping ───────────────────────────────────────────────────

// ConfigFromAttrs builds a config from flat string attributes, as found in
// DOT files. List fields are comma separated; source columns are written as
// "name:type" pairs.
func ConfigFromAttrs(kind Kind, attrs map[string]string) (Config, error) {
	switch kind {
	case KindSource:
		c := SourceConfig{FileName: attrs["fileName"]}
		for _, part := range splitList(attrs["columns"]) {
			name, typ, _ := strings.Cut(part, ":")
			if typ == "" {
				typ = string(frame.TypeString)
			}
			c.Columns = append(c.Columns, frame.Column{Name: name, Type: frame.ColumnType(typ)})
		}
		if rc := attrs["rowCount"]; rc != "" {
			n, err := strconv.Atoi(rc)
			if err != nil {
				return nil, fmt.Errorf("rowCount %q: %w", rc, err)
			}
			c.RowCount = n
		}
		return c, nil
	case KindFilter:
		return FilterConfig{Column: attrs["column"], Operator: attrs["operator"], Value: FlexString(attrs["value"])}, nil
	case KindSort:
		return SortConfig{Column: attrs["column"], Direction: attrs["direction"]}, nil
	case KindSelect:
		return SelectConfig{Columns: splitList(attrs["columns"])}, nil
	case KindGroupBy:
		return GroupByConfig{
			GroupByColumn:   attrs["groupByColumn"],
			AggregateColumn: attrs["aggregateColumn"],
			Aggregation:     attrs["aggregation"],
		}, nil
	case KindCompute:
		return ComputeConfig{NewColumnName: attrs["newColumnName"], Expression: attrs["expression"]}, nil
	case KindReshape:
		return ReshapeConfig{
			KeyColumn:    attrs["keyColumn"],
			ValueColumn:  attrs["valueColumn"],
			PivotColumns: splitList(attrs["pivotColumns"]),
		}, nil
	case KindChart:
		return ChartConfig{
			ChartType: attrs["chartType"],
			XAxis:     attrs["xAxis"],
			YAxis:     attrs["yAxis"],
			ColorBy:   attrs["colorBy"],
		}, nil
	case KindQuery:
		return QueryConfig{Prompt: attrs["prompt"]}, nil
	case KindNote:
		return NoteConfig{Text: attrs["text"]}, nil
	}
	return nil, fmt.Errorf("unknown node kind %q", kind)
}

// ConfigAttrs flattens a config into string attributes. Empty fields are
// omitted. It is the inverse of ConfigFromAttrs.
func ConfigAttrs(cfg Config) map[string]string {
	out := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	switch c := cfg.(type) {
	case SourceConfig:
		set("fileName", c.FileName)
		cols := make([]string, len(c.Columns))
		for i, col := range c.Columns {
			cols[i] = col.Name + ":" + string(col.Type)
		}
		set("columns", strings.Join(cols, ","))
		if c.RowCount > 0 {
			set("rowCount", strconv.Itoa(c.RowCount))
		}
	case FilterConfig:
		set("column", c.Column)
		set("operator", c.Operator)
		set("value", string(c.Value))
	case SortConfig:
		set("column", c.Column)
		set("direction", c.Direction)
	case SelectConfig:
		set("columns", strings.Join(c.Columns, ","))
	case GroupByConfig:
		set("groupByColumn", c.GroupByColumn)
		set("aggregateColumn", c.AggregateColumn)
		set("aggregation", c.Aggregation)
	case ComputeConfig:
		set("newColumnName", c.NewColumnName)
		set("expression", c.Expression)
	case ReshapeConfig:
		set("keyColumn", c.KeyColumn)
		set("valueColumn", c.ValueColumn)
		set("pivotColumns", strings.Join(c.PivotColumns, ","))
	case ChartConfig:
		set("chartType", c.ChartType)
		set("xAxis", c.XAxis)
		set("yAxis", c.YAxis)
		set("colorBy", c.ColorBy)
	case QueryConfig:
		set("prompt", c.Prompt)
	case NoteConfig:
		set("text", c.Text)
	}
	return out
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
