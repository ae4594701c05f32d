package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// Node attributes that are not part of the kind-specific config.
const (
	attrKind     = "kind"
	attrLabel    = "label"
	attrState    = "state"
	attrOverride = "override"
	attrPos      = "pos"
)

// ParseDOT parses a Graphviz DOT string into a Document. Every node must
// carry a kind attribute; the remaining attributes form its config. Node
// order follows first appearance in the source.
func ParseDOT(src string) (*Document, error) {
	graphAst, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}

	// Use a custom permissive graph collector that accepts any attribute name
	// without the strict validation that gographviz.Graph performs.
	collector := newDOTCollector()
	if err := gographviz.Analyse(graphAst, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	d := &Document{Name: collector.name}
	for _, id := range collector.order {
		attrs := collector.nodes[id]
		n, err := nodeFromAttrs(id, attrs)
		if err != nil {
			return nil, err
		}
		d.Nodes = append(d.Nodes, n)
	}

	// Build edges (in definition order)
	seen := map[string]int{}
	for _, e := range collector.edges {
		id := e.from + "->" + e.to
		if k := seen[id]; k > 0 {
			id = fmt.Sprintf("%s#%d", id, k)
		}
		seen[e.from+"->"+e.to]++
		d.Edges = append(d.Edges, Edge{ID: id, From: e.from, To: e.to})
	}
	return d, nil
}

func nodeFromAttrs(id string, attrs map[string]string) (Node, error) {
	kind := Kind(attrs[attrKind])
	if kind == "" {
		return Node{}, fmt.Errorf("node %q: missing %s attribute", id, attrKind)
	}
	if !kind.Known() {
		return Node{}, fmt.Errorf("node %q: unknown kind %q", id, kind)
	}
	cfgAttrs := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch k {
		case attrKind, attrLabel, attrState, attrOverride, attrPos:
		default:
			cfgAttrs[k] = v
		}
	}
	cfg, err := ConfigFromAttrs(kind, cfgAttrs)
	if err != nil {
		return Node{}, fmt.Errorf("node %q: %w", id, err)
	}
	n := Node{
		ID:           id,
		Kind:         kind,
		Label:        attrs[attrLabel],
		Config:       cfg,
		State:        State(attrs[attrState]),
		OverrideCode: attrs[attrOverride],
	}
	if n.State == "" {
		n.State = StateConfirmed
	}
	if pos := attrs[attrPos]; pos != "" {
		x, y, _ := strings.Cut(pos, ",")
		n.Position.X, _ = strconv.ParseFloat(strings.TrimSpace(x), 64)
		n.Position.Y, _ = strconv.ParseFloat(strings.TrimSpace(y), 64)
	}
	return n, nil
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	order []string
	nodes map[string]map[string]string // id → attrs
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unquote(v)
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	c.edges = append(c.edges, rawEdge{from: unquote(src), to: unquote(dst)})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error { return nil }

func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// ─── helpers ─────────────────────────────────────────────────────────────────

// unquote strips surrounding double-quotes from a DOT attribute value and
// undoes the escaping applied by dotQuote.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	s = s[1 : len(s)-1]
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\':
				sb.WriteByte(s[i+1])
				i++
				continue
			case 'n':
				sb.WriteByte('\n')
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
