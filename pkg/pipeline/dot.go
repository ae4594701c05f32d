package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// truncate shortens s to maxLen chars, appending "…" if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// RenderText produces a human-readable summary of a document. Data nodes
// are listed in pipeline order, followed by advisory nodes.
func RenderText(d *Document) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Pipeline: %s  (%d nodes, %d edges)\n", d.Name, len(d.Nodes), len(d.Edges))

	// Calculate column widths.
	maxIDLen := 4 // minimum "node"
	for _, n := range d.Nodes {
		if len(n.ID) > maxIDLen {
			maxIDLen = len(n.ID)
		}
	}

	fmt.Fprintf(&sb, "\nNodes:\n")
	for i, n := range renderOrder(d) {
		attrs := ConfigAttrs(n.EffectiveConfig())
		var attrParts []string
		for _, k := range sortedKeys(attrs) {
			attrParts = append(attrParts, k+"="+truncate(attrs[k], 60))
		}
		if n.OverrideCode != "" {
			attrParts = append(attrParts, "override="+truncate(n.OverrideCode, 60))
		}
		step := "-"
		if n.Kind.IsDataKind() {
			step = strconv.Itoa(i + 1)
		}
		fmt.Fprintf(&sb, "  %2s  %-*s  %-14s  %-9s  %s\n",
			step, maxIDLen, n.ID, string(n.Kind), string(n.State), strings.Join(attrParts, " "))
	}

	fmt.Fprintf(&sb, "\nEdges:\n")
	// Compute max From width for alignment.
	maxFromLen := 4
	for _, e := range d.Edges {
		if len(e.From) > maxFromLen {
			maxFromLen = len(e.From)
		}
	}
	for _, e := range d.Edges {
		fmt.Fprintf(&sb, "  %-*s  →  %s\n", maxFromLen, e.From, e.To)
	}

	return sb.String()
}

// dotQuote returns the value as a DOT-safe string, quoting if necessary.
func dotQuote(s string) string {
	// Quote if the value contains spaces, backslashes, or special DOT chars.
	needsQuote := s == "" ||
		strings.ContainsAny(s, " \t\n\\\"{}[]<>=;,:.()*+-/'!#&|") ||
		isDOTKeyword(s) || (s[0] >= '0' && s[0] <= '9')
	if needsQuote {
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		return `"` + escaped + `"`
	}
	return s
}

func isDOTKeyword(s string) bool {
	switch strings.ToLower(s) {
	case "node", "edge", "graph", "digraph", "subgraph", "strict":
		return true
	}
	return false
}

// RenderDOT produces a canonical DOT digraph string that ParseDOT reads
// back into an equivalent document.
func RenderDOT(d *Document) string {
	var sb strings.Builder

	name := d.Name
	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))

	for _, n := range d.Nodes {
		// Build attr list: kind first, then bookkeeping, then sorted config.
		parts := []string{attrKind + "=" + dotQuote(string(n.Kind))}
		if n.Label != "" {
			parts = append(parts, attrLabel+"="+dotQuote(n.Label))
		}
		if n.State != "" && n.State != StateConfirmed {
			parts = append(parts, attrState+"="+dotQuote(string(n.State)))
		}
		if n.OverrideCode != "" {
			parts = append(parts, attrOverride+"="+dotQuote(n.OverrideCode))
		}
		if n.Position != (Position{}) {
			pos := strconv.FormatFloat(n.Position.X, 'f', -1, 64) + "," + strconv.FormatFloat(n.Position.Y, 'f', -1, 64)
			parts = append(parts, attrPos+"="+dotQuote(pos))
		}
		attrs := ConfigAttrs(n.EffectiveConfig())
		for _, k := range sortedKeys(attrs) {
			parts = append(parts, k+"="+dotQuote(attrs[k]))
		}
		fmt.Fprintf(&sb, "    %s [%s]\n", dotQuote(n.ID), strings.Join(parts, " "))
	}

	for _, e := range d.Edges {
		fmt.Fprintf(&sb, "    %s -> %s\n", dotQuote(e.From), dotQuote(e.To))
	}

	fmt.Fprintf(&sb, "}\n")
	return sb.String()
}

// renderOrder lists data nodes in pipeline order, then advisory nodes in
// document order.
func renderOrder(d *Document) []Node {
	out := OrderedPipeline(d.Nodes, d.Edges)
	for _, n := range d.Nodes {
		if !n.Kind.IsDataKind() {
			out = append(out, n)
		}
	}
	return out
}
