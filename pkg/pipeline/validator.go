package pipeline

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a pipeline.
type LintError struct {
	NodeID  string
	Message string
}

func (e LintError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Validate checks a document for structural correctness.
// Returns all discovered errors (not just the first).
func Validate(d *Document) []LintError {
	var errs []LintError

	byID := make(map[string]*Node, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			errs = append(errs, LintError{Message: fmt.Sprintf("node at position %d has no id", i)})
			continue
		}
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, LintError{NodeID: n.ID, Message: "duplicate node id"})
			continue
		}
		byID[n.ID] = n
		if !n.Kind.Known() {
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("unknown kind %q", n.Kind)})
		}
	}

	// All edge endpoints must reference existing nodes
	for _, e := range d.Edges {
		if _, ok := byID[e.From]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge references unknown source node %q", e.From)})
		}
		if _, ok := byID[e.To]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("edge references unknown target node %q", e.To)})
		}
		if e.From == e.To {
			errs = append(errs, LintError{NodeID: e.From, Message: "edge connects node to itself"})
		}
	}

	nodes, edges := PipelineNodesOnly(d.Nodes, d.Edges)
	for _, n := range nodes {
		in := IncomingEdges(edges, n.ID)
		switch {
		case n.Kind == KindSource && len(in) > 0:
			errs = append(errs, LintError{NodeID: n.ID, Message: "data source must not have incoming edges"})
		case len(in) > 1:
			errs = append(errs, LintError{NodeID: n.ID, Message: fmt.Sprintf("node has %d incoming edges; at most one allowed", len(in))})
		}
	}

	for _, id := range cyclicNodes(nodes, edges) {
		errs = append(errs, LintError{NodeID: id, Message: "node is part of a cycle"})
	}

	// Required config checks. Override code replaces config-driven
	// generation, so overridden nodes are exempt.
	for _, n := range nodes {
		errs = append(errs, ValidateNode(&n)...)
	}

	return errs
}

// ValidateNode checks a single node's required config fields and returns
// any lint errors.
func ValidateNode(n *Node) []LintError {
	if !n.Kind.IsDataKind() || strings.TrimSpace(n.OverrideCode) != "" {
		return nil
	}
	var errs []LintError
	for _, field := range n.EffectiveConfig().Missing() {
		errs = append(errs, LintError{
			NodeID:  n.ID,
			Message: fmt.Sprintf("missing required config %q for kind %q", field, n.Kind),
		})
	}
	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error message listing all lint errors.
func ValidateErr(d *Document) error {
	errs := Validate(d)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("pipeline validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// cyclicNodes returns, in input order, the ids of nodes that can reach
// themselves through at least one edge.
func cyclicNodes(nodes []Node, edges []Edge) []string {
	var out []string
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		for _, e := range OutgoingEdges(edges, n.ID) {
			if e.To != n.ID && reachableFrom(edges, e.To)[n.ID] {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// reachableFrom returns the set of node IDs reachable from start via directed edges.
func reachableFrom(edges []Edge, start string) map[string]bool {
	visited := map[string]bool{}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range OutgoingEdges(edges, cur) {
			queue = append(queue, e.To)
		}
	}
	return visited
}
