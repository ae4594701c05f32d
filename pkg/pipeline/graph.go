package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNodeNotFound      = errors.New("pipeline: node not found")
	ErrEdgeNotFound      = errors.New("pipeline: edge not found")
	ErrDuplicateNode     = errors.New("pipeline: duplicate node id")
	ErrDuplicateEdge     = errors.New("pipeline: duplicate edge")
	ErrSelfLoop          = errors.New("pipeline: edge connects a node to itself")
	ErrCycleDetected     = errors.New("pipeline: cycle detected, graph is not acyclic")
	ErrInvalidTransition = errors.New("pipeline: invalid state transition")
	ErrKindMismatch      = errors.New("pipeline: config kind does not match node kind")
)

// NewID returns a fresh node or edge identifier.
func NewID() string { return uuid.NewString() }

// Graph is the single shared store of nodes and edges. Every mutation goes
// through a named method that applies atomically; readers get copies.
type Graph struct {
	mu       sync.RWMutex
	nodes    []*Node
	edges    []Edge
	selected map[string]bool
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{selected: make(map[string]bool)}
}

// NewGraphFrom creates a Graph holding copies of the given nodes and edges.
// Unlike AddEdge it does not reject cycles: documents loaded from disk may
// carry them and the validator reports them instead.
func NewGraphFrom(nodes []Node, edges []Edge) *Graph {
	g := NewGraph()
	g.Replace(nodes, edges)
	return g
}

// Snapshot returns copies of all nodes and edges in insertion order.
func (g *Graph) Snapshot() ([]Node, []Edge) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = n.clone()
	}
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return nodes, edges
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := g.find(id)
	if n == nil {
		return Node{}, fmt.Errorf("node %q: %w", id, ErrNodeNotFound)
	}
	return n.clone(), nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// HasDataNodes reports whether any node belongs to the pipeline proper.
func (g *Graph) HasDataNodes() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.Kind.IsDataKind() {
			return true
		}
	}
	return false
}

// AddNode inserts a node. An empty ID is replaced by a generated one, an
// empty state defaults to confirmed and a nil config to the kind's zero
// config. Returns the node ID.
func (g *Graph) AddNode(n Node) (string, error) {
	if !n.Kind.Known() {
		return "", fmt.Errorf("add node: unknown kind %q", n.Kind)
	}
	if n.Config == nil {
		n.Config = ZeroConfig(n.Kind)
	} else if n.Config.Kind() != n.Kind {
		return "", fmt.Errorf("add node: %w", ErrKindMismatch)
	}
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.State == "" {
		n.State = StateConfirmed
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.find(n.ID) != nil {
		return "", fmt.Errorf("add node %q: %w", n.ID, ErrDuplicateNode)
	}
	c := n.clone()
	g.nodes = append(g.nodes, &c)
	return n.ID, nil
}

// UpdateConfig replaces a node's config.
func (g *Graph) UpdateConfig(id string, cfg Config) error {
	return g.update(id, func(n *Node) error {
		if cfg == nil {
			cfg = ZeroConfig(n.Kind)
		}
		if cfg.Kind() != n.Kind {
			return ErrKindMismatch
		}
		n.Config = cfg
		return nil
	})
}

// SetOverride sets free-form code that takes priority over config-driven
// generation. An empty string clears it.
func (g *Graph) SetOverride(id, code string) error {
	return g.update(id, func(n *Node) error {
		n.OverrideCode = code
		return nil
	})
}

// SetLabel sets the display label.
func (g *Graph) SetLabel(id, label string) error {
	return g.update(id, func(n *Node) error {
		n.Label = label
		return nil
	})
}

// Move sets the canvas position.
func (g *Graph) Move(id string, pos Position) error {
	return g.update(id, func(n *Node) error {
		n.Position = pos
		return nil
	})
}

// Transition moves a node to a new state, enforcing the lifecycle.
func (g *Graph) Transition(id string, to State) error {
	return g.update(id, func(n *Node) error {
		if !CanTransition(n.State, to) {
			return fmt.Errorf("%s -> %s: %w", n.State, to, ErrInvalidTransition)
		}
		n.State = to
		if to != StateError {
			n.Error = ""
		}
		return nil
	})
}

// RemoveNode deletes a node and every edge touching it. Removing an
// unknown node is not an error.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(map[string]bool{id: true})
}

// AddEdge connects two existing nodes. It rejects self loops, duplicates
// and edges that would close a cycle. Returns the edge ID.
func (g *Graph) AddEdge(e Edge) (string, error) {
	if e.From == e.To {
		return "", fmt.Errorf("add edge %q: %w", e.From, ErrSelfLoop)
	}
	if e.ID == "" {
		e.ID = NewID()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.find(e.From) == nil {
		return "", fmt.Errorf("add edge: source %q: %w", e.From, ErrNodeNotFound)
	}
	if g.find(e.To) == nil {
		return "", fmt.Errorf("add edge: target %q: %w", e.To, ErrNodeNotFound)
	}
	for _, existing := range g.edges {
		if existing.ID == e.ID || (existing.From == e.From && existing.To == e.To) {
			return "", fmt.Errorf("add edge %s->%s: %w", e.From, e.To, ErrDuplicateEdge)
		}
	}
	if g.reachableLocked(e.To, e.From) {
		return "", fmt.Errorf("add edge %s->%s: %w", e.From, e.To, ErrCycleDetected)
	}
	g.edges = append(g.edges, e)
	return e.ID, nil
}

// RemoveEdge deletes an edge by ID.
func (g *Graph) RemoveEdge(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, e := range g.edges {
		if e.ID == id {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("edge %q: %w", id, ErrEdgeNotFound)
}

// Select replaces the current selection. Unknown ids are ignored.
func (g *Graph) Select(ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.selected = make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.find(id) != nil {
			g.selected[id] = true
		}
	}
}

// Selection returns the selected node ids in node order.
func (g *Graph) Selection() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for _, n := range g.nodes {
		if g.selected[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// ConfirmProposals moves proposed nodes to confirmed. With no ids every
// proposed node is confirmed. Returns the confirmed ids.
func (g *Graph) ConfirmProposals(ids ...string) []string {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, n := range g.nodes {
		if n.State != StateProposed {
			continue
		}
		if len(ids) > 0 && !want[n.ID] {
			continue
		}
		n.State = StateConfirmed
		out = append(out, n.ID)
	}
	return out
}

// ClearProposals removes every proposed node and its edges. Returns the
// removed ids.
func (g *Graph) ClearProposals() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	drop := map[string]bool{}
	var out []string
	for _, n := range g.nodes {
		if n.State == StateProposed {
			drop[n.ID] = true
			out = append(out, n.ID)
		}
	}
	g.removeLocked(drop)
	return out
}

// Replace swaps the whole graph content in one step. Edges whose endpoints
// are missing are kept as-is; the filter drops them from the pipeline.
func (g *Graph) Replace(nodes []Node, edges []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make([]*Node, len(nodes))
	for i := range nodes {
		c := nodes[i].clone()
		if c.Config == nil {
			c.Config = ZeroConfig(c.Kind)
		}
		if c.State == "" {
			c.State = StateConfirmed
		}
		g.nodes[i] = &c
	}
	g.edges = make([]Edge, len(edges))
	copy(g.edges, edges)
	g.selected = make(map[string]bool)
}

// Rewrite replaces the graph content with the result of fn, which receives
// copies of the current nodes and edges. The read and the write happen under
// one lock. Selected nodes that survive stay selected. When fn returns an
// error the graph is left untouched.
func (g *Graph) Rewrite(fn func(nodes []Node, edges []Edge) ([]Node, []Edge, error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = n.clone()
	}
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)

	nodes, edges, err := fn(nodes, edges)
	if err != nil {
		return err
	}
	g.nodes = make([]*Node, len(nodes))
	alive := make(map[string]bool, len(nodes))
	for i := range nodes {
		c := nodes[i].clone()
		if c.Config == nil {
			c.Config = ZeroConfig(c.Kind)
		}
		if c.State == "" {
			c.State = StateConfirmed
		}
		g.nodes[i] = &c
		alive[c.ID] = true
	}
	g.edges = append([]Edge(nil), edges...)
	for id := range g.selected {
		if !alive[id] {
			delete(g.selected, id)
		}
	}
	return nil
}

// RunRecord is the outcome of executing one node.
type RunRecord struct {
	NodeID     string
	Err        string
	InputRows  *int
	OutputRows *int
}

// MarkRunning moves the given nodes into the running state in one step and
// returns their previous states. Nodes that cannot enter running are left
// alone and reported through the error.
func (g *Graph) MarkRunning(ids []string) (map[string]State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := make(map[string]State, len(ids))
	for _, id := range ids {
		n := g.find(id)
		if n == nil {
			return nil, fmt.Errorf("node %q: %w", id, ErrNodeNotFound)
		}
		if !CanTransition(n.State, StateRunning) {
			return nil, fmt.Errorf("node %q %s -> %s: %w", id, n.State, StateRunning, ErrInvalidTransition)
		}
	}
	for _, id := range ids {
		n := g.find(id)
		prev[id] = n.State
		n.State = StateRunning
	}
	return prev, nil
}

// RecordRun writes execution results back in one step. Records with an
// error move their node to the error state; the others to confirmed. Nodes
// in restore that have no record go back to their previous state.
func (g *Graph) RecordRun(records []RunRecord, restore map[string]State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	done := make(map[string]bool, len(records))
	for _, r := range records {
		n := g.find(r.NodeID)
		if n == nil {
			continue
		}
		done[r.NodeID] = true
		n.InputRows = r.InputRows
		n.OutputRows = r.OutputRows
		if r.Err != "" {
			n.State = StateError
			n.Error = r.Err
		} else {
			n.State = StateConfirmed
			n.Error = ""
		}
	}
	for id, st := range restore {
		if done[id] {
			continue
		}
		if n := g.find(id); n != nil && n.State == StateRunning {
			n.State = st
		}
	}
}

// ─── internals ───────────────────────────────────────────────────────────────

func (g *Graph) update(id string, fn func(n *Node) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.find(id)
	if n == nil {
		return fmt.Errorf("node %q: %w", id, ErrNodeNotFound)
	}
	c := n.clone()
	if err := fn(&c); err != nil {
		return fmt.Errorf("node %q: %w", id, err)
	}
	*n = c
	return nil
}

func (g *Graph) find(id string) *Node {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (g *Graph) removeLocked(drop map[string]bool) {
	kept := g.nodes[:0]
	for _, n := range g.nodes {
		if !drop[n.ID] {
			kept = append(kept, n)
		}
	}
	for i := len(kept); i < len(g.nodes); i++ {
		g.nodes[i] = nil
	}
	g.nodes = kept

	keptEdges := g.edges[:0]
	for _, e := range g.edges {
		if !drop[e.From] && !drop[e.To] {
			keptEdges = append(keptEdges, e)
		}
	}
	g.edges = keptEdges

	for id := range drop {
		delete(g.selected, id)
	}
}

// reachableLocked reports whether to can be reached from from.
func (g *Graph) reachableLocked(from, to string) bool {
	return reachableFrom(g.edges, from)[to]
}
