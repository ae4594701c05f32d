package pipeline

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the transformation a node performs.
type Kind string

const (
	KindSource  Kind = "dataSource"
	KindFilter  Kind = "filter"
	KindGroupBy Kind = "groupBy"
	KindSort    Kind = "sort"
	KindSelect  Kind = "select"
	KindCompute Kind = "computedColumn"
	KindReshape Kind = "reshape"
	KindChart   Kind = "chart"
	KindQuery   Kind = "query"
	KindNote    Kind = "note"
)

// DataKinds lists the kinds that take part in the generated script, in
// palette order.
var DataKinds = []Kind{
	KindSource, KindFilter, KindGroupBy, KindSort,
	KindSelect, KindCompute, KindReshape, KindChart,
}

var displayNames = map[Kind]string{
	KindSource:  "Data Source",
	KindFilter:  "Filter",
	KindGroupBy: "Group By",
	KindSort:    "Sort",
	KindSelect:  "Select Columns",
	KindCompute: "Computed Column",
	KindReshape: "Reshape",
	KindChart:   "Chart",
	KindQuery:   "Query",
	KindNote:    "Note",
}

// IsDataKind reports whether nodes of this kind belong to the pipeline
// proper. Advisory kinds (query, note) share the canvas but never produce
// code.
func (k Kind) IsDataKind() bool {
	for _, d := range DataKinds {
		if d == k {
			return true
		}
	}
	return false
}

// Known reports whether k is one of the closed set of kinds.
func (k Kind) Known() bool {
	_, ok := displayNames[k]
	return ok
}

// DisplayName returns the human-readable name used in labels and
// placeholders.
func (k Kind) DisplayName() string {
	if n, ok := displayNames[k]; ok {
		return n
	}
	return string(k)
}

// State is a node's position in the execution lifecycle.
type State string

const (
	StateProposed  State = "proposed"
	StateConfirmed State = "confirmed"
	StateRunning   State = "running"
	StateError     State = "error"
)

// transitions lists the allowed state changes. There is no terminal state.
var transitions = map[State][]State{
	StateProposed:  {StateConfirmed},
	StateConfirmed: {StateRunning},
	StateRunning:   {StateConfirmed, StateError},
	StateError:     {StateRunning},
}

// CanTransition reports whether a node may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Position is the canvas location of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single pipeline step.
//
// Config is treated as an immutable value: callers replace it rather than
// mutating slices inside it.
type Node struct {
	ID           string
	Kind         Kind
	Label        string
	Config       Config
	State        State
	OverrideCode string
	Error        string
	InputRows    *int
	OutputRows   *int
	Position     Position
}

// EffectiveConfig returns the node's config, or the zero config of its kind
// when none is set.
func (n *Node) EffectiveConfig() Config {
	if n.Config != nil {
		return n.Config
	}
	return ZeroConfig(n.Kind)
}

// DisplayLabel returns the label, falling back to the kind's display name.
func (n *Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.Kind.DisplayName()
}

// clone returns a copy that shares no mutable pointers with n.
func (n *Node) clone() Node {
	c := *n
	if n.InputRows != nil {
		v := *n.InputRows
		c.InputRows = &v
	}
	if n.OutputRows != nil {
		v := *n.OutputRows
		c.OutputRows = &v
	}
	return c
}

type nodeJSON struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Label        string          `json:"label,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	State        State           `json:"state,omitempty"`
	OverrideCode string          `json:"overrideCode,omitempty"`
	Error        string          `json:"error,omitempty"`
	InputRows    *int            `json:"inputRowCount,omitempty"`
	OutputRows   *int            `json:"outputRowCount,omitempty"`
	Position     Position        `json:"position"`
}

// MarshalJSON encodes the node with its kind-specific config inline.
func (n Node) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if n.Config != nil {
		b, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q: marshal config: %w", n.ID, err)
		}
		raw = b
	}
	return json.Marshal(nodeJSON{
		ID:           n.ID,
		Kind:         n.Kind,
		Label:        n.Label,
		Config:       raw,
		State:        n.State,
		OverrideCode: n.OverrideCode,
		Error:        n.Error,
		InputRows:    n.InputRows,
		OutputRows:   n.OutputRows,
		Position:     n.Position,
	})
}

// UnmarshalJSON decodes a node, dispatching config decoding on its kind.
func (n *Node) UnmarshalJSON(data []byte) error {
	var j nodeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	cfg, err := DecodeConfig(j.Kind, j.Config)
	if err != nil {
		return fmt.Errorf("node %q: %w", j.ID, err)
	}
	*n = Node{
		ID:           j.ID,
		Kind:         j.Kind,
		Label:        j.Label,
		Config:       cfg,
		State:        j.State,
		OverrideCode: j.OverrideCode,
		Error:        j.Error,
		InputRows:    j.InputRows,
		OutputRows:   j.OutputRows,
		Position:     j.Position,
	}
	return nil
}

// Edge is a directed data-flow connection between two nodes.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"source"`
	To   string `json:"target"`
}

// OutgoingEdges returns all edges leaving nodeID, in definition order.
func OutgoingEdges(edges []Edge, nodeID string) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns all edges arriving at nodeID.
func IncomingEdges(edges []Edge, nodeID string) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}
