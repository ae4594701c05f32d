// Package reconcile merges pipeline proposals and code edits back into a
// graph.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// ProposedNode is one step of a proposal.
type ProposedNode struct {
	Kind         pipeline.Kind
	Config       pipeline.Config
	Label        string
	OverrideCode string
}

// Proposal is an ordered list of steps from an importer or generator. A
// nil Nodes slice means the response carried no node list at all.
type Proposal struct {
	Nodes       []ProposedNode
	Explanation string
}

// Update is a partial change to one node. Nil fields are left alone.
type Update struct {
	Config       pipeline.Config
	OverrideCode *string
}

// Error rejects a structurally invalid proposal. The graph is untouched.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "reconcile: " + e.Reason }

// Options tunes Apply.
type Options struct {
	// UpToIndex keeps ordered pipeline steps 0..UpToIndex and replaces the
	// rest. Nil keeps every existing step and appends after them.
	UpToIndex *int
	// Drafts, when set, discards the Consumed drafts once the proposal is
	// merged. A failed merge leaves them in place.
	Drafts   *DraftSet
	Consumed []codegen.DraftRef
}

// Outcome reports what Apply changed.
type Outcome struct {
	Replaced bool
	Created  []string
	Removed  []string
}

// Spacing between laid-out steps.
const (
	LayoutStepX = 250
	LayoutRowY  = 100
)

// Layout is the canvas position of the i-th step in a left-to-right chain.
func Layout(i int) pipeline.Position {
	return pipeline.Position{X: float64(LayoutStepX * i), Y: LayoutRowY}
}

// Apply merges a proposal into g. A graph without data nodes is replaced
// by the proposal; otherwise steps past opts.UpToIndex are replaced and the
// proposal is chained after the kept prefix. New nodes start proposed.
func Apply(g *pipeline.Graph, p *Proposal, opts Options) (*Outcome, error) {
	if err := check(p); err != nil {
		return nil, err
	}
	out := &Outcome{}
	err := g.Rewrite(func(nodes []pipeline.Node, edges []pipeline.Edge) ([]pipeline.Node, []pipeline.Edge, error) {
		ordered := pipeline.OrderedPipeline(nodes, edges)
		keep := len(ordered)
		if opts.UpToIndex != nil {
			keep = min(max(*opts.UpToIndex+1, 0), len(ordered))
		}
		out.Replaced = len(ordered) == 0

		drop := make(map[string]bool)
		for _, n := range ordered[keep:] {
			drop[n.ID] = true
			out.Removed = append(out.Removed, n.ID)
		}
		kept := ordered[:keep]

		steps := p.Nodes
		// The kept prefix already has its source.
		if len(kept) > 0 {
			for len(steps) > 0 && steps[0].Kind == pipeline.KindSource {
				steps = steps[1:]
			}
		}

		var next []pipeline.Node
		for _, n := range nodes {
			if !drop[n.ID] {
				next = append(next, n)
			}
		}
		var nextEdges []pipeline.Edge
		for _, e := range edges {
			if !drop[e.From] && !drop[e.To] {
				nextEdges = append(nextEdges, e)
			}
		}

		prev := ""
		if len(kept) > 0 {
			prev = kept[len(kept)-1].ID
		}
		for i, s := range steps {
			n := pipeline.Node{
				ID:           pipeline.NewID(),
				Kind:         s.Kind,
				Label:        s.Label,
				Config:       s.Config,
				State:        pipeline.StateProposed,
				OverrideCode: s.OverrideCode,
				Position:     Layout(len(kept) + i),
			}
			if n.Config == nil {
				n.Config = pipeline.ZeroConfig(n.Kind)
			}
			next = append(next, n)
			out.Created = append(out.Created, n.ID)
			if prev != "" {
				nextEdges = append(nextEdges, pipeline.Edge{ID: pipeline.NewID(), From: prev, To: n.ID})
			}
			prev = n.ID
		}
		return next, nextEdges, nil
	})
	if err != nil {
		return nil, err
	}
	if opts.Drafts != nil && len(opts.Consumed) > 0 {
		opts.Drafts.Consume(opts.Consumed...)
		opts.Drafts.DiscardConsumed()
	}
	return out, nil
}

func check(p *Proposal) error {
	if p == nil || p.Nodes == nil {
		return &Error{Reason: "proposal has no node list"}
	}
	for i, n := range p.Nodes {
		if !n.Kind.IsDataKind() {
			return &Error{Reason: fmt.Sprintf("step %d: kind %q is not a pipeline kind", i, n.Kind)}
		}
		if n.Config != nil && n.Config.Kind() != n.Kind {
			return &Error{Reason: fmt.Sprintf("step %d: config for %q given to %q", i, n.Config.Kind(), n.Kind)}
		}
	}
	return nil
}

// ApplyEdits applies per-node updates. Every target must exist; otherwise
// nothing is changed.
func ApplyEdits(g *pipeline.Graph, updates map[string]Update) error {
	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return g.Rewrite(func(nodes []pipeline.Node, edges []pipeline.Edge) ([]pipeline.Node, []pipeline.Edge, error) {
		index := make(map[string]int, len(nodes))
		for i, n := range nodes {
			index[n.ID] = i
		}
		for _, id := range ids {
			i, ok := index[id]
			if !ok {
				return nil, nil, fmt.Errorf("edit node %q: %w", id, pipeline.ErrNodeNotFound)
			}
			u := updates[id]
			if u.Config != nil {
				if u.Config.Kind() != nodes[i].Kind {
					return nil, nil, fmt.Errorf("edit node %q: %w", id, pipeline.ErrKindMismatch)
				}
				nodes[i].Config = u.Config
			}
			if u.OverrideCode != nil {
				nodes[i].OverrideCode = *u.OverrideCode
			}
		}
		return nodes, edges, nil
	})
}

// ApplyCodeEdits stores edited cell code as override code on the cell's
// node. Code equal to what the config generates clears the override. Draft
// cells are skipped. Returns the ids of the nodes that changed.
func ApplyCodeEdits(g *pipeline.Graph, changes []codegen.Change) ([]string, error) {
	updates := make(map[string]Update)
	for _, c := range changes {
		ref, ok := c.Ref.(codegen.NodeRef)
		if !ok {
			continue
		}
		n, err := g.Node(ref.ID)
		if err != nil {
			return nil, fmt.Errorf("code edit: %w", err)
		}
		code := strings.TrimSpace(c.After)
		if code == strings.TrimSpace(codegen.GenerateConfig(n.Kind, n.EffectiveConfig())) {
			code = ""
		}
		updates[ref.ID] = Update{OverrideCode: &code}
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := ApplyEdits(g, updates); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ProposalFromSteps turns parsed script steps into a proposal.
func ProposalFromSteps(steps []codegen.Step, explanation string) *Proposal {
	p := &Proposal{Nodes: make([]ProposedNode, 0, len(steps)), Explanation: explanation}
	for _, s := range steps {
		p.Nodes = append(p.Nodes, ProposedNode{Kind: s.Kind, Config: s.Config})
	}
	return p
}

// IsRejection reports whether err is a proposal rejection.
func IsRejection(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
