package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ravi-parthasarathy/convoy/pkg/codegen"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// ErrDraftNotFound is returned for an unknown draft id.
var ErrDraftNotFound = errors.New("reconcile: draft not found")

// Draft is a scratch cell with no node behind it.
type Draft struct {
	Cell     codegen.Cell
	Error    string
	Consumed bool
}

// DraftSet holds the drafts of one pipeline in creation order.
type DraftSet struct {
	mu     sync.Mutex
	drafts []Draft
}

// NewDraftSet returns an empty set.
func NewDraftSet() *DraftSet {
	return &DraftSet{}
}

// Add creates a draft holding code.
func (s *DraftSet) Add(code string) codegen.Cell {
	c := codegen.NewDraft(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts = append(s.drafts, Draft{Cell: c})
	return c
}

// List returns a copy of the drafts.
func (s *DraftSet) List() []Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Draft(nil), s.drafts...)
}

// Cells returns the draft cells, for appending after the pipeline cells.
func (s *DraftSet) Cells() []codegen.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]codegen.Cell, len(s.drafts))
	for i, d := range s.drafts {
		out[i] = d.Cell
	}
	return out
}

// Get returns one draft.
func (s *DraftSet) Get(id codegen.DraftRef) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Draft{}, fmt.Errorf("draft %q: %w", id.ID, ErrDraftNotFound)
	}
	return s.drafts[i], nil
}

// SetCode replaces a draft's code and clears its error.
func (s *DraftSet) SetCode(id codegen.DraftRef, code string) error {
	return s.update(id, func(d *Draft) {
		d.Cell.Code = code
		d.Error = ""
	})
}

// Fail records a run failure on a draft. The draft stays in the set.
func (s *DraftSet) Fail(id codegen.DraftRef, msg string) error {
	return s.update(id, func(d *Draft) { d.Error = msg })
}

// Consume marks drafts whose code has been taken over by nodes.
func (s *DraftSet) Consume(ids ...codegen.DraftRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if i := s.index(id); i >= 0 {
			s.drafts[i].Consumed = true
		}
	}
}

// DiscardConsumed drops consumed drafts and returns how many went.
func (s *DraftSet) DiscardConsumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.drafts[:0]
	for _, d := range s.drafts {
		if !d.Consumed {
			kept = append(kept, d)
		}
	}
	n := len(s.drafts) - len(kept)
	clear(s.drafts[len(kept):])
	s.drafts = kept
	return n
}

// Promote turns a draft into a confirmed node appended to the end of the
// pipeline, then discards the draft. An empty kind infers the step from
// the draft's code. The draft's code is kept as override code unless the
// config generates exactly the same statement.
func (s *DraftSet) Promote(g *pipeline.Graph, id codegen.DraftRef, kind pipeline.Kind, cfg pipeline.Config) (string, error) {
	d, err := s.Get(id)
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(d.Cell.Code)
	if kind == "" {
		kind, cfg = InferStep(code)
	}
	if !kind.IsDataKind() {
		return "", &Error{Reason: fmt.Sprintf("draft %q: kind %q is not a pipeline kind", id.ID, kind)}
	}
	if cfg == nil {
		cfg = pipeline.ZeroConfig(kind)
	}
	override := code
	if override == strings.TrimSpace(codegen.GenerateConfig(kind, cfg)) {
		override = ""
	}

	nodeID := pipeline.NewID()
	err = g.Rewrite(func(nodes []pipeline.Node, edges []pipeline.Edge) ([]pipeline.Node, []pipeline.Edge, error) {
		ordered := pipeline.OrderedPipeline(nodes, edges)
		n := pipeline.Node{
			ID:           nodeID,
			Kind:         kind,
			Label:        d.Cell.Label,
			Config:       cfg,
			State:        pipeline.StateConfirmed,
			OverrideCode: override,
			Position:     Layout(len(ordered)),
		}
		if n.Label == codegen.DraftLabel {
			n.Label = ""
		}
		if len(ordered) > 0 {
			edges = append(edges, pipeline.Edge{ID: pipeline.NewID(), From: ordered[len(ordered)-1].ID, To: nodeID})
		}
		return append(nodes, n), edges, nil
	})
	if err != nil {
		return "", err
	}
	s.Consume(id)
	s.DiscardConsumed()
	return nodeID, nil
}

// InferStep maps a single recognised statement to its kind and config.
// Anything else becomes a compute step carried by override code.
func InferStep(code string) (pipeline.Kind, pipeline.Config) {
	res := codegen.ParseScript(code)
	if !res.Fallback && len(res.Steps) == 1 {
		return res.Steps[0].Kind, res.Steps[0].Config
	}
	return pipeline.KindCompute, pipeline.ComputeConfig{}
}

func (s *DraftSet) update(id codegen.DraftRef, fn func(d *Draft)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("draft %q: %w", id.ID, ErrDraftNotFound)
	}
	fn(&s.drafts[i])
	return nil
}

func (s *DraftSet) index(id codegen.DraftRef) int {
	for i, d := range s.drafts {
		if r, ok := d.Cell.Ref.(codegen.DraftRef); ok && r == id {
			return i
		}
	}
	return -1
}
