package codegen

import (
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// CellRef identifies what a cell stands for: a graph node or a draft.
// Implementations are NodeRef and DraftRef.
type CellRef interface {
	// Key returns a stable string form, unique across both variants.
	Key() string

	cellRef()
}

// NodeRef points at a node in the graph.
type NodeRef struct{ ID string }

// DraftRef points at a scratch cell that has no graph node yet.
type DraftRef struct{ ID string }

func (r NodeRef) Key() string  { return "node:" + r.ID }
func (r DraftRef) Key() string { return "draft:" + r.ID }

func (NodeRef) cellRef()  {}
func (DraftRef) cellRef() {}

// Cell pairs a node or draft with its code and display label.
type Cell struct {
	Ref        CellRef
	Kind       pipeline.Kind
	Label      string
	Code       string
	Overridden bool
	// Columns holds the known column names of a source step.
	Columns []string
}

// NodeID returns the node id for node-backed cells.
func (c Cell) NodeID() (string, bool) {
	r, ok := c.Ref.(NodeRef)
	return r.ID, ok
}

// IsDraft reports whether the cell is a draft.
func (c Cell) IsDraft() bool {
	_, ok := c.Ref.(DraftRef)
	return ok
}

// NodeCell builds the cell for one node.
func NodeCell(n pipeline.Node) Cell {
	c := Cell{
		Ref:        NodeRef{ID: n.ID},
		Kind:       n.Kind,
		Label:      n.DisplayLabel(),
		Code:       Generate(n),
		Overridden: strings.TrimSpace(n.OverrideCode) != "",
	}
	if src, ok := n.EffectiveConfig().(pipeline.SourceConfig); ok {
		for _, col := range src.Columns {
			c.Columns = append(c.Columns, col.Name)
		}
	}
	return c
}

// BuildCells derives the ordered cells of the pipeline held in nodes and
// edges. Advisory nodes never produce cells.
func BuildCells(nodes []pipeline.Node, edges []pipeline.Edge) []Cell {
	ordered := pipeline.OrderedPipeline(nodes, edges)
	cells := make([]Cell, len(ordered))
	for i, n := range ordered {
		cells[i] = NodeCell(n)
	}
	return cells
}

// DraftLabel is the display label of draft cells.
const DraftLabel = "Draft"

// NewDraft creates a draft cell with a fresh identity.
func NewDraft(code string) Cell {
	return Cell{
		Ref:        DraftRef{ID: ulid.Make().String()},
		Label:      DraftLabel,
		Code:       code,
		Overridden: true,
	}
}

// IndexOf returns the position of the cell with the given ref, or -1.
func IndexOf(cells []Cell, ref CellRef) int {
	for i, c := range cells {
		if c.Ref == ref {
			return i
		}
	}
	return -1
}
