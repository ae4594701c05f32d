package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is the serialisable form of a pipeline graph.
type Document struct {
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph returns a new Graph holding the document's nodes and edges.
func (d *Document) Graph() *Graph {
	return NewGraphFrom(d.Nodes, d.Edges)
}

// DocumentOf snapshots a graph into a document.
func DocumentOf(name string, g *Graph) *Document {
	nodes, edges := g.Snapshot()
	return &Document{Name: name, Nodes: nodes, Edges: edges}
}

// Save writes the document as indented JSON.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("document marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("document write: %w", err)
	}
	return nil
}

// DecodeDocument parses a JSON document.
func DecodeDocument(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("document unmarshal: %w", err)
	}
	for i := range d.Nodes {
		if d.Nodes[i].State == "" {
			d.Nodes[i].State = StateConfirmed
		}
	}
	return &d, nil
}

// Load reads a pipeline file. Files ending in .dot or .gv are parsed as
// DOT; anything else as a JSON document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document read: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		d, err := ParseDOT(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	default:
		d, err := DecodeDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return d, nil
	}
}
