// Package store persists pipeline documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
)

// ErrNotFound is returned for an unknown pipeline id.
var ErrNotFound = errors.New("store: pipeline not found")

// Summary describes a stored pipeline without its content.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     int       `json:"nodes"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store defines the contract for persisting and retrieving pipelines.
type Store interface {
	// Save replaces the stored document for id.
	Save(ctx context.Context, id string, doc *pipeline.Document) error
	Load(ctx context.Context, id string) (*pipeline.Document, error)
	Delete(ctx context.Context, id string) error
	// List returns all pipelines, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
}

// Memory is an in-process Store. Documents are stored encoded, so callers
// never share nodes with it.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	data    []byte
	summary Summary
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memEntry), now: time.Now}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Save(_ context.Context, id string, doc *pipeline.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = memEntry{
		data:    data,
		summary: Summary{ID: id, Name: doc.Name, Nodes: len(doc.Nodes), UpdatedAt: m.now()},
	}
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*pipeline.Document, error) {
	m.mu.RLock()
	e, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	return pipeline.DecodeDocument(e.data)
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.docs))
	for _, e := range m.docs {
		out = append(out, e.summary)
	}
	m.mu.RUnlock()
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders summaries most recently updated first, then by id.
func SortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ID < s[j].ID
	})
}
