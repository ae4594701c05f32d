package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ravi-parthasarathy/convoy/pkg/assist"
	"github.com/ravi-parthasarathy/convoy/pkg/frame"
	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/reconcile"
	"github.com/ravi-parthasarathy/convoy/pkg/runner"
	"github.com/ravi-parthasarathy/convoy/pkg/store"
)

// Session is the live state of one pipeline: its graph, computed outputs,
// drafts and the request slots of its remote calls.
type Session struct {
	ID       string
	Graph    *pipeline.Graph
	Cache    *pipeline.OutputCache
	Drafts   *reconcile.DraftSet
	Executor *runner.Executor
	// Chart is nil when no chart renderer is configured.
	Chart *assist.ChartPreview

	Generate assist.Slot
	Import   assist.Slot
	Edit     assist.Slot

	mu   sync.Mutex
	name string
}

// Name returns the pipeline name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Document snapshots the session's graph.
func (s *Session) Document() *pipeline.Document {
	return pipeline.DocumentOf(s.Name(), s.Graph)
}

// Schema returns the columns of the first source step, from its cached
// data when present and its config otherwise.
func (s *Session) Schema() []frame.Column {
	nodes, edges := s.Graph.Snapshot()
	for _, n := range pipeline.OrderedPipeline(nodes, edges) {
		if n.Kind != pipeline.KindSource {
			continue
		}
		if df, ok := s.Cache.Get(n.ID); ok {
			return df.Columns
		}
		cfg, _ := n.EffectiveConfig().(pipeline.SourceConfig)
		return cfg.Columns
	}
	return nil
}

// Sessions keeps live sessions in memory and persists their graphs to a
// store. Sessions not in memory are loaded on first use.
type Sessions struct {
	Store  store.Store
	Runner runner.Runner
	Logger *slog.Logger
	// Charts, when set, gives every session a debounced chart preview.
	Charts   assist.ChartRenderer
	Debounce time.Duration

	mu   sync.Mutex
	byID map[string]*Session
}

// NewSessions returns a registry over st. r runs pipeline code.
func NewSessions(st store.Store, r runner.Runner) *Sessions {
	return &Sessions{Store: st, Runner: r, byID: make(map[string]*Session)}
}

func (s *Sessions) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Sessions) open(id, name string, g *pipeline.Graph) *Session {
	cache := pipeline.NewOutputCache()
	exec := runner.NewExecutor(g, cache, s.Runner)
	exec.Logger = s.logger().With("pipeline", id)
	sess := &Session{
		ID:       id,
		Graph:    g,
		Cache:    cache,
		Drafts:   reconcile.NewDraftSet(),
		Executor: exec,
		name:     name,
	}
	if s.Charts != nil {
		debounce := s.Debounce
		if debounce <= 0 {
			debounce = assist.DefaultDebounce
		}
		sess.Chart = assist.NewChartPreview(s.Charts, debounce, nil)
	}
	return sess
}

// Create starts a new pipeline from doc, which may be nil, and saves it.
func (s *Sessions) Create(ctx context.Context, name string, doc *pipeline.Document) (*Session, error) {
	g := pipeline.NewGraph()
	if doc != nil {
		g = doc.Graph()
		if name == "" {
			name = doc.Name
		}
	}
	sess := s.open(pipeline.NewID(), name, g)
	if err := s.Persist(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Get returns the live session for id, loading it from the store if
// needed.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[id]; ok {
		return sess, nil
	}
	doc, err := s.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := s.open(id, doc.Name, doc.Graph())
	s.byID[id] = sess
	return sess, nil
}

// Delete drops a pipeline from memory and from the store.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, live := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if live && sess.Chart != nil {
		sess.Chart.Stop()
	}
	err := s.Store.Delete(ctx, id)
	if live && errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// List returns the stored pipelines.
func (s *Sessions) List(ctx context.Context) ([]store.Summary, error) {
	return s.Store.List(ctx)
}

// Persist saves the session's graph and drops cached outputs of nodes that
// no longer exist.
func (s *Sessions) Persist(ctx context.Context, sess *Session) error {
	doc := sess.Document()
	keep := make([]string, len(doc.Nodes))
	for i, n := range doc.Nodes {
		keep[i] = n.ID
	}
	sess.Cache.Prune(keep)
	if err := s.Store.Save(ctx, sess.ID, doc); err != nil {
		return fmt.Errorf("persist pipeline %s: %w", sess.ID, err)
	}
	return nil
}
