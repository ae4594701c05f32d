// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ravi-parthasarathy/convoy/pkg/pipeline"
	"github.com/ravi-parthasarathy/convoy/pkg/store"
)

// PGStore implements store.Store using PostgreSQL via pgx.
type PGStore struct {
	db *pgxpool.Pool
}

// New creates a new PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Open connects to url and returns a PGStore. Close the pool when done.
func Open(ctx context.Context, url string) (*PGStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	return New(pool), pool, nil
}

var _ store.Store = (*PGStore)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS convoy_pipelines (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS convoy_nodes (
    pipeline_id TEXT NOT NULL REFERENCES convoy_pipelines(id) ON DELETE CASCADE,
    id          TEXT NOT NULL,
    seq         INT NOT NULL,
    data        JSONB NOT NULL,
    PRIMARY KEY (pipeline_id, id)
);

CREATE TABLE IF NOT EXISTS convoy_edges (
    pipeline_id  TEXT NOT NULL REFERENCES convoy_pipelines(id) ON DELETE CASCADE,
    id           TEXT NOT NULL,
    seq          INT NOT NULL,
    from_node_id TEXT NOT NULL,
    to_node_id   TEXT NOT NULL,
    PRIMARY KEY (pipeline_id, id)
);

CREATE INDEX IF NOT EXISTS idx_convoy_nodes_pipeline ON convoy_nodes(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_convoy_edges_pipeline ON convoy_edges(pipeline_id);
`

// CreateSchema creates the tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the tables.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS convoy_edges, convoy_nodes, convoy_pipelines CASCADE;`)
	return err
}

// Save replaces a pipeline's nodes and edges in one transaction. Node order
// is preserved.
func (s *PGStore) Save(ctx context.Context, id string, doc *pipeline.Document) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO convoy_pipelines (id, name, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`,
		id, doc.Name,
	); err != nil {
		return fmt.Errorf("store: upsert pipeline: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM convoy_edges WHERE pipeline_id = $1`, id); err != nil {
		return fmt.Errorf("store: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM convoy_nodes WHERE pipeline_id = $1`, id); err != nil {
		return fmt.Errorf("store: delete nodes: %w", err)
	}

	for i, n := range doc.Nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("store: encode node %s: %w", n.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO convoy_nodes (pipeline_id, id, seq, data) VALUES ($1, $2, $3, $4)`,
			id, n.ID, i, data,
		); err != nil {
			return fmt.Errorf("store: insert node %s: %w", n.ID, err)
		}
	}
	for i, e := range doc.Edges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO convoy_edges (pipeline_id, id, seq, from_node_id, to_node_id) VALUES ($1, $2, $3, $4, $5)`,
			id, e.ID, i, e.From, e.To,
		); err != nil {
			return fmt.Errorf("store: insert edge %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Load reads a full pipeline document.
func (s *PGStore) Load(ctx context.Context, id string) (*pipeline.Document, error) {
	doc := &pipeline.Document{Nodes: []pipeline.Node{}, Edges: []pipeline.Edge{}}
	err := s.db.QueryRow(ctx, `SELECT name FROM convoy_pipelines WHERE id = $1`, id).Scan(&doc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pipeline: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT data FROM convoy_nodes WHERE pipeline_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("store: query nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		var n pipeline.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("store: decode node: %w", err)
		}
		if n.State == "" {
			n.State = pipeline.StateConfirmed
		}
		doc.Nodes = append(doc.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows nodes: %w", err)
	}

	rows, err = s.db.Query(ctx,
		`SELECT id, from_node_id, to_node_id FROM convoy_edges WHERE pipeline_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("store: query edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e pipeline.Edge
		if err := rows.Scan(&e.ID, &e.From, &e.To); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		doc.Edges = append(doc.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows edges: %w", err)
	}
	return doc, nil
}

// Delete removes a pipeline. Nodes and edges are cascade-deleted by the DB.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM convoy_pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete pipeline: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// List returns every pipeline with its node count.
func (s *PGStore) List(ctx context.Context) ([]store.Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.name, p.updated_at, COUNT(n.id)
		FROM convoy_pipelines p
		LEFT JOIN convoy_nodes n ON n.pipeline_id = p.id
		GROUP BY p.id, p.name, p.updated_at
		ORDER BY p.updated_at DESC, p.id`)
	if err != nil {
		return nil, fmt.Errorf("store: list pipelines: %w", err)
	}
	defer rows.Close()

	out := []store.Summary{}
	for rows.Next() {
		var sm store.Summary
		var count int64
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.UpdatedAt, &count); err != nil {
			return nil, fmt.Errorf("store: scan pipeline: %w", err)
		}
		sm.Nodes = int(count)
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows pipelines: %w", err)
	}
	return out, nil
}
