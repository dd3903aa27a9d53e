// Package postgres provides a PostgreSQL implementation of the graph Store.
//
// Records are stored as JSONB rows keyed by name. Save replaces the full
// graph inside a single transaction, preserving the atomic-replace
// guarantee of the storage contract.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Client implements storage.Store using PostgreSQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a PostgreSQL store.
type Config struct {
	// Host is the database host.
	Host string

	// Port is the database port (default 5432).
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string

	// SSLMode is the libpq sslmode setting (default "disable").
	SSLMode string
}

// NewClient creates a new PostgreSQL store and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			from_name TEXT NOT NULL,
			to_name TEXT NOT NULL,
			relation_type TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_name)`,
	}
	for _, q := range queries {
		if _, err := c.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// Load returns the full graph snapshot.
func (c *Client) Load(ctx context.Context) (*graph.Graph, error) {
	g := &graph.Graph{}

	rows, err := c.db.QueryContext(ctx, `SELECT record FROM entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		rec := &graph.MemoryRecord{}
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		g.Entities = append(g.Entities, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	relRows, err := c.db.QueryContext(ctx, `SELECT from_name, to_name, relation_type FROM relations`)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	defer func() { _ = relRows.Close() }()

	for relRows.Next() {
		rel := &graph.Relation{}
		if err := relRows.Scan(&rel.From, &rel.To, &rel.RelationType); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		g.Relations = append(g.Relations, rel)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}

	return g, nil
}

// GetByName returns the named record.
func (c *Client) GetByName(ctx context.Context, name string) (*graph.MemoryRecord, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = $1`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetByName %q: %w", name, graph.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetByName: %w", err)
	}
	rec := &graph.MemoryRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("GetByName: %w", err)
	}
	return rec, nil
}

// Append durably writes a single new record.
func (c *Client) Append(ctx context.Context, rec *graph.MemoryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entities (name, record, updated_at) VALUES ($1, $2, $3)`,
		rec.Name, raw, time.Now())
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// Update merge-updates the named record inside a transaction.
func (c *Client) Update(ctx context.Context, name string, partial *storage.Partial) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = $1 FOR UPDATE`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("Update %q: %w", name, graph.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rec := &graph.MemoryRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	now := time.Now()
	partial.Apply(rec, now)

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET record = $1, updated_at = $2 WHERE name = $3`,
		encoded, now, name); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	return nil
}

// Save atomically replaces the full graph in one transaction.
func (c *Client) Save(ctx context.Context, g *graph.Graph) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	now := time.Now()
	for _, rec := range g.Entities {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (name, record, updated_at) VALUES ($1, $2, $3)`,
			rec.Name, raw, now); err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}
	for _, rel := range g.Relations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (from_name, to_name, relation_type) VALUES ($1, $2, $3)`,
			rel.From, rel.To, rel.RelationType); err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// GetForMutation returns a mutable snapshot. Equivalent to Load.
func (c *Client) GetForMutation(ctx context.Context) (*graph.Graph, error) {
	return c.Load(ctx)
}

// AppendRelation durably writes a single relation.
func (c *Client) AppendRelation(ctx context.Context, rel *graph.Relation) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO relations (from_name, to_name, relation_type) VALUES ($1, $2, $3)`,
		rel.From, rel.To, rel.RelationType)
	if err != nil {
		return fmt.Errorf("AppendRelation: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}
