// Package sqlite provides a SQLite implementation of the graph Store.
//
// SQLite is a lightweight, file-based database suitable for local
// development and single-process agents. Records are stored as JSON in TEXT
// columns; Save replaces the full graph inside a single transaction so the
// atomic-replace guarantee of the storage contract holds.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite store.
//
// The parent directory of DBPath is created if missing, and the schema is
// initialized on first open.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database schema.
func (c *Client) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY,
			record TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
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
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
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
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetByName %q: %w", name, graph.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetByName: %w", err)
	}
	return decodeRecord(raw)
}

// Append durably writes a single new record.
func (c *Client) Append(ctx context.Context, rec *graph.MemoryRecord) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO entities (name, record, updated_at) VALUES (?, ?, ?)`,
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

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = ?`, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("Update %q: %w", name, graph.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	now := time.Now()
	partial.Apply(rec, now)

	encoded, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET record = ?, updated_at = ? WHERE name = ?`,
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
		raw, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (name, record, updated_at) VALUES (?, ?, ?)`,
			rec.Name, raw, now); err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}
	for _, rel := range g.Relations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (from_name, to_name, relation_type) VALUES (?, ?, ?)`,
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
		`INSERT INTO relations (from_name, to_name, relation_type) VALUES (?, ?, ?)`,
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

// encodeRecord serializes a record to its JSON row representation.
func encodeRecord(rec *graph.MemoryRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeRecord deserializes a record from its JSON row representation.
func decodeRecord(raw string) (*graph.MemoryRecord, error) {
	rec := &graph.MemoryRecord{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, err
	}
	return rec, nil
}
