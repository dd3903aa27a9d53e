// Package mysql provides a MySQL implementation of the graph Store.
//
// Records are stored as JSON rows keyed by name. Save replaces the full
// graph inside a single transaction, preserving the atomic-replace
// guarantee of the storage contract.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Client implements storage.Store using MySQL as the backend.
type Client struct {
	db *sql.DB
}

// Config contains configuration for creating a MySQL store.
type Config struct {
	// Host is the database host.
	Host string

	// Port is the database port (default 3306).
	Port int

	// User is the database user.
	User string

	// Password is the database password.
	Password string

	// DBName is the database name.
	DBName string
}

// NewClient creates a new MySQL store and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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
			name VARCHAR(255) PRIMARY KEY,
			record JSON NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			from_name VARCHAR(255) NOT NULL,
			to_name VARCHAR(255) NOT NULL,
			relation_type VARCHAR(255) NOT NULL,
			INDEX idx_relations_from (from_name)
		)`,
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
	err := c.db.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = ?`, name).Scan(&raw)
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

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT record FROM entities WHERE name = ? FOR UPDATE`, name).Scan(&raw)
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
		raw, err := json.Marshal(rec)
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
