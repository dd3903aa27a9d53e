// Package memstore provides an in-memory Store implementation.
//
// It is intended for tests and embedding-free local development. All reads
// return deep copies, so callers can never mutate the stored graph except
// through the Store interface.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Store is an in-memory implementation of storage.Store.
//
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	entities  []*graph.MemoryRecord
	relations []*graph.Relation
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Load returns a deep copy of the full graph.
func (s *Store) Load(ctx context.Context) (*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := &graph.Graph{Entities: s.entities, Relations: s.relations}
	return g.Clone(), nil
}

// GetByName returns a deep copy of the named record.
func (s *Store) GetByName(ctx context.Context, name string) (*graph.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if e.Name == name {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("memstore: get %q: %w", name, graph.ErrNotFound)
}

// Append adds a single record. Appending a duplicate name fails.
func (s *Store) Append(ctx context.Context, rec *graph.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.Name == rec.Name {
			return fmt.Errorf("memstore: append %q: %w: name already exists", rec.Name, graph.ErrInvalidState)
		}
	}
	s.entities = append(s.entities, rec.Clone())
	return nil
}

// Update merge-updates the named record.
func (s *Store) Update(ctx context.Context, name string, partial *storage.Partial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.Name == name {
			partial.Apply(e, time.Now())
			return nil
		}
	}
	return fmt.Errorf("memstore: update %q: %w", name, graph.ErrNotFound)
}

// Save atomically replaces the full graph.
func (s *Store) Save(ctx context.Context, g *graph.Graph) error {
	cp := g.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = cp.Entities
	s.relations = cp.Relations
	return nil
}

// GetForMutation returns a mutable snapshot. Equivalent to Load.
func (s *Store) GetForMutation(ctx context.Context) (*graph.Graph, error) {
	return s.Load(ctx)
}

// AppendRelation adds a single relation.
func (s *Store) AppendRelation(ctx context.Context, rel *graph.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rel
	s.relations = append(s.relations, &r)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
