// Package storage defines the persistence contract consumed by every
// lifecycle engine, along with the partial-update type shared by all
// backends.
//
// Implementations (memstore, sqlite, postgres, mysql) persist the full
// graph; Save is always an atomic replace of the whole snapshot, so readers
// never observe a half-written state. There is no field-level locking: the
// effective isolation level is last-writer-wins at whole-graph granularity.
package storage

import (
	"context"
	"time"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
)

// Store is the storage contract for the memory graph.
//
// All lifecycle engines depend only on this interface, never on a concrete
// backend.
type Store interface {
	// Load returns a snapshot of the full graph. Callers own the returned
	// value and may mutate it freely.
	Load(ctx context.Context) (*graph.Graph, error)

	// GetByName returns the record with the given name, or an error
	// wrapping graph.ErrNotFound when absent.
	GetByName(ctx context.Context, name string) (*graph.MemoryRecord, error)

	// Append durably writes a single new record.
	Append(ctx context.Context, rec *graph.MemoryRecord) error

	// Update merge-updates the named record with the non-nil fields of
	// the partial. Returns an error wrapping graph.ErrNotFound when the
	// record is absent.
	Update(ctx context.Context, name string, partial *Partial) error

	// Save atomically replaces the full persisted graph.
	Save(ctx context.Context, g *graph.Graph) error

	// GetForMutation returns a mutable snapshot intended to be modified
	// and written back with Save. Equivalent to Load; the separate method
	// documents intent at call sites that perform read-modify-write sweeps.
	GetForMutation(ctx context.Context) (*graph.Graph, error)

	// AppendRelation durably writes a single relation.
	AppendRelation(ctx context.Context, rel *graph.Relation) error

	// Close releases backend resources.
	Close() error
}

// Partial describes a merge-update of a record. Nil fields are left
// untouched. AppendObservations adds to the existing observation list
// rather than replacing it.
type Partial struct {
	// Observations replaces the full observation list.
	Observations *[]string

	// AppendObservations appends to the observation list.
	AppendObservations []string

	// MemoryType changes the record's lifecycle type.
	MemoryType *graph.MemoryType

	// IsWorkingMemory updates the working-memory flag.
	IsWorkingMemory *bool

	// ExpiresAt updates the expiry time.
	ExpiresAt *time.Time

	// PromotedAt stamps the promotion time.
	PromotedAt *time.Time

	// PromotedFrom records the session promoted out of.
	PromotedFrom *string

	// MarkedForPromotion updates the explicit promotion flag.
	MarkedForPromotion *bool

	// AccessCount updates the access counter.
	AccessCount *int

	// LastAccessedAt updates the access/reinforcement clock.
	LastAccessedAt *time.Time

	// AccessPattern updates the access classification.
	AccessPattern *graph.AccessPattern

	// Confidence updates the confidence value (clamped to [0, 1]).
	Confidence *float64

	// ConfirmationCount updates the confirmation counter.
	ConfirmationCount *int

	// Importance updates the base importance (clamped to [0, 10]).
	Importance *float64

	// Tags replaces the tag list.
	Tags *[]string

	// SessionMeta replaces the session payload of a session record.
	SessionMeta *graph.SessionMeta
}

// Apply merges the partial into the record in place and stamps UpdatedAt.
// All backends route updates through this so merge semantics stay uniform.
func (p *Partial) Apply(rec *graph.MemoryRecord, now time.Time) {
	if p.Observations != nil {
		rec.Observations = append([]string(nil), (*p.Observations)...)
	}
	if len(p.AppendObservations) > 0 {
		rec.Observations = append(rec.Observations, p.AppendObservations...)
	}
	if p.MemoryType != nil {
		rec.MemoryType = *p.MemoryType
	}
	if p.IsWorkingMemory != nil {
		rec.IsWorkingMemory = *p.IsWorkingMemory
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		rec.ExpiresAt = &t
	}
	if p.PromotedAt != nil {
		t := *p.PromotedAt
		rec.PromotedAt = &t
	}
	if p.PromotedFrom != nil {
		rec.PromotedFrom = *p.PromotedFrom
	}
	if p.MarkedForPromotion != nil {
		rec.MarkedForPromotion = *p.MarkedForPromotion
	}
	if p.AccessCount != nil {
		rec.AccessCount = *p.AccessCount
	}
	if p.LastAccessedAt != nil {
		t := *p.LastAccessedAt
		rec.LastAccessedAt = &t
	}
	if p.AccessPattern != nil {
		rec.AccessPattern = *p.AccessPattern
	}
	if p.Confidence != nil {
		rec.Confidence = graph.ClampConfidence(*p.Confidence)
	}
	if p.ConfirmationCount != nil {
		rec.ConfirmationCount = *p.ConfirmationCount
	}
	if p.Importance != nil {
		rec.Importance = graph.ClampImportance(*p.Importance)
	}
	if p.Tags != nil {
		rec.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.SessionMeta != nil {
		m := *p.SessionMeta
		m.RelatedSessionIDs = append([]string(nil), p.SessionMeta.RelatedSessionIDs...)
		rec.SessionMeta = &m
	}
	rec.UpdatedAt = now
}
