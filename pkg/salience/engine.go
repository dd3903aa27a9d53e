// Package salience provides context-dependent relevance scoring for memory
// records.
//
// The engine is a pure scoring function: it never mutates its inputs and
// never touches storage. Each score is a weighted combination of five
// independently inspectable components (importance, recency, frequency,
// context match, novelty); downstream consumers use the breakdown to
// explain exclusions and tune weights.
package salience

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
)

// Weights configures the contribution of each scoring component.
//
// Weights need not sum to 1; scores are normalized by the weight total.
type Weights struct {
	// Importance weights the record's base importance (0-10, normalized).
	Importance float64 `json:"importance"`

	// Recency weights how recently the record was accessed.
	Recency float64 `json:"recency"`

	// Frequency weights how often the record has been accessed.
	Frequency float64 `json:"frequency"`

	// Context weights the match against the current salience context.
	Context float64 `json:"context"`

	// Novelty weights how unseen the record is.
	Novelty float64 `json:"novelty"`
}

// DefaultWeights returns the default component weights.
func DefaultWeights() Weights {
	return Weights{
		Importance: 0.30,
		Recency:    0.25,
		Frequency:  0.15,
		Context:    0.20,
		Novelty:    0.10,
	}
}

// Context describes the situation memories are scored against. All fields
// are optional; a missing field simply zeroes the corresponding component.
type Context struct {
	// CurrentTask is the task the agent is working on.
	CurrentTask string

	// CurrentSessionID is the active session.
	CurrentSessionID string

	// RecentlyAccessed lists names of records touched recently.
	RecentlyAccessed []string

	// Query is free-text the agent is about to answer.
	Query string

	// UserIntent is the user's stated intent.
	UserIntent string

	// TemporalFocus hints at the time period of interest.
	TemporalFocus string

	// Metadata carries arbitrary extra context terms.
	Metadata map[string]string
}

// Components is the per-component breakdown behind a salience score.
// Each component is in [0, 1].
type Components struct {
	// BaseImportance is the normalized base importance.
	BaseImportance float64 `json:"base_importance"`

	// RecencyBoost decays exponentially with time since last access.
	RecencyBoost float64 `json:"recency_boost"`

	// FrequencyBoost grows with access count, saturating at 1.
	FrequencyBoost float64 `json:"frequency_boost"`

	// ContextRelevance measures token overlap with the context.
	ContextRelevance float64 `json:"context_relevance"`

	// NoveltyBoost is high for rarely seen records.
	NoveltyBoost float64 `json:"novelty_boost"`
}

// ScoredMemory pairs a record with its salience score and breakdown.
// It is immutable once produced.
type ScoredMemory struct {
	// Record is the scored record.
	Record *graph.MemoryRecord `json:"record"`

	// Score is the combined salience score (0.0-1.0).
	Score float64 `json:"salience_score"`

	// Components is the per-component breakdown.
	Components Components `json:"components"`
}

// Engine scores and ranks memory records.
type Engine struct {
	weights Weights

	// recencyHalfLife is the time for the recency boost to halve.
	recencyHalfLife time.Duration

	// frequencySaturation is the access count at which the frequency
	// boost reaches 1.
	frequencySaturation int

	// now allows tests to pin the clock.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecencyHalfLife sets the recency half-life (default 24h).
func WithRecencyHalfLife(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.recencyHalfLife = d
		}
	}
}

// WithFrequencySaturation sets the access count at which the frequency
// boost saturates (default 10).
func WithFrequencySaturation(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.frequencySaturation = n
		}
	}
}

// WithClock overrides the engine's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a salience engine with the given component weights.
// Zero weights fall back to DefaultWeights.
func NewEngine(weights Weights, opts ...Option) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	e := &Engine{
		weights:             weights,
		recencyHalfLife:     24 * time.Hour,
		frequencySaturation: 10,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank scores every record against the context and returns the results
// stable-sorted by descending score. The input slice and records are never
// mutated.
func (e *Engine) Rank(records []*graph.MemoryRecord, sctx *Context) []ScoredMemory {
	scored := make([]ScoredMemory, 0, len(records))
	for _, rec := range records {
		score, comps := e.Score(rec, sctx)
		scored = append(scored, ScoredMemory{Record: rec, Score: score, Components: comps})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Score computes the salience of a single record against the context.
// Malformed or missing optional fields never fail scoring; they zero the
// affected component instead.
func (e *Engine) Score(rec *graph.MemoryRecord, sctx *Context) (float64, Components) {
	comps := Components{
		BaseImportance:   graph.ClampImportance(rec.Importance) / 10.0,
		RecencyBoost:     e.recencyBoost(rec),
		FrequencyBoost:   e.frequencyBoost(rec),
		ContextRelevance: e.contextRelevance(rec, sctx),
		NoveltyBoost:     e.noveltyBoost(rec, sctx),
	}

	total := e.weights.Importance + e.weights.Recency + e.weights.Frequency +
		e.weights.Context + e.weights.Novelty
	if total <= 0 {
		return 0, comps
	}

	sum := e.weights.Importance*comps.BaseImportance +
		e.weights.Recency*comps.RecencyBoost +
		e.weights.Frequency*comps.FrequencyBoost +
		e.weights.Context*comps.ContextRelevance +
		e.weights.Novelty*comps.NoveltyBoost

	return graph.ClampConfidence(sum / total), comps
}

// recencyBoost applies exponential decay to the time since last access
// (falling back to creation time).
func (e *Engine) recencyBoost(rec *graph.MemoryRecord) float64 {
	ref := rec.CreatedAt
	if rec.LastAccessedAt != nil {
		ref = *rec.LastAccessedAt
	}
	if ref.IsZero() {
		return 0
	}
	age := e.now().Sub(ref)
	if age <= 0 {
		return 1
	}
	lambda := math.Ln2 / e.recencyHalfLife.Seconds()
	return math.Exp(-lambda * age.Seconds())
}

// frequencyBoost saturates linearly at frequencySaturation accesses.
func (e *Engine) frequencyBoost(rec *graph.MemoryRecord) float64 {
	if rec.AccessCount <= 0 {
		return 0
	}
	boost := float64(rec.AccessCount) / float64(e.frequencySaturation)
	if boost > 1 {
		return 1
	}
	return boost
}

// contextRelevance measures token overlap between the record text and the
// context terms, with bonuses for session and task correlation.
func (e *Engine) contextRelevance(rec *graph.MemoryRecord, sctx *Context) float64 {
	if sctx == nil {
		return 0
	}

	score := 0.0

	if sctx.CurrentSessionID != "" && rec.SessionID == sctx.CurrentSessionID {
		score += 0.3
	}
	if sctx.CurrentTask != "" && rec.TaskID != "" && rec.TaskID == sctx.CurrentTask {
		score += 0.2
	}

	ctxTokens := tokenSet(strings.Join([]string{
		sctx.CurrentTask, sctx.Query, sctx.UserIntent, sctx.TemporalFocus,
	}, " "))
	for _, v := range sctx.Metadata {
		for t := range tokenSet(v) {
			ctxTokens[t] = struct{}{}
		}
	}
	if len(ctxTokens) > 0 {
		recTokens := recordTokens(rec)
		overlap := 0
		for t := range ctxTokens {
			if _, ok := recTokens[t]; ok {
				overlap++
			}
		}
		score += 0.5 * float64(overlap) / float64(len(ctxTokens))
	}

	return graph.ClampConfidence(score)
}

// noveltyBoost is highest for never-accessed records outside the recently
// accessed set.
func (e *Engine) noveltyBoost(rec *graph.MemoryRecord, sctx *Context) float64 {
	if sctx != nil {
		for _, name := range sctx.RecentlyAccessed {
			if name == rec.Name {
				return 0
			}
		}
	}
	return 1.0 / (1.0 + float64(rec.AccessCount))
}

// Similarity computes a symmetric similarity measure between two records,
// combining token overlap, tag overlap, and entity type equality. Used for
// deduplication and diversity enforcement, not for ranking.
func (e *Engine) Similarity(a, b *graph.MemoryRecord) float64 {
	if a == nil || b == nil {
		return 0
	}
	if a.Name == b.Name {
		return 1
	}

	sim := 0.5*jaccard(recordTokens(a), recordTokens(b)) +
		0.3*jaccard(stringSet(a.Tags), stringSet(b.Tags))
	if a.EntityType != "" && a.EntityType == b.EntityType {
		sim += 0.2
	}
	return graph.ClampConfidence(sim)
}

// recordTokens collects the lowercase tokens of a record's name, type, and
// observations.
func recordTokens(rec *graph.MemoryRecord) map[string]struct{} {
	parts := []string{rec.Name, rec.EntityType}
	parts = append(parts, rec.Observations...)
	return tokenSet(strings.Join(parts, " "))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if len(tok) > 1 {
			set[tok] = struct{}{}
		}
	}
	return set
}

func stringSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
