// Package decay applies time-based forgetting and reinforcement to memory
// records.
//
// Effective importance follows an exponential curve over the time since a
// record was last accessed or reinforced, modulated by the record's decay
// rate, access frequency, and confirmation history. Decay (ranking for
// survival) is deliberately separate from salience (ranking for a query):
// a memory can be irrelevant to the current query yet still alive.
package decay

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Config controls the decay curve and thresholds.
type Config struct {
	// HalfLifeHours is the time for effective importance to halve for a
	// record with decay rate 1.0 and no confirmations. Default 72.
	HalfLifeHours float64

	// MinImportance is the floor below which decay never pushes a record.
	// Default 0.1.
	MinImportance float64

	// AtRiskThreshold marks records whose effective importance has fallen
	// low enough to warn about. Default 1.0.
	AtRiskThreshold float64

	// ForgetThreshold is the default threshold below which records become
	// candidates for forgetting. Default 0.5.
	ForgetThreshold float64

	// ReinforcementFactor determines how much confidence rises on each
	// confirmation. Default 0.3.
	ReinforcementFactor float64
}

// DefaultConfig returns the default decay configuration.
func DefaultConfig() Config {
	return Config{
		HalfLifeHours:       72,
		MinImportance:       0.1,
		AtRiskThreshold:     1.0,
		ForgetThreshold:     0.5,
		ReinforcementFactor: 0.3,
	}
}

// Archiver receives records removed by Forget when archiving is requested
// instead of hard deletion. The archival mechanism itself is an external
// collaborator.
type Archiver interface {
	Archive(ctx context.Context, records []*graph.MemoryRecord) error
}

// Engine applies decay, reinforcement, and forgetting against the store.
type Engine struct {
	store    storage.Store
	cfg      Config
	archiver Archiver
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiver supplies the archival collaborator used by Forget.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the engine's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a decay engine over the given store. Zero config
// fields fall back to DefaultConfig values.
func NewEngine(store storage.Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.HalfLifeHours <= 0 {
		cfg.HalfLifeHours = def.HalfLifeHours
	}
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = def.MinImportance
	}
	if cfg.AtRiskThreshold <= 0 {
		cfg.AtRiskThreshold = def.AtRiskThreshold
	}
	if cfg.ForgetThreshold <= 0 {
		cfg.ForgetThreshold = def.ForgetThreshold
	}
	if cfg.ReinforcementFactor <= 0 {
		cfg.ReinforcementFactor = def.ReinforcementFactor
	}
	e := &Engine{
		store:  store,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EffectiveImportance computes the record's importance after decay at the
// given time.
//
// The curve is exponential in the hours since last access (or creation):
//
//	effective = max(floor, importance * 2^(-hours / halfLife'))
//
// where halfLife' stretches with confirmations (confirmed memories decay
// slower) and shrinks with the record's decay-rate multiplier. Frequently
// accessed records gain a small retention bonus, capped at the pre-decay
// importance.
func (e *Engine) EffectiveImportance(rec *graph.MemoryRecord, now time.Time) float64 {
	ref := rec.CreatedAt
	if rec.LastAccessedAt != nil {
		ref = *rec.LastAccessedAt
	}
	if ref.IsZero() {
		return graph.ClampImportance(rec.Importance)
	}

	hours := now.Sub(ref).Hours()
	if hours <= 0 {
		return graph.ClampImportance(rec.Importance)
	}

	halfLife := e.cfg.HalfLifeHours / rec.EffectiveDecayRate()
	halfLife *= 1.0 + 0.5*float64(rec.ConfirmationCount)

	base := graph.ClampImportance(rec.Importance)
	decayed := base * math.Exp(-math.Ln2*hours/halfLife)

	// Frequently accessed records hold on a little longer. The bonus only
	// slows the decline; effective importance never exceeds the pre-decay
	// importance.
	if rec.AccessCount > 0 {
		decayed *= 1.0 + math.Min(0.25, float64(rec.AccessCount)/40.0)
		decayed = math.Min(decayed, base)
	}

	if decayed < e.cfg.MinImportance {
		return e.cfg.MinImportance
	}
	return graph.ClampImportance(decayed)
}

// DecayOptions controls a DecayAll run.
type DecayOptions struct {
	// DryRun computes results without persisting updates.
	DryRun bool
}

// DecayResult summarizes a DecayAll run.
type DecayResult struct {
	// EntitiesProcessed is the number of eligible records examined.
	EntitiesProcessed int `json:"entities_processed"`

	// AverageDecay is the mean importance lost per processed record.
	AverageDecay float64 `json:"average_decay"`

	// MemoriesAtRisk lists records whose effective importance fell below
	// the at-risk threshold but stayed above the forget threshold.
	MemoriesAtRisk []string `json:"memories_at_risk"`

	// ProcessingTimeMs is the wall time of the run.
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// DecayAll recomputes effective importance for every eligible record and
// persists the updated values unless DryRun is set.
//
// Session records are never decayed; sessions age out through their own
// lifecycle. Per-record failures are logged and skipped rather than
// aborting the batch.
func (e *Engine) DecayAll(ctx context.Context, opts *DecayOptions) (*DecayResult, error) {
	if opts == nil {
		opts = &DecayOptions{}
	}
	start := e.now()
	wallStart := time.Now()

	g, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("decay: load graph: %w", err)
	}

	result := &DecayResult{}
	totalDecay := 0.0

	for _, rec := range g.Entities {
		if rec.IsSession() {
			continue
		}
		result.EntitiesProcessed++

		effective := e.EffectiveImportance(rec, start)
		totalDecay += rec.Importance - effective

		if effective < e.cfg.AtRiskThreshold && effective >= e.cfg.ForgetThreshold {
			result.MemoriesAtRisk = append(result.MemoriesAtRisk, rec.Name)
		}

		if opts.DryRun || effective == rec.Importance {
			continue
		}
		imp := effective
		if err := e.store.Update(ctx, rec.Name, &storage.Partial{Importance: &imp}); err != nil {
			e.logger.Warn("decay update failed",
				zap.String("name", rec.Name), zap.Error(err))
		}
	}

	if result.EntitiesProcessed > 0 {
		result.AverageDecay = totalDecay / float64(result.EntitiesProcessed)
	}
	result.ProcessingTimeMs = time.Since(wallStart).Milliseconds()

	e.logger.Debug("decay pass complete",
		zap.Int("processed", result.EntitiesProcessed),
		zap.Int("at_risk", len(result.MemoriesAtRisk)),
		zap.Bool("dry_run", opts.DryRun))
	return result, nil
}

// Reinforce confirms a memory: increments its confirmation count, raises
// confidence toward 1 (saturating), and resets the decay clock.
//
// Returns an error wrapping graph.ErrNotFound for unknown names.
func (e *Engine) Reinforce(ctx context.Context, name string) error {
	rec, err := e.store.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("reinforce: %w", err)
	}

	confirmations := rec.ConfirmationCount + 1
	confidence := rec.Confidence + e.cfg.ReinforcementFactor*(1.0-rec.Confidence)
	now := e.now()

	partial := &storage.Partial{
		ConfirmationCount: &confirmations,
		Confidence:        &confidence,
		LastAccessedAt:    &now,
	}
	if err := e.store.Update(ctx, name, partial); err != nil {
		return fmt.Errorf("reinforce: %w", err)
	}
	return nil
}

// ForgetOptions controls a Forget run.
type ForgetOptions struct {
	// EffectiveImportanceThreshold is the survival threshold; records
	// whose effective importance falls below it become forgettable.
	// Required (must be > 0).
	EffectiveImportanceThreshold float64

	// OlderThanHours protects records younger than the given age.
	OlderThanHours float64

	// ExcludeTags protects records carrying any of these tags.
	ExcludeTags []string

	// Archive hands forgotten records to the archival collaborator
	// instead of hard-deleting them.
	Archive bool

	// DryRun reports what would be forgotten without mutating anything.
	DryRun bool
}

// ForgetResult summarizes a Forget run.
type ForgetResult struct {
	// MemoriesForgotten is the number of records removed (or that would
	// be removed under DryRun).
	MemoriesForgotten int `json:"memories_forgotten"`

	// ForgottenNames lists the removed records.
	ForgottenNames []string `json:"forgotten_names"`

	// MemoriesProtected is the number spared by ExcludeTags.
	MemoriesProtected int `json:"memories_protected"`

	// MemoriesTooYoung is the number spared by OlderThanHours.
	MemoriesTooYoung int `json:"memories_too_young"`

	// DryRun mirrors the request flag.
	DryRun bool `json:"dry_run"`
}

// Forget removes (or archives) records whose effective importance has
// fallen below the threshold. Session records are never forgotten here.
//
// The sweep builds a new entity list and saves it as a whole rather than
// splicing the live list during iteration.
func (e *Engine) Forget(ctx context.Context, opts *ForgetOptions) (*ForgetResult, error) {
	if opts == nil || opts.EffectiveImportanceThreshold <= 0 {
		return nil, fmt.Errorf("forget: effective importance threshold is required: %w", graph.ErrInvalidArgument)
	}

	g, err := e.store.GetForMutation(ctx)
	if err != nil {
		return nil, fmt.Errorf("forget: load graph: %w", err)
	}

	now := e.now()
	result := &ForgetResult{DryRun: opts.DryRun}
	var forgotten []*graph.MemoryRecord
	kept := make([]*graph.MemoryRecord, 0, len(g.Entities))

	for _, rec := range g.Entities {
		if rec.IsSession() {
			kept = append(kept, rec)
			continue
		}

		effective := e.EffectiveImportance(rec, now)
		if effective >= opts.EffectiveImportanceThreshold {
			kept = append(kept, rec)
			continue
		}

		if protected(rec, opts.ExcludeTags) {
			result.MemoriesProtected++
			kept = append(kept, rec)
			continue
		}
		if opts.OlderThanHours > 0 && now.Sub(rec.CreatedAt).Hours() < opts.OlderThanHours {
			result.MemoriesTooYoung++
			kept = append(kept, rec)
			continue
		}

		result.MemoriesForgotten++
		result.ForgottenNames = append(result.ForgottenNames, rec.Name)
		forgotten = append(forgotten, rec)
	}

	if opts.DryRun || result.MemoriesForgotten == 0 {
		return result, nil
	}

	if opts.Archive && e.archiver != nil {
		if err := e.archiver.Archive(ctx, forgotten); err != nil {
			return nil, fmt.Errorf("forget: archive: %w", err)
		}
	}

	g.Entities = kept
	if err := e.store.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("forget: save graph: %w", err)
	}

	e.logger.Info("forget pass complete",
		zap.Int("forgotten", result.MemoriesForgotten),
		zap.Int("protected", result.MemoriesProtected),
		zap.Int("too_young", result.MemoriesTooYoung))
	return result, nil
}

func protected(rec *graph.MemoryRecord, excludeTags []string) bool {
	for _, tag := range excludeTags {
		if rec.HasTag(tag) {
			return true
		}
	}
	return false
}
