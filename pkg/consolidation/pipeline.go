// Package consolidation promotes eligible working memories to durable
// memory types through an extensible sequence of stages.
//
// Stages run in registration order over the candidate set; a failing stage
// is recorded in the run's error list and never aborts the run or blocks
// promotion of records the stage did not touch.
package consolidation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/decay"
	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

// StageResult reports what a stage did to the candidate set.
type StageResult struct {
	// Processed is the number of records the stage examined.
	Processed int `json:"processed"`

	// Transformed is the number of records the stage changed.
	Transformed int `json:"transformed"`

	// Errors are per-record failures the stage absorbed.
	Errors []string `json:"errors,omitempty"`
}

// StageFunc processes the candidate record set. Returning an error (or
// panicking) marks the stage as failed without aborting the run.
type StageFunc func(ctx context.Context, records []*graph.MemoryRecord) (*StageResult, error)

type stage struct {
	name string
	fn   StageFunc
}

// Options controls a consolidation run.
type Options struct {
	// MinConfidence is the candidate confidence threshold. Default 0.7.
	MinConfidence float64

	// MinConfirmations is the candidate confirmation threshold. Default 2.
	MinConfirmations int

	// TargetType is the memory type promoted candidates receive.
	// Default episodic.
	TargetType graph.MemoryType
}

// Result summarizes a consolidation run for one session.
type Result struct {
	// SessionID is the consolidated session.
	SessionID string `json:"session_id"`

	// CandidatesProcessed is the number of candidates gathered.
	CandidatesProcessed int `json:"candidates_processed"`

	// MemoriesPromoted is the number of candidates promoted.
	MemoriesPromoted int `json:"memories_promoted"`

	// Errors aggregates stage and promotion failures, each prefixed with
	// its origin.
	Errors []string `json:"errors,omitempty"`
}

// Pipeline runs staged consolidation of working memory.
type Pipeline struct {
	store   storage.Store
	working *workingmem.Manager
	decay   *decay.Engine
	stages  []stage
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the pipeline's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a consolidation pipeline. The decay engine is used
// to reinforce records as a promotion side effect.
func NewPipeline(store storage.Store, working *workingmem.Manager, decayEngine *decay.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		working: working,
		decay:   decayEngine,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterStage appends a named stage. Registration order is execution
// order.
func (p *Pipeline) RegisterStage(name string, fn StageFunc) {
	p.stages = append(p.stages, stage{name: name, fn: fn})
}

// ConsolidateSession gathers the session's promotion candidates, runs each
// registered stage over them, then promotes every candidate still meeting
// eligibility.
//
// A stage failure is captured as "<stageName>: <message>" in the result's
// error list; subsequent stages and promotion still run.
func (p *Pipeline) ConsolidateSession(ctx context.Context, sessionID string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	criteria := &workingmem.PromotionCriteria{
		MinConfidence:    opts.MinConfidence,
		MinConfirmations: opts.MinConfirmations,
	}
	targetType := opts.TargetType
	if targetType == "" {
		targetType = graph.MemoryTypeEpisodic
	}
	if !targetType.Durable() {
		return nil, fmt.Errorf("consolidation: invalid target type %q: %w", targetType, graph.ErrInvalidArgument)
	}

	result := &Result{SessionID: sessionID}

	candidates, err := p.working.PromotionCandidates(ctx, sessionID, criteria)
	if err != nil {
		return nil, fmt.Errorf("consolidation: gather candidates: %w", err)
	}
	result.CandidatesProcessed = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	for _, s := range p.stages {
		stageResult, err := p.runStage(ctx, s, candidates)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.name, err))
			continue
		}
		result.Errors = append(result.Errors, prefixErrors(s.name, stageResult.Errors)...)
		p.logger.Debug("consolidation stage complete",
			zap.String("stage", s.name),
			zap.Int("processed", stageResult.Processed),
			zap.Int("transformed", stageResult.Transformed))
	}

	for _, rec := range candidates {
		// Re-check eligibility: a stage may have adjusted confidence.
		current, err := p.store.GetByName(ctx, rec.Name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("promote: %v", err))
			continue
		}
		if !p.working.Eligible(current, criteria) {
			continue
		}
		if err := p.PromoteMemory(ctx, current.Name, targetType); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("promote: %v", err))
			continue
		}
		result.MemoriesPromoted++
	}

	p.logger.Info("session consolidated",
		zap.String("session_id", sessionID),
		zap.Int("candidates", result.CandidatesProcessed),
		zap.Int("promoted", result.MemoriesPromoted),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// runStage invokes a stage, converting a panic into an error so one stage
// cannot take down the run.
func (p *Pipeline) runStage(ctx context.Context, s stage, records []*graph.MemoryRecord) (result *StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = s.fn(ctx, records)
	if err == nil && result == nil {
		result = &StageResult{}
	}
	return result, err
}

// PromoteMemory converts a working memory to the target durable type:
// stamps promotedAt, records the originating session, clears the promotion
// mark, and reinforces the record as a side effect.
//
// Fails with graph.ErrNotFound for unknown names and graph.ErrInvalidState
// when the record is not currently working memory; a second promotion of
// the same record therefore always fails.
func (p *Pipeline) PromoteMemory(ctx context.Context, name string, targetType graph.MemoryType) error {
	if !targetType.Durable() {
		return fmt.Errorf("consolidation: invalid target type %q: %w", targetType, graph.ErrInvalidArgument)
	}

	rec, err := p.store.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("consolidation: promote: %w", err)
	}
	if rec.MemoryType != graph.MemoryTypeWorking {
		return fmt.Errorf("consolidation: %q is %s memory, not working: %w",
			name, rec.MemoryType, graph.ErrInvalidState)
	}

	now := p.now()
	isWorking := false
	marked := false
	promotedFrom := rec.SessionID
	partial := &storage.Partial{
		MemoryType:         &targetType,
		IsWorkingMemory:    &isWorking,
		PromotedAt:         &now,
		PromotedFrom:       &promotedFrom,
		MarkedForPromotion: &marked,
	}
	if err := p.store.Update(ctx, name, partial); err != nil {
		return fmt.Errorf("consolidation: promote: %w", err)
	}

	if err := p.decay.Reinforce(ctx, name); err != nil {
		return fmt.Errorf("consolidation: reinforce after promote: %w", err)
	}

	// The record no longer counts against the session's working-memory
	// capacity.
	p.working.ReleaseSlot(promotedFrom)

	p.logger.Debug("memory promoted",
		zap.String("name", name), zap.String("target_type", string(targetType)))
	return nil
}

// BatchResult aggregates consolidation runs across sessions.
type BatchResult struct {
	// SessionsProcessed is the number of sessions attempted.
	SessionsProcessed int `json:"sessions_processed"`

	// CandidatesProcessed sums per-session candidate counts.
	CandidatesProcessed int `json:"candidates_processed"`

	// MemoriesPromoted sums per-session promotion counts.
	MemoriesPromoted int `json:"memories_promoted"`

	// Errors concatenates per-session errors, prefixed with the session id.
	Errors []string `json:"errors,omitempty"`
}

// ConsolidateSessions runs ConsolidateSession per id, aggregating counts
// and errors. One session's failure does not abort the others.
func (p *Pipeline) ConsolidateSessions(ctx context.Context, sessionIDs []string, opts *Options) (*BatchResult, error) {
	batch := &BatchResult{}
	for _, id := range sessionIDs {
		batch.SessionsProcessed++
		res, err := p.ConsolidateSession(ctx, id, opts)
		if err != nil {
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		batch.CandidatesProcessed += res.CandidatesProcessed
		batch.MemoriesPromoted += res.MemoriesPromoted
		batch.Errors = append(batch.Errors, prefixErrors(id, res.Errors)...)
	}
	return batch, nil
}

// IsPromotionEligible reports whether the named record currently meets the
// promotion rule. Read-only; used by external schedulers before committing
// to a full consolidation run.
func (p *Pipeline) IsPromotionEligible(ctx context.Context, name string) (bool, error) {
	rec, err := p.store.GetByName(ctx, name)
	if err != nil {
		return false, fmt.Errorf("consolidation: eligibility: %w", err)
	}
	return p.working.Eligible(rec, nil), nil
}

// PromotionCandidates mirrors the working-memory manager's candidate
// selection.
func (p *Pipeline) PromotionCandidates(ctx context.Context, sessionID string, criteria *workingmem.PromotionCriteria) ([]*graph.MemoryRecord, error) {
	return p.working.PromotionCandidates(ctx, sessionID, criteria)
}

func prefixErrors(prefix string, errs []string) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("%s: %s", prefix, e))
	}
	return out
}
