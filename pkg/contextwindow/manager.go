// Package contextwindow selects the highest-value subset of memories that
// fits a token budget, tracks what did not fit, and provides paginated
// access to the remainder.
//
// Selection is a greedy knapsack approximation ordered by salience per
// token. It is deterministic but not globally optimal.
package contextwindow

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/salience"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// ExclusionReason tags why a record was left out of a context package.
type ExclusionReason string

const (
	// ReasonBudgetExceeded marks records that did not fit the token budget.
	ReasonBudgetExceeded ExclusionReason = "budget_exceeded"

	// ReasonLowSalience marks records below the minimum salience cutoff.
	ReasonLowSalience ExclusionReason = "low_salience"

	// ReasonFiltered marks records removed by type or candidate-cap
	// filtering before scoring.
	ReasonFiltered ExclusionReason = "filtered"
)

// ExcludedMemory records a soft exclusion. Exclusions are data, never
// errors.
type ExcludedMemory struct {
	// Name is the excluded record's name.
	Name string `json:"name"`

	// Reason explains the exclusion.
	Reason ExclusionReason `json:"reason"`

	// Salience is the record's score at exclusion time.
	Salience float64 `json:"salience"`

	// Tokens is the record's estimated token cost.
	Tokens int `json:"tokens"`
}

// ContextPackage is the result of a budget-limited retrieval.
type ContextPackage struct {
	// Memories are the selected records with their scores, in selection
	// order.
	Memories []salience.ScoredMemory `json:"memories"`

	// TotalTokens is the combined estimated token cost of the selection.
	TotalTokens int `json:"total_tokens"`

	// Breakdown maps memory type to the token cost it contributes.
	Breakdown map[graph.MemoryType]int `json:"breakdown"`

	// Excluded lists records that did not make the selection.
	Excluded []ExcludedMemory `json:"excluded,omitempty"`

	// Suggestions are human-readable notes about near-miss exclusions.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Selection is the output of Prioritize.
type Selection struct {
	// Selected contains the chosen records, must-include first, then
	// optional records in greedy order.
	Selected []salience.ScoredMemory

	// Excluded lists optional records that did not fit the budget.
	Excluded []ExcludedMemory

	// TotalTokens is the combined cost of the selection, must-include
	// records included.
	TotalTokens int

	// OverBudget is set when must-include records alone exceed the
	// budget. This is a warning, not a failure.
	OverBudget bool
}

// Manager performs token-budgeted retrieval over the memory graph.
type Manager struct {
	store     storage.Store
	salience  *salience.Engine
	estimator TokenEstimator
	logger    *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithEstimator replaces the default word-count estimator.
func WithEstimator(est TokenEstimator) Option {
	return func(m *Manager) {
		if est != nil {
			m.estimator = est
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a context window manager over the given store and
// salience engine.
func NewManager(store storage.Store, eng *salience.Engine, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		salience:  eng,
		estimator: NewHeuristicEstimator(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Prioritize selects records to fit a token budget. Must-include names
// are always selected regardless of cost; if they alone blow the budget
// the selection is flagged OverBudget but still returned. The remaining
// records are scored against the context, ordered by salience per token,
// and added greedily while the cumulative cost stays within budget.
func (m *Manager) Prioritize(records []*graph.MemoryRecord, budget int, sctx *salience.Context, mustInclude []string) *Selection {
	must := make(map[string]bool, len(mustInclude))
	for _, name := range mustInclude {
		must[name] = true
	}

	sel := &Selection{}
	var optional []*graph.MemoryRecord
	for _, rec := range records {
		if must[rec.Name] {
			score, comps := m.salience.Score(rec, sctx)
			sel.Selected = append(sel.Selected, salience.ScoredMemory{
				Record: rec, Score: score, Components: comps,
			})
			sel.TotalTokens += estimateRecord(m.estimator, rec)
		} else {
			optional = append(optional, rec)
		}
	}
	if sel.TotalTokens > budget {
		sel.OverBudget = true
		m.logger.Warn("must-include records exceed token budget",
			zap.Int("tokens", sel.TotalTokens), zap.Int("budget", budget))
	}

	scored := m.salience.Rank(optional, sctx)
	type costed struct {
		mem        salience.ScoredMemory
		tokens     int
		efficiency float64
	}
	candidates := make([]costed, 0, len(scored))
	for _, sm := range scored {
		tokens := estimateRecord(m.estimator, sm.Record)
		eff := sm.Score
		if tokens > 0 {
			eff = sm.Score / float64(tokens)
		}
		candidates = append(candidates, costed{mem: sm, tokens: tokens, efficiency: eff})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].efficiency > candidates[j].efficiency
	})

	for _, c := range candidates {
		if sel.TotalTokens+c.tokens <= budget {
			sel.Selected = append(sel.Selected, c.mem)
			sel.TotalTokens += c.tokens
			continue
		}
		sel.Excluded = append(sel.Excluded, ExcludedMemory{
			Name:     c.mem.Record.Name,
			Reason:   ReasonBudgetExceeded,
			Salience: c.mem.Score,
			Tokens:   c.tokens,
		})
	}
	return sel
}

// RetrieveOptions controls RetrieveForContext.
type RetrieveOptions struct {
	// TokenBudget caps the combined cost of the selection.
	TokenBudget int

	// Context is the salience scoring context.
	Context *salience.Context

	// IncludeWorking, IncludeEpisodic, IncludeSemantic, and
	// IncludeProcedural gate candidate memory types.
	IncludeWorking    bool
	IncludeEpisodic   bool
	IncludeSemantic   bool
	IncludeProcedural bool

	// MinSalience drops selected records scoring below the cutoff.
	MinSalience float64

	// MaxEntitiesToConsider bounds scoring cost by pre-truncating the
	// candidate pool (default 1000).
	MaxEntitiesToConsider int

	// MustInclude names records that are always selected.
	MustInclude []string
}

// NewRetrieveOptions returns options with every memory type included, a
// 4000-token budget, and the default candidate cap.
func NewRetrieveOptions() *RetrieveOptions {
	return &RetrieveOptions{
		TokenBudget:           4000,
		IncludeWorking:        true,
		IncludeEpisodic:       true,
		IncludeSemantic:       true,
		IncludeProcedural:     true,
		MaxEntitiesToConsider: 1000,
	}
}

// RetrieveForContext loads candidates, applies type inclusion flags, caps
// the candidate pool, prioritizes under the token budget, filters by
// minimum salience, and packages the result with a per-type breakdown and
// near-miss suggestions.
func (m *Manager) RetrieveForContext(ctx context.Context, opts *RetrieveOptions) (*ContextPackage, error) {
	if opts == nil {
		opts = NewRetrieveOptions()
	}
	g, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("contextwindow: retrieve: %w", err)
	}

	pkg := &ContextPackage{Breakdown: make(map[graph.MemoryType]int)}
	var candidates []*graph.MemoryRecord
	for _, rec := range g.Entities {
		if rec.IsSession() {
			continue
		}
		if !m.typeIncluded(rec.MemoryType, opts) {
			pkg.Excluded = append(pkg.Excluded, ExcludedMemory{
				Name: rec.Name, Reason: ReasonFiltered,
			})
			continue
		}
		candidates = append(candidates, rec)
	}

	// Bound scoring cost: pre-score and keep the top candidates when the
	// pool is oversized.
	maxCandidates := opts.MaxEntitiesToConsider
	if maxCandidates <= 0 {
		maxCandidates = 1000
	}
	if len(candidates) > maxCandidates {
		ranked := m.salience.Rank(candidates, opts.Context)
		candidates = candidates[:0]
		for i, sm := range ranked {
			if i < maxCandidates {
				candidates = append(candidates, sm.Record)
				continue
			}
			pkg.Excluded = append(pkg.Excluded, ExcludedMemory{
				Name: sm.Record.Name, Reason: ReasonFiltered, Salience: sm.Score,
			})
		}
	}

	sel := m.Prioritize(candidates, opts.TokenBudget, opts.Context, opts.MustInclude)
	pkg.Excluded = append(pkg.Excluded, sel.Excluded...)

	must := make(map[string]bool, len(opts.MustInclude))
	for _, name := range opts.MustInclude {
		must[name] = true
	}
	for _, sm := range sel.Selected {
		if opts.MinSalience > 0 && sm.Score < opts.MinSalience && !must[sm.Record.Name] {
			pkg.Excluded = append(pkg.Excluded, ExcludedMemory{
				Name:     sm.Record.Name,
				Reason:   ReasonLowSalience,
				Salience: sm.Score,
				Tokens:   estimateRecord(m.estimator, sm.Record),
			})
			continue
		}
		tokens := estimateRecord(m.estimator, sm.Record)
		pkg.Memories = append(pkg.Memories, sm)
		pkg.TotalTokens += tokens
		pkg.Breakdown[sm.Record.MemoryType] += tokens
	}

	pkg.Suggestions = m.suggestions(pkg.Excluded)
	return pkg, nil
}

// typeIncluded applies the memory-type inclusion flags.
func (m *Manager) typeIncluded(mt graph.MemoryType, opts *RetrieveOptions) bool {
	switch mt {
	case graph.MemoryTypeWorking:
		return opts.IncludeWorking
	case graph.MemoryTypeEpisodic:
		return opts.IncludeEpisodic
	case graph.MemoryTypeSemantic:
		return opts.IncludeSemantic
	case graph.MemoryTypeProcedural:
		return opts.IncludeProcedural
	default:
		return opts.IncludeEpisodic
	}
}

// suggestions renders notes for near-miss budget exclusions (salience
// above 0.5), top three.
func (m *Manager) suggestions(excluded []ExcludedMemory) []string {
	var near []ExcludedMemory
	for _, ex := range excluded {
		if ex.Reason == ReasonBudgetExceeded && ex.Salience > 0.5 {
			near = append(near, ex)
		}
	}
	sort.SliceStable(near, func(i, j int) bool {
		return near[i].Salience > near[j].Salience
	})
	if len(near) > 3 {
		near = near[:3]
	}
	var out []string
	for _, ex := range near {
		out = append(out, fmt.Sprintf(
			"%s (salience %.2f) needs %d more budget tokens to fit",
			ex.Name, ex.Salience, ex.Tokens))
	}
	return out
}

// AllocationOptions controls RetrieveWithBudgetAllocation.
type AllocationOptions struct {
	// MaxTokens is the total window budget.
	MaxTokens int

	// ReserveBuffer is subtracted from MaxTokens before allocation,
	// leaving headroom for prompt framing.
	ReserveBuffer int

	// WorkingPct, EpisodicPct, and SemanticPct split the effective
	// budget across pools (defaults 0.3/0.3/0.4).
	WorkingPct  float64
	EpisodicPct float64
	SemanticPct float64

	// SessionID scopes the working pool to the current session.
	SessionID string

	// RecentSessionCount scopes the episodic pool to the N most recent
	// sessions by distinct session id (default 3).
	RecentSessionCount int

	// Context is the salience scoring context.
	Context *salience.Context

	// MustInclude names records selected before any pool allocation.
	MustInclude []string
}

// NewAllocationOptions returns allocation options with the default split.
func NewAllocationOptions(maxTokens int) *AllocationOptions {
	return &AllocationOptions{
		MaxTokens:          maxTokens,
		WorkingPct:         0.3,
		EpisodicPct:        0.3,
		SemanticPct:        0.4,
		RecentSessionCount: 3,
	}
}

// RetrieveWithBudgetAllocation partitions the budget remaining after
// must-include records across working, episodic, and semantic pools by
// percentage (floor division), retrieves each pool independently, and
// merges the results into one ContextPackage deduplicated by name with
// must-include priority.
func (m *Manager) RetrieveWithBudgetAllocation(ctx context.Context, opts *AllocationOptions) (*ContextPackage, error) {
	if opts == nil {
		return nil, fmt.Errorf("contextwindow: allocation options required: %w", graph.ErrInvalidArgument)
	}
	workingPct, episodicPct, semanticPct := opts.WorkingPct, opts.EpisodicPct, opts.SemanticPct
	if workingPct <= 0 && episodicPct <= 0 && semanticPct <= 0 {
		workingPct, episodicPct, semanticPct = 0.3, 0.3, 0.4
	}

	g, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("contextwindow: retrieve: %w", err)
	}

	pkg := &ContextPackage{Breakdown: make(map[graph.MemoryType]int)}
	seen := make(map[string]bool)

	effective := opts.MaxTokens - opts.ReserveBuffer
	for _, name := range opts.MustInclude {
		rec := g.FindEntity(name)
		if rec == nil {
			continue
		}
		score, comps := m.salience.Score(rec, opts.Context)
		tokens := estimateRecord(m.estimator, rec)
		pkg.Memories = append(pkg.Memories, salience.ScoredMemory{
			Record: rec, Score: score, Components: comps,
		})
		pkg.TotalTokens += tokens
		pkg.Breakdown[rec.MemoryType] += tokens
		seen[rec.Name] = true
		effective -= tokens
	}
	if effective < 0 {
		effective = 0
	}

	workingBudget := poolBudget(effective, workingPct)
	episodicBudget := poolBudget(effective, episodicPct)
	semanticBudget := poolBudget(effective, semanticPct)

	recentSessions := m.recentSessionIDs(g, opts.RecentSessionCount)

	var working, episodic, semantic []*graph.MemoryRecord
	for _, rec := range g.Entities {
		if rec.IsSession() || seen[rec.Name] {
			continue
		}
		switch rec.MemoryType {
		case graph.MemoryTypeWorking:
			if opts.SessionID == "" || rec.SessionID == opts.SessionID {
				working = append(working, rec)
			}
		case graph.MemoryTypeEpisodic:
			if len(recentSessions) == 0 || recentSessions[rec.SessionID] {
				episodic = append(episodic, rec)
			}
		case graph.MemoryTypeSemantic, graph.MemoryTypeProcedural:
			semantic = append(semantic, rec)
		}
	}

	for _, pool := range []struct {
		records []*graph.MemoryRecord
		budget  int
	}{
		{working, workingBudget},
		{episodic, episodicBudget},
		{semantic, semanticBudget},
	} {
		sel := m.Prioritize(pool.records, pool.budget, opts.Context, nil)
		for _, sm := range sel.Selected {
			if seen[sm.Record.Name] {
				continue
			}
			seen[sm.Record.Name] = true
			tokens := estimateRecord(m.estimator, sm.Record)
			pkg.Memories = append(pkg.Memories, sm)
			pkg.TotalTokens += tokens
			pkg.Breakdown[sm.Record.MemoryType] += tokens
		}
		pkg.Excluded = append(pkg.Excluded, sel.Excluded...)
	}

	pkg.Suggestions = m.suggestions(pkg.Excluded)
	return pkg, nil
}

// poolBudget floors tokens*pct. The epsilon keeps exact products like
// 3900*0.3 from landing one token short of 1170 under binary floats.
func poolBudget(tokens int, pct float64) int {
	return int(math.Floor(float64(tokens)*pct + 1e-9))
}

// recentSessionIDs returns the n most recently started session ids as a
// membership set.
func (m *Manager) recentSessionIDs(g *graph.Graph, n int) map[string]bool {
	if n <= 0 {
		n = 3
	}
	var sessions []*graph.MemoryRecord
	for _, rec := range g.Entities {
		if rec.IsSession() {
			sessions = append(sessions, rec)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SessionMeta.StartedAt.After(sessions[j].SessionMeta.StartedAt)
	})
	if len(sessions) > n {
		sessions = sessions[:n]
	}
	out := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		out[s.Name] = true
	}
	return out
}

// EnforceDiversity walks the selection in order and evicts records too
// similar (above threshold, default 0.8) to an already-accepted record.
// An evicted record is swapped for the highest-salience non-similar
// candidate from the pool, or dropped when none qualifies.
func (m *Manager) EnforceDiversity(selected []salience.ScoredMemory, pool []salience.ScoredMemory, threshold float64) []salience.ScoredMemory {
	if threshold <= 0 {
		threshold = 0.8
	}

	inSelection := make(map[string]bool, len(selected))
	for _, sm := range selected {
		inSelection[sm.Record.Name] = true
	}

	var accepted []salience.ScoredMemory
	for _, sm := range selected {
		if !m.similarToAny(sm, accepted, threshold) {
			accepted = append(accepted, sm)
			continue
		}

		replacement, ok := m.bestReplacement(pool, accepted, inSelection, threshold)
		if ok {
			inSelection[replacement.Record.Name] = true
			accepted = append(accepted, replacement)
		}
	}
	return accepted
}

func (m *Manager) similarToAny(sm salience.ScoredMemory, accepted []salience.ScoredMemory, threshold float64) bool {
	for _, a := range accepted {
		if m.salience.Similarity(sm.Record, a.Record) > threshold {
			return true
		}
	}
	return false
}

// bestReplacement finds the highest-salience pool candidate that is not
// already selected and not similar to any accepted record.
func (m *Manager) bestReplacement(pool, accepted []salience.ScoredMemory, inSelection map[string]bool, threshold float64) (salience.ScoredMemory, bool) {
	best := salience.ScoredMemory{}
	found := false
	for _, cand := range pool {
		if inSelection[cand.Record.Name] {
			continue
		}
		if m.similarToAny(cand, accepted, threshold) {
			continue
		}
		if !found || cand.Score > best.Score {
			best = cand
			found = true
		}
	}
	return best, found
}

// SpilloverPage is one page of records excluded from an earlier
// retrieval.
type SpilloverPage struct {
	// Memories is the page content, sorted by descending salience.
	Memories []salience.ScoredMemory `json:"memories"`

	// Cursor encodes the boundary for the next page. Empty when the page
	// is the last one.
	Cursor string `json:"cursor,omitempty"`

	// HasMore reports whether records remain past this page.
	HasMore bool `json:"has_more"`
}

// HandleSpillover pages a set of scored records, descending by salience.
// The returned cursor encodes the page boundary for RetrieveSpilloverPage.
func (m *Manager) HandleSpillover(scored []salience.ScoredMemory, pageSize int) *SpilloverPage {
	if pageSize <= 0 {
		pageSize = 10
	}
	ordered := append([]salience.ScoredMemory(nil), scored...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	page := &SpilloverPage{}
	if len(ordered) > pageSize {
		page.Memories = ordered[:pageSize]
		page.HasMore = true
	} else {
		page.Memories = ordered
	}
	if page.HasMore && len(page.Memories) > 0 {
		last := page.Memories[len(page.Memories)-1]
		page.Cursor = EncodeCursor(Cursor{
			MaxSalience: last.Score,
			LastEntity:  last.Record.Name,
		})
	}
	return page
}

// SpilloverOptions controls RetrieveSpilloverPage.
type SpilloverOptions struct {
	// Cursor is the boundary from the previous page. Empty or corrupted
	// cursors restart from the top.
	Cursor string

	// PageSize caps the page (default 10).
	PageSize int

	// Context is the salience scoring context.
	Context *salience.Context
}

// RetrieveSpilloverPage re-scores all non-session records and returns the
// page strictly below the cursor boundary: lower salience than the
// boundary, or equal salience with a name sorting after the boundary's
// last entity. With no boundary (empty or corrupted cursor) the page
// starts from the top, maximum-salience records included.
func (m *Manager) RetrieveSpilloverPage(ctx context.Context, opts *SpilloverOptions) (*SpilloverPage, error) {
	if opts == nil {
		opts = &SpilloverOptions{}
	}
	g, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("contextwindow: spillover: %w", err)
	}

	var candidates []*graph.MemoryRecord
	for _, rec := range g.Entities {
		if !rec.IsSession() {
			candidates = append(candidates, rec)
		}
	}

	boundary := DecodeCursor(opts.Cursor)
	scored := m.salience.Rank(candidates, opts.Context)
	var below []salience.ScoredMemory
	for _, sm := range scored {
		if sm.Score < boundary.MaxSalience {
			below = append(below, sm)
			continue
		}
		if sm.Score != boundary.MaxSalience {
			continue
		}
		// An empty last entity means no boundary: the first page includes
		// records at the maximum salience too.
		if boundary.LastEntity == "" || sm.Record.Name > boundary.LastEntity {
			below = append(below, sm)
		}
	}
	return m.HandleSpillover(below, opts.PageSize), nil
}
