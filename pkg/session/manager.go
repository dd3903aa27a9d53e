// Package session manages session lifecycle and cross-session
// relationship tracking.
//
// A session is a session-typed record in the memory graph. The manager
// keeps an in-process registry of active sessions for O(1) lookup;
// persisted history is queried from storage. Related-session links are an
// undirected adjacency list of ids that may legitimately contain cycles,
// so every traversal tracks visited ids.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/consolidation"
	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/llm"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

// Manager owns session records and their relationships.
type Manager struct {
	store      storage.Store
	working    *workingmem.Manager
	pipeline   *consolidation.Pipeline
	summarizer llm.Provider
	logger     *zap.Logger
	now        func() time.Time

	// mu guards the active-session registry.
	mu     sync.RWMutex
	active map[string]*graph.MemoryRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithSummarizer supplies the LLM collaborator used for end-of-session
// summaries. Without one, summary creation is skipped.
func WithSummarizer(p llm.Provider) Option {
	return func(m *Manager) { m.summarizer = p }
}

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the manager's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager. The working-memory manager is
// used for end-of-session cleanup and the pipeline for end-of-session
// promotion.
func NewManager(store storage.Store, working *workingmem.Manager, pipeline *consolidation.Pipeline, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		working:  working,
		pipeline: pipeline,
		logger:   zap.NewNop(),
		now:      time.Now,
		active:   make(map[string]*graph.MemoryRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartOptions customizes a new session.
type StartOptions struct {
	// SessionID fixes the session id; auto-generated when empty.
	SessionID string

	// GoalDescription describes what the session should achieve.
	GoalDescription string

	// TaskType classifies the session's work.
	TaskType string

	// UserIntent captures the user's stated intent.
	UserIntent string

	// AgentID identifies the owning agent.
	AgentID string

	// PreviousSessionID links this session to its predecessor. The link
	// is recorded bidirectionally.
	PreviousSessionID string
}

// Start creates a session record and registers it as active. When a
// predecessor is given, the two sessions are linked bidirectionally.
//
// Starting a session with a duplicate id (active or already in storage)
// fails with an error wrapping graph.ErrInvalidState.
func (m *Manager) Start(ctx context.Context, opts *StartOptions) (*graph.MemoryRecord, error) {
	if opts == nil {
		opts = &StartOptions{}
	}
	id := opts.SessionID
	if id == "" {
		id = "session_" + uuid.NewString()
	}

	m.mu.RLock()
	_, isActive := m.active[id]
	m.mu.RUnlock()
	if isActive {
		return nil, fmt.Errorf("session: %q is already active: %w", id, graph.ErrInvalidState)
	}
	if _, err := m.store.GetByName(ctx, id); err == nil {
		return nil, fmt.Errorf("session: %q already exists: %w", id, graph.ErrInvalidState)
	}

	now := m.now()
	meta := &graph.SessionMeta{
		StartedAt:         now,
		Status:            graph.SessionActive,
		GoalDescription:   opts.GoalDescription,
		TaskType:          opts.TaskType,
		UserIntent:        opts.UserIntent,
		PreviousSessionID: opts.PreviousSessionID,
	}
	if opts.PreviousSessionID != "" {
		meta.RelatedSessionIDs = []string{opts.PreviousSessionID}
	}

	rec := &graph.MemoryRecord{
		Name:        id,
		EntityType:  graph.EntityTypeSession,
		Observations: []string{
			fmt.Sprintf("Session started at %s", now.Format(time.RFC3339)),
		},
		MemoryType:  graph.MemoryTypeEpisodic,
		SessionID:   id,
		AgentID:     opts.AgentID,
		Visibility:  graph.VisibilityPrivate,
		Confidence:  1.0,
		Importance:  5.0,
		SessionMeta: meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if opts.PreviousSessionID != "" {
		prev, err := m.store.GetByName(ctx, opts.PreviousSessionID)
		if err != nil {
			return nil, fmt.Errorf("session: previous session: %w", err)
		}
		prevMeta, ok := prev.Session()
		if !ok {
			return nil, fmt.Errorf("session: %q is not a session: %w",
				opts.PreviousSessionID, graph.ErrInvalidState)
		}
		if !contains(prevMeta.RelatedSessionIDs, id) {
			updated := *prevMeta
			updated.RelatedSessionIDs = append(
				append([]string(nil), prevMeta.RelatedSessionIDs...), id)
			if err := m.store.Update(ctx, prev.Name, &storage.Partial{SessionMeta: &updated}); err != nil {
				return nil, fmt.Errorf("session: link previous: %w", err)
			}
		}
	}

	if err := m.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}

	m.mu.Lock()
	m.active[id] = rec.Clone()
	m.mu.Unlock()

	m.logger.Info("session started", zap.String("session_id", id))
	return rec, nil
}

// EndOptions customizes ending a session.
type EndOptions struct {
	// Status is the terminal status (default completed).
	Status graph.SessionStatus

	// PromoteOnEnd runs the consolidation pipeline over the session's
	// eligible working memories.
	PromoteOnEnd bool

	// CleanupOnEnd clears the session's expired working memory.
	CleanupOnEnd bool

	// CreateSummaryOnEnd creates a session_summary record via the
	// summarization collaborator (skipped when none is configured).
	CreateSummaryOnEnd bool
}

// EndResult reports what ending a session did.
type EndResult struct {
	// SessionID is the ended session.
	SessionID string `json:"session_id"`

	// Status is the terminal status applied.
	Status graph.SessionStatus `json:"status"`

	// MemoriesCleaned is the number of expired working memories removed.
	MemoriesCleaned int `json:"memories_cleaned"`

	// MemoriesPromoted is the number of working memories promoted.
	MemoriesPromoted int `json:"memories_promoted"`

	// SummaryName names the summary record, if one was created.
	SummaryName string `json:"summary_name,omitempty"`

	// Errors aggregates non-fatal failures of the optional end steps.
	Errors []string `json:"errors,omitempty"`
}

// End transitions an active session to a terminal status, stamps endedAt,
// and appends a status observation. Optional steps (promotion, cleanup,
// summary) run best-effort, collecting errors rather than failing the end.
//
// Ending a non-existent session fails with graph.ErrNotFound; ending a
// non-active session fails with graph.ErrInvalidState.
func (m *Manager) End(ctx context.Context, id string, opts *EndOptions) (*EndResult, error) {
	if opts == nil {
		opts = &EndOptions{}
	}
	status := opts.Status
	if status == "" {
		status = graph.SessionCompleted
	}
	if status != graph.SessionCompleted && status != graph.SessionAbandoned {
		return nil, fmt.Errorf("session: invalid terminal status %q: %w", status, graph.ErrInvalidArgument)
	}

	rec, err := m.store.GetByName(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: end: %w", err)
	}
	meta, ok := rec.Session()
	if !ok {
		return nil, fmt.Errorf("session: %q is not a session: %w", id, graph.ErrInvalidState)
	}
	if meta.Status != graph.SessionActive {
		return nil, fmt.Errorf("session: %q is already %s: %w", id, meta.Status, graph.ErrInvalidState)
	}

	result := &EndResult{SessionID: id, Status: status}
	now := m.now()

	if opts.PromoteOnEnd && m.pipeline != nil {
		res, err := m.pipeline.ConsolidateSession(ctx, id, nil)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("promote: %v", err))
		} else {
			result.MemoriesPromoted = res.MemoriesPromoted
			result.Errors = append(result.Errors, res.Errors...)
		}
	}
	if opts.CleanupOnEnd {
		cleaned, err := m.working.ClearSessionExpired(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cleanup: %v", err))
		} else {
			result.MemoriesCleaned = cleaned
		}
	}

	updated := *meta
	updated.Status = status
	updated.EndedAt = &now
	updated.ConsolidatedCount += result.MemoriesPromoted
	partial := &storage.Partial{
		SessionMeta: &updated,
		AppendObservations: []string{
			fmt.Sprintf("Session %s at %s", status, now.Format(time.RFC3339)),
		},
	}
	if err := m.store.Update(ctx, id, partial); err != nil {
		return nil, fmt.Errorf("session: end: %w", err)
	}

	if opts.CreateSummaryOnEnd && m.summarizer != nil {
		name, err := m.createSummary(ctx, rec, &updated)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("summary: %v", err))
		} else {
			result.SummaryName = name
		}
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	m.logger.Info("session ended",
		zap.String("session_id", id),
		zap.String("status", string(status)),
		zap.Int("promoted", result.MemoriesPromoted),
		zap.Int("cleaned", result.MemoriesCleaned))
	return result, nil
}

// createSummary generates a summary record for an ended session and links
// it with a has_summary relation.
func (m *Manager) createSummary(ctx context.Context, rec *graph.MemoryRecord, meta *graph.SessionMeta) (string, error) {
	memories, err := m.working.SessionMemories(ctx, rec.Name, nil)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, mem := range memories {
		lines = append(lines, mem.Observations...)
	}

	prompt := fmt.Sprintf(
		"Summarize this agent session in 2-3 sentences.\nGoal: %s\nStatus: %s\nMemories:\n%s",
		meta.GoalDescription, meta.Status, strings.Join(lines, "\n"))
	summary, err := m.summarizer.Generate(ctx, prompt, llm.WithMaxTokens(256))
	if err != nil {
		return "", err
	}

	now := m.now()
	name := rec.Name + "_summary"
	summaryRec := &graph.MemoryRecord{
		Name:       name,
		EntityType: graph.EntityTypeSessionSummary,
		Observations: []string{
			fmt.Sprintf("Goal: %s", meta.GoalDescription),
			fmt.Sprintf("Status: %s", meta.Status),
			strings.TrimSpace(summary),
		},
		MemoryType: graph.MemoryTypeEpisodic,
		SessionID:  rec.Name,
		AgentID:    rec.AgentID,
		Visibility: graph.VisibilityPrivate,
		Confidence: 0.9,
		Importance: 6.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.Append(ctx, summaryRec); err != nil {
		return "", err
	}
	rel := &graph.Relation{From: rec.Name, To: name, RelationType: graph.RelationHasSummary}
	if err := m.store.AppendRelation(ctx, rel); err != nil {
		return "", err
	}
	return name, nil
}

// ActiveSession returns the active session with the given id from the
// in-process registry, or false. This is a registry lookup, not a storage
// query.
func (m *Manager) ActiveSession(id string) (*graph.MemoryRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ActiveSessions returns all active sessions from the in-process registry.
func (m *Manager) ActiveSessions() []*graph.MemoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*graph.MemoryRecord, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionMeta.StartedAt.After(out[j].SessionMeta.StartedAt)
	})
	return out
}

// HistoryFilter narrows History results.
type HistoryFilter struct {
	// Status matches sessions in the given state.
	Status graph.SessionStatus

	// TaskType matches sessions of the given task type.
	TaskType string

	// AgentID matches sessions owned by the given agent.
	AgentID string

	// StartedAfter keeps sessions started at or after the given time.
	StartedAfter *time.Time

	// StartedBefore keeps sessions started at or before the given time.
	StartedBefore *time.Time

	// Offset skips the first n matches (newest-first order).
	Offset int

	// Limit caps the number of results (0 = no cap).
	Limit int
}

// History queries persisted sessions, newest-first, with offset/limit
// pagination.
func (m *Manager) History(ctx context.Context, filter *HistoryFilter) ([]*graph.MemoryRecord, error) {
	g, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	if filter == nil {
		filter = &HistoryFilter{}
	}

	var sessions []*graph.MemoryRecord
	for _, rec := range g.Entities {
		meta, ok := rec.Session()
		if !ok {
			continue
		}
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		if filter.TaskType != "" && meta.TaskType != filter.TaskType {
			continue
		}
		if filter.AgentID != "" && rec.AgentID != filter.AgentID {
			continue
		}
		if filter.StartedAfter != nil && meta.StartedAt.Before(*filter.StartedAfter) {
			continue
		}
		if filter.StartedBefore != nil && meta.StartedAt.After(*filter.StartedBefore) {
			continue
		}
		sessions = append(sessions, rec)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SessionMeta.StartedAt.After(sessions[j].SessionMeta.StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(sessions) {
			return nil, nil
		}
		sessions = sessions[filter.Offset:]
	}
	if filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

// Link fully connects the given sessions pairwise in their related-session
// lists. Requires at least two ids, all of which must exist as sessions;
// validation runs before any mutation.
func (m *Manager) Link(ctx context.Context, ids []string) error {
	if len(ids) < 2 {
		return fmt.Errorf("session: at least two sessions required to link: %w", graph.ErrInvalidArgument)
	}

	metas := make(map[string]*graph.SessionMeta, len(ids))
	for _, id := range ids {
		rec, err := m.store.GetByName(ctx, id)
		if err != nil {
			return fmt.Errorf("session: link: %w", err)
		}
		meta, ok := rec.Session()
		if !ok {
			return fmt.Errorf("session: %q is not a session: %w", id, graph.ErrInvalidState)
		}
		metas[id] = meta
	}

	for _, id := range ids {
		meta := metas[id]
		updated := *meta
		updated.RelatedSessionIDs = append([]string(nil), meta.RelatedSessionIDs...)
		for _, other := range ids {
			if other != id && !contains(updated.RelatedSessionIDs, other) {
				updated.RelatedSessionIDs = append(updated.RelatedSessionIDs, other)
			}
		}
		if err := m.store.Update(ctx, id, &storage.Partial{SessionMeta: &updated}); err != nil {
			return fmt.Errorf("session: link: %w", err)
		}
	}
	return nil
}

// Chain reconstructs the ordered chain of sessions reachable from the
// given id via previous-session links and the related-session adjacency
// list, oldest-first.
//
// Cyclic links are a valid input: traversal tracks visited ids and always
// terminates.
func (m *Manager) Chain(ctx context.Context, id string) ([]*graph.MemoryRecord, error) {
	start, err := m.store.GetByName(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: chain: %w", err)
	}
	if _, ok := start.Session(); !ok {
		return nil, fmt.Errorf("session: %q is not a session: %w", id, graph.ErrInvalidState)
	}

	visited := map[string]bool{id: true}
	chain := []*graph.MemoryRecord{start}
	queue := neighborIDs(start.SessionMeta)

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true

		rec, err := m.store.GetByName(ctx, next)
		if err != nil {
			// Dangling link; skip rather than fail the traversal.
			continue
		}
		meta, ok := rec.Session()
		if !ok {
			continue
		}
		chain = append(chain, rec)
		queue = append(queue, neighborIDs(meta)...)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].SessionMeta.StartedAt.Before(chain[j].SessionMeta.StartedAt)
	})
	return chain, nil
}

func neighborIDs(meta *graph.SessionMeta) []string {
	var out []string
	if meta.PreviousSessionID != "" {
		out = append(out, meta.PreviousSessionID)
	}
	out = append(out, meta.RelatedSessionIDs...)
	return out
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
