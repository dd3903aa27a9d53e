// Package workingmem manages short-lived, session-scoped, TTL-bounded
// working memory.
//
// Working memories are created with a default 24-hour TTL and a per-session
// capacity limit. Expiry is lazy: an expired record stays visible until a
// sweep (ClearExpired) removes it or a filter excludes it. There is no
// cross-call locking; two concurrent creates against the same session can
// both pass the capacity check before either persists, permitting a benign
// overshoot. Callers that need strict enforcement must serialize writes per
// session.
package workingmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Config controls working-memory defaults and promotion thresholds.
type Config struct {
	// DefaultTTL is the lifetime of a new working memory. Default 24h.
	DefaultTTL time.Duration

	// MaxPerSession is the live-record capacity per session. Default 100.
	MaxPerSession int

	// AutoPromote adds threshold-qualified records to the promotion
	// candidate set even when not explicitly marked.
	AutoPromote bool

	// PromoteMinConfidence is the auto-promotion confidence threshold.
	// Default 0.7.
	PromoteMinConfidence float64

	// PromoteMinConfirmations is the auto-promotion confirmation
	// threshold. Default 2.
	PromoteMinConfirmations int
}

// DefaultConfig returns the default working-memory configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:              24 * time.Hour,
		MaxPerSession:           100,
		AutoPromote:             true,
		PromoteMinConfidence:    0.7,
		PromoteMinConfirmations: 2,
	}
}

// Manager creates, indexes, and expires working memory.
type Manager struct {
	store  storage.Store
	cfg    Config
	node   *snowflake.Node
	logger *zap.Logger
	now    func() time.Time

	// mu guards the per-session count index below. The index is rebuilt
	// from storage on first access per session and kept in sync on
	// create/clear.
	mu            sync.Mutex
	sessionCounts map[string]int
	countsLoaded  map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

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

// NewManager creates a working-memory manager over the given store.
// Zero config fields fall back to DefaultConfig values.
func NewManager(store storage.Store, cfg Config, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxPerSession <= 0 {
		cfg.MaxPerSession = def.MaxPerSession
	}
	if cfg.PromoteMinConfidence <= 0 {
		cfg.PromoteMinConfidence = def.PromoteMinConfidence
	}
	if cfg.PromoteMinConfirmations <= 0 {
		cfg.PromoteMinConfirmations = def.PromoteMinConfirmations
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("workingmem: snowflake node: %w", err)
	}

	m := &Manager{
		store:         store,
		cfg:           cfg,
		node:          node,
		logger:        zap.NewNop(),
		now:           time.Now,
		sessionCounts: make(map[string]int),
		countsLoaded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateOptions customizes a new working memory.
type CreateOptions struct {
	// EntityType classifies the record (default "note").
	EntityType string

	// TaskID correlates the record with a task.
	TaskID string

	// ConversationID correlates the record with a conversation.
	ConversationID string

	// AgentID identifies the owning agent.
	AgentID string

	// TTL overrides the default lifetime.
	TTL time.Duration

	// Importance sets the base importance (default 5.0).
	Importance float64

	// Confidence sets the initial confidence (default 0.5).
	Confidence float64

	// Tags are free-form labels.
	Tags []string
}

// Create generates a uniquely named working memory in the given session.
//
// Fails with an error wrapping graph.ErrLimitExceeded when the session
// already holds MaxPerSession live records. The capacity check and the
// append are not atomic with respect to concurrent callers.
func (m *Manager) Create(ctx context.Context, sessionID, content string, opts *CreateOptions) (*graph.MemoryRecord, error) {
	if sessionID == "" || content == "" {
		return nil, fmt.Errorf("workingmem: session id and content are required: %w", graph.ErrInvalidArgument)
	}
	if opts == nil {
		opts = &CreateOptions{}
	}

	count, err := m.sessionCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if count >= m.cfg.MaxPerSession {
		return nil, fmt.Errorf("workingmem: session %q holds %d working memories: %w",
			sessionID, m.cfg.MaxPerSession, graph.ErrLimitExceeded)
	}

	now := m.now()
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	expires := now.Add(ttl)

	entityType := opts.EntityType
	if entityType == "" {
		entityType = "note"
	}
	importance := opts.Importance
	if importance <= 0 {
		importance = 5.0
	}
	confidence := opts.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}

	rec := &graph.MemoryRecord{
		Name:            fmt.Sprintf("wm_%s", m.node.Generate()),
		EntityType:      entityType,
		Observations:    []string{content},
		MemoryType:      graph.MemoryTypeWorking,
		SessionID:       sessionID,
		ConversationID:  opts.ConversationID,
		TaskID:          opts.TaskID,
		ExpiresAt:       &expires,
		IsWorkingMemory: true,
		Confidence:      graph.ClampConfidence(confidence),
		AgentID:         opts.AgentID,
		Visibility:      graph.VisibilityPrivate,
		Importance:      graph.ClampImportance(importance),
		Tags:            append([]string(nil), opts.Tags...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("workingmem: create: %w", err)
	}

	m.mu.Lock()
	m.sessionCounts[sessionID]++
	m.mu.Unlock()

	m.bumpSessionMemoryCount(ctx, sessionID)

	m.logger.Debug("working memory created",
		zap.String("name", rec.Name), zap.String("session_id", sessionID))
	return rec, nil
}

// bumpSessionMemoryCount increments the owning session record's memory
// counter. Working memory may be created under a bare session id with no
// session record behind it; that is not an error.
func (m *Manager) bumpSessionMemoryCount(ctx context.Context, sessionID string) {
	sess, err := m.store.GetByName(ctx, sessionID)
	if err != nil {
		return
	}
	meta, ok := sess.Session()
	if !ok {
		return
	}
	updated := *meta
	updated.MemoryCount++
	if err := m.store.Update(ctx, sessionID, &storage.Partial{SessionMeta: &updated}); err != nil {
		m.logger.Warn("session memory count update failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ReleaseSlot frees one unit of a session's capacity after a record leaves
// working memory through a path other than the clear sweeps, such as
// promotion to long-term memory.
func (m *Manager) ReleaseSlot(sessionID string) {
	m.mu.Lock()
	if m.countsLoaded[sessionID] && m.sessionCounts[sessionID] > 0 {
		m.sessionCounts[sessionID]--
	}
	m.mu.Unlock()
}

// sessionCount returns the live working-memory count for a session,
// rebuilding the index from storage on first access.
func (m *Manager) sessionCount(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	if m.countsLoaded[sessionID] {
		count := m.sessionCounts[sessionID]
		m.mu.Unlock()
		return count, nil
	}
	m.mu.Unlock()

	g, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("workingmem: load graph: %w", err)
	}
	now := m.now()
	count := 0
	for _, rec := range g.Entities {
		if rec.MemoryType == graph.MemoryTypeWorking && rec.SessionID == sessionID && !rec.Expired(now) {
			count++
		}
	}

	m.mu.Lock()
	m.sessionCounts[sessionID] = count
	m.countsLoaded[sessionID] = true
	m.mu.Unlock()
	return count, nil
}

// Filter narrows SessionMemories results.
type Filter struct {
	// EntityType matches records of the given type.
	EntityType string

	// TaskID matches records correlated with the given task.
	TaskID string

	// MinImportance keeps records at or above the given importance.
	MinImportance *float64

	// MaxImportance keeps records at or below the given importance.
	MaxImportance *float64

	// ExcludeExpired drops records past their expiry.
	ExcludeExpired bool
}

// SessionMemories returns the working memories of a session, optionally
// filtered.
func (m *Manager) SessionMemories(ctx context.Context, sessionID string, filter *Filter) ([]*graph.MemoryRecord, error) {
	g, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("workingmem: load graph: %w", err)
	}

	now := m.now()
	var out []*graph.MemoryRecord
	for _, rec := range g.Entities {
		if rec.MemoryType != graph.MemoryTypeWorking || rec.SessionID != sessionID {
			continue
		}
		if filter != nil {
			if filter.EntityType != "" && rec.EntityType != filter.EntityType {
				continue
			}
			if filter.TaskID != "" && rec.TaskID != filter.TaskID {
				continue
			}
			if filter.MinImportance != nil && rec.Importance < *filter.MinImportance {
				continue
			}
			if filter.MaxImportance != nil && rec.Importance > *filter.MaxImportance {
				continue
			}
			if filter.ExcludeExpired && rec.Expired(now) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// ClearExpired removes every working memory past its expiry and returns
// the count removed. Records of other memory types are never touched, even
// if stale expiry fields leak in. Idempotent: a repeat call with no
// qualifying records returns 0.
func (m *Manager) ClearExpired(ctx context.Context) (int, error) {
	g, err := m.store.GetForMutation(ctx)
	if err != nil {
		return 0, fmt.Errorf("workingmem: load graph: %w", err)
	}

	now := m.now()
	removedPerSession := make(map[string]int)
	kept := make([]*graph.MemoryRecord, 0, len(g.Entities))
	removed := 0

	for _, rec := range g.Entities {
		if rec.Expired(now) {
			removed++
			removedPerSession[rec.SessionID]++
			continue
		}
		kept = append(kept, rec)
	}

	if removed == 0 {
		return 0, nil
	}

	g.Entities = kept
	if err := m.store.Save(ctx, g); err != nil {
		return 0, fmt.Errorf("workingmem: save graph: %w", err)
	}

	m.mu.Lock()
	for sessionID, n := range removedPerSession {
		if m.countsLoaded[sessionID] {
			m.sessionCounts[sessionID] -= n
			if m.sessionCounts[sessionID] < 0 {
				m.sessionCounts[sessionID] = 0
			}
		}
	}
	m.mu.Unlock()

	m.logger.Debug("expired working memory cleared", zap.Int("removed", removed))
	return removed, nil
}

// ClearSessionExpired removes expired working memories of one session and
// returns the count removed.
func (m *Manager) ClearSessionExpired(ctx context.Context, sessionID string) (int, error) {
	g, err := m.store.GetForMutation(ctx)
	if err != nil {
		return 0, fmt.Errorf("workingmem: load graph: %w", err)
	}

	now := m.now()
	kept := make([]*graph.MemoryRecord, 0, len(g.Entities))
	removed := 0
	for _, rec := range g.Entities {
		if rec.SessionID == sessionID && rec.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if removed == 0 {
		return 0, nil
	}

	g.Entities = kept
	if err := m.store.Save(ctx, g); err != nil {
		return 0, fmt.Errorf("workingmem: save graph: %w", err)
	}

	m.mu.Lock()
	if m.countsLoaded[sessionID] {
		m.sessionCounts[sessionID] -= removed
		if m.sessionCounts[sessionID] < 0 {
			m.sessionCounts[sessionID] = 0
		}
	}
	m.mu.Unlock()
	return removed, nil
}

// ExtendTTL pushes out the expiry of the named working memories by the
// given number of hours.
//
// Fails before any mutation when additionalHours is non-positive, when a
// name is missing, or when a target is not working memory. For an already
// expired record the extension runs from now rather than from the stale
// expiry.
func (m *Manager) ExtendTTL(ctx context.Context, names []string, additionalHours float64) error {
	if additionalHours <= 0 {
		return fmt.Errorf("workingmem: additional hours must be positive: %w", graph.ErrInvalidArgument)
	}

	// Validate the full batch first so a bad name mutates nothing.
	records := make([]*graph.MemoryRecord, 0, len(names))
	for _, name := range names {
		rec, err := m.store.GetByName(ctx, name)
		if err != nil {
			return fmt.Errorf("workingmem: extend ttl: %w", err)
		}
		if rec.MemoryType != graph.MemoryTypeWorking {
			return fmt.Errorf("workingmem: %q is %s memory, not working: %w",
				name, rec.MemoryType, graph.ErrInvalidState)
		}
		records = append(records, rec)
	}

	now := m.now()
	extension := time.Duration(additionalHours * float64(time.Hour))
	for _, rec := range records {
		base := now
		if rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
			base = *rec.ExpiresAt
		}
		expires := base.Add(extension)
		if err := m.store.Update(ctx, rec.Name, &storage.Partial{ExpiresAt: &expires}); err != nil {
			return fmt.Errorf("workingmem: extend ttl: %w", err)
		}
	}
	return nil
}

// MarkForPromotion flags a working memory as an explicit promotion
// candidate.
func (m *Manager) MarkForPromotion(ctx context.Context, name string) error {
	rec, err := m.store.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("workingmem: mark for promotion: %w", err)
	}
	if rec.MemoryType != graph.MemoryTypeWorking {
		return fmt.Errorf("workingmem: %q is %s memory, not working: %w",
			name, rec.MemoryType, graph.ErrInvalidState)
	}

	marked := true
	if err := m.store.Update(ctx, name, &storage.Partial{MarkedForPromotion: &marked}); err != nil {
		return fmt.Errorf("workingmem: mark for promotion: %w", err)
	}
	return nil
}

// PromotionCriteria overrides the configured promotion thresholds.
type PromotionCriteria struct {
	// MinConfidence is the confidence threshold.
	MinConfidence float64

	// MinConfirmations is the confirmation threshold.
	MinConfirmations int
}

// PromotionCandidates returns the session's working memories eligible for
// promotion: explicitly marked records plus, when auto-promotion is
// enabled, records meeting the confidence/confirmation thresholds. The two
// sets are unioned without duplication.
func (m *Manager) PromotionCandidates(ctx context.Context, sessionID string, criteria *PromotionCriteria) ([]*graph.MemoryRecord, error) {
	memories, err := m.SessionMemories(ctx, sessionID, &Filter{ExcludeExpired: true})
	if err != nil {
		return nil, err
	}

	minConfidence := m.cfg.PromoteMinConfidence
	minConfirmations := m.cfg.PromoteMinConfirmations
	if criteria != nil {
		if criteria.MinConfidence > 0 {
			minConfidence = criteria.MinConfidence
		}
		if criteria.MinConfirmations > 0 {
			minConfirmations = criteria.MinConfirmations
		}
	}

	seen := make(map[string]bool)
	var out []*graph.MemoryRecord
	for _, rec := range memories {
		eligible := rec.MarkedForPromotion
		if !eligible && m.cfg.AutoPromote {
			eligible = rec.Confidence >= minConfidence && rec.ConfirmationCount >= minConfirmations
		}
		if eligible && !seen[rec.Name] {
			seen[rec.Name] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// Eligible reports whether a single record currently meets the promotion
// rule (explicit mark or thresholds).
func (m *Manager) Eligible(rec *graph.MemoryRecord, criteria *PromotionCriteria) bool {
	if rec.MemoryType != graph.MemoryTypeWorking {
		return false
	}
	if rec.MarkedForPromotion {
		return true
	}
	minConfidence := m.cfg.PromoteMinConfidence
	minConfirmations := m.cfg.PromoteMinConfirmations
	if criteria != nil {
		if criteria.MinConfidence > 0 {
			minConfidence = criteria.MinConfidence
		}
		if criteria.MinConfirmations > 0 {
			minConfirmations = criteria.MinConfirmations
		}
	}
	return rec.Confidence >= minConfidence && rec.ConfirmationCount >= minConfirmations
}
