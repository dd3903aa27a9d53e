package core

import (
	"context"
	"time"

	"github.com/danielsimonjr/memgraph-go/pkg/consolidation"
	"github.com/danielsimonjr/memgraph-go/pkg/contextwindow"
	"github.com/danielsimonjr/memgraph-go/pkg/decay"
	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/session"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

// Access pattern classification thresholds.
const (
	frequentAccessCount   = 10
	occasionalAccessCount = 3
)

// CreateWorkingMemory creates a TTL-bound working memory in the given
// session.
func (c *Client) CreateWorkingMemory(ctx context.Context, sessionID, content string, opts *workingmem.CreateOptions) (*graph.MemoryRecord, error) {
	rec, err := c.working.Create(ctx, sessionID, content, opts)
	if err != nil {
		return nil, NewMemoryError("CreateWorkingMemory", err)
	}
	return rec, nil
}

// GetMemory fetches a record by name.
func (c *Client) GetMemory(ctx context.Context, name string) (*graph.MemoryRecord, error) {
	rec, err := c.store.GetByName(ctx, name)
	if err != nil {
		return nil, NewMemoryError("GetMemory", err)
	}
	return rec, nil
}

// SessionMemories lists a session's working memories, optionally
// filtered.
func (c *Client) SessionMemories(ctx context.Context, sessionID string, filter *workingmem.Filter) ([]*graph.MemoryRecord, error) {
	recs, err := c.working.SessionMemories(ctx, sessionID, filter)
	if err != nil {
		return nil, NewMemoryError("SessionMemories", err)
	}
	return recs, nil
}

// ClearExpired removes expired working memories across all sessions and
// returns the number removed.
func (c *Client) ClearExpired(ctx context.Context) (int, error) {
	n, err := c.working.ClearExpired(ctx)
	if err != nil {
		return 0, NewMemoryError("ClearExpired", err)
	}
	return n, nil
}

// ExtendTTL pushes out the expiry of the named working memories.
func (c *Client) ExtendTTL(ctx context.Context, names []string, additionalHours float64) error {
	return NewMemoryError("ExtendTTL", c.working.ExtendTTL(ctx, names, additionalHours))
}

// MarkForPromotion flags a working memory for consolidation regardless of
// thresholds.
func (c *Client) MarkForPromotion(ctx context.Context, name string) error {
	return NewMemoryError("MarkForPromotion", c.working.MarkForPromotion(ctx, name))
}

// Reinforce records a confirmation of a memory, strengthening its
// confidence and slowing its decay.
func (c *Client) Reinforce(ctx context.Context, name string) error {
	return NewMemoryError("Reinforce", c.decay.Reinforce(ctx, name))
}

// DecayAll applies the forgetting curve across the graph and reports
// aggregate decay statistics.
func (c *Client) DecayAll(ctx context.Context, opts *decay.DecayOptions) (*decay.DecayResult, error) {
	res, err := c.decay.DecayAll(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("DecayAll", err)
	}
	return res, nil
}

// Forget removes memories whose effective importance fell below the
// given threshold, subject to age, tag, and archive options.
func (c *Client) Forget(ctx context.Context, opts *decay.ForgetOptions) (*decay.ForgetResult, error) {
	res, err := c.decay.Forget(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("Forget", err)
	}
	return res, nil
}

// StartSession opens a new session.
func (c *Client) StartSession(ctx context.Context, opts *session.StartOptions) (*graph.MemoryRecord, error) {
	rec, err := c.sessions.Start(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("StartSession", err)
	}
	return rec, nil
}

// EndSession closes a session, optionally promoting, cleaning up, and
// summarizing its memories.
func (c *Client) EndSession(ctx context.Context, id string, opts *session.EndOptions) (*session.EndResult, error) {
	res, err := c.sessions.End(ctx, id, opts)
	if err != nil {
		return nil, NewMemoryError("EndSession", err)
	}
	return res, nil
}

// SessionHistory queries persisted sessions newest-first.
func (c *Client) SessionHistory(ctx context.Context, filter *session.HistoryFilter) ([]*graph.MemoryRecord, error) {
	recs, err := c.sessions.History(ctx, filter)
	if err != nil {
		return nil, NewMemoryError("SessionHistory", err)
	}
	return recs, nil
}

// SessionChain reconstructs the chain of related sessions, oldest-first.
func (c *Client) SessionChain(ctx context.Context, id string) ([]*graph.MemoryRecord, error) {
	recs, err := c.sessions.Chain(ctx, id)
	if err != nil {
		return nil, NewMemoryError("SessionChain", err)
	}
	return recs, nil
}

// LinkSessions connects the given sessions pairwise.
func (c *Client) LinkSessions(ctx context.Context, ids []string) error {
	return NewMemoryError("LinkSessions", c.sessions.Link(ctx, ids))
}

// Consolidate runs the consolidation pipeline over one session's
// promotion candidates.
func (c *Client) Consolidate(ctx context.Context, sessionID string, opts *consolidation.Options) (*consolidation.Result, error) {
	res, err := c.pipeline.ConsolidateSession(ctx, sessionID, opts)
	if err != nil {
		return nil, NewMemoryError("Consolidate", err)
	}
	return res, nil
}

// PromoteMemory promotes a single working memory to a durable type.
func (c *Client) PromoteMemory(ctx context.Context, name string, targetType graph.MemoryType) error {
	return NewMemoryError("PromoteMemory", c.pipeline.PromoteMemory(ctx, name, targetType))
}

// RetrieveForContext performs token-budgeted retrieval over the graph.
func (c *Client) RetrieveForContext(ctx context.Context, opts *contextwindow.RetrieveOptions) (*contextwindow.ContextPackage, error) {
	pkg, err := c.window.RetrieveForContext(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("RetrieveForContext", err)
	}
	return pkg, nil
}

// RetrieveWithBudgetAllocation retrieves with the budget split across
// working, episodic, and semantic pools.
func (c *Client) RetrieveWithBudgetAllocation(ctx context.Context, opts *contextwindow.AllocationOptions) (*contextwindow.ContextPackage, error) {
	pkg, err := c.window.RetrieveWithBudgetAllocation(ctx, opts)
	if err != nil {
		return nil, NewMemoryError("RetrieveWithBudgetAllocation", err)
	}
	return pkg, nil
}

// TouchRecord records an access to a memory: bumps the access count,
// stamps the access time, and reclassifies the access pattern.
func (c *Client) TouchRecord(ctx context.Context, name string) error {
	rec, err := c.store.GetByName(ctx, name)
	if err != nil {
		return NewMemoryError("TouchRecord", err)
	}

	count := rec.AccessCount + 1
	now := time.Now()
	pattern := graph.AccessRare
	switch {
	case count >= frequentAccessCount:
		pattern = graph.AccessFrequent
	case count >= occasionalAccessCount:
		pattern = graph.AccessOccasional
	}

	partial := &storage.Partial{
		AccessCount:    &count,
		LastAccessedAt: &now,
		AccessPattern:  &pattern,
	}
	return NewMemoryError("TouchRecord", c.store.Update(ctx, name, partial))
}

// AddTags merges the given tags into a record's tag set, skipping
// duplicates.
func (c *Client) AddTags(ctx context.Context, name string, tags []string) error {
	rec, err := c.store.GetByName(ctx, name)
	if err != nil {
		return NewMemoryError("AddTags", err)
	}

	merged := append([]string(nil), rec.Tags...)
	for _, tag := range tags {
		if tag != "" && !rec.HasTag(tag) {
			merged = append(merged, tag)
			rec.Tags = merged
		}
	}
	partial := &storage.Partial{Tags: &merged}
	return NewMemoryError("AddTags", c.store.Update(ctx, name, partial))
}
