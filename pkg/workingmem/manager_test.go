package workingmem_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/memstore"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

func newManager(t *testing.T, cfg workingmem.Config) (*workingmem.Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	m, err := workingmem.NewManager(store, cfg)
	require.NoError(t, err)
	return m, store
}

func TestCreateDefaults(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "s1", "user prefers tabs", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rec.Name, "wm_"))
	assert.Equal(t, graph.MemoryTypeWorking, rec.MemoryType)
	assert.True(t, rec.IsWorkingMemory)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "note", rec.EntityType)
	assert.Equal(t, 5.0, rec.Importance)
	assert.Equal(t, 0.5, rec.Confidence)
	require.NotNil(t, rec.ExpiresAt)
	assert.InDelta(t, 24*time.Hour, time.Until(*rec.ExpiresAt), float64(time.Minute))
}

func TestCreateRequiresSessionAndContent(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	ctx := context.Background()

	_, err := m.Create(ctx, "", "content", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	_, err = m.Create(ctx, "s1", "", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestCreateEnforcesSessionLimit(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{MaxPerSession: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, "s1", "fact", nil)
		require.NoError(t, err)
	}

	_, err := m.Create(ctx, "s1", "one too many", nil)
	assert.ErrorIs(t, err, graph.ErrLimitExceeded)
	assert.Contains(t, err.Error(), "s1", "error names the session")

	// Other sessions are unaffected.
	_, err = m.Create(ctx, "s2", "fact", nil)
	assert.NoError(t, err)
}

func TestCreateCountsMemoriesOnSession(t *testing.T) {
	m, store := newManager(t, workingmem.Config{})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:        "s1",
		EntityType:  graph.EntityTypeSession,
		CreatedAt:   time.Now(),
		SessionMeta: &graph.SessionMeta{StartedAt: time.Now(), Status: graph.SessionActive},
	}))

	_, err := m.Create(ctx, "s1", "first", nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, "s1", "second", nil)
	require.NoError(t, err)

	sess, err := store.GetByName(ctx, "s1")
	require.NoError(t, err)
	meta, ok := sess.Session()
	require.True(t, ok)
	assert.Equal(t, 2, meta.MemoryCount, "the session tracks how many working memories it received")
}

func TestCreateWithoutSessionRecord(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})

	// A bare session id with no session record behind it is fine.
	_, err := m.Create(context.Background(), "orphan", "fact", nil)
	assert.NoError(t, err)
}

func TestReleaseSlotFreesCapacity(t *testing.T) {
	m, store := newManager(t, workingmem.Config{MaxPerSession: 1})
	ctx := context.Background()

	rec, err := m.Create(ctx, "s1", "fact", nil)
	require.NoError(t, err)

	_, err = m.Create(ctx, "s1", "blocked", nil)
	assert.ErrorIs(t, err, graph.ErrLimitExceeded)

	// Simulate the record leaving working memory by promotion.
	episodic := graph.MemoryTypeEpisodic
	isWorking := false
	require.NoError(t, store.Update(ctx, rec.Name, &storage.Partial{
		MemoryType:      &episodic,
		IsWorkingMemory: &isWorking,
	}))
	m.ReleaseSlot("s1")

	_, err = m.Create(ctx, "s1", "fits now", nil)
	assert.NoError(t, err)
}

func TestSessionMemoriesFilters(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	ctx := context.Background()

	_, err := m.Create(ctx, "s1", "low", &workingmem.CreateOptions{Importance: 2})
	require.NoError(t, err)
	_, err = m.Create(ctx, "s1", "high", &workingmem.CreateOptions{Importance: 8, TaskID: "t1"})
	require.NoError(t, err)
	_, err = m.Create(ctx, "s2", "other session", nil)
	require.NoError(t, err)

	all, err := m.SessionMemories(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	min := 5.0
	important, err := m.SessionMemories(ctx, "s1", &workingmem.Filter{MinImportance: &min})
	require.NoError(t, err)
	require.Len(t, important, 1)
	assert.Equal(t, "high", important[0].Observations[0])

	byTask, err := m.SessionMemories(ctx, "s1", &workingmem.Filter{TaskID: "t1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 1)
}

func TestExpiredMemoriesVisibleUntilCleared(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	ctx := context.Background()

	_, err := m.Create(ctx, "s1", "short lived", &workingmem.CreateOptions{TTL: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	// Lazy expiry: the record remains visible until filtered or swept.
	all, err := m.SessionMemories(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	live, err := m.SessionMemories(ctx, "s1", &workingmem.Filter{ExcludeExpired: true})
	require.NoError(t, err)
	assert.Empty(t, live)

	removed, err := m.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err = m.SessionMemories(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClearExpiredIdempotent(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	ctx := context.Background()

	_, err := m.Create(ctx, "s1", "short lived", &workingmem.CreateOptions{TTL: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	removed, err := m.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = m.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "repeat sweep removes nothing")
}

func TestClearExpiredFreesCapacity(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{MaxPerSession: 1})
	ctx := context.Background()

	_, err := m.Create(ctx, "s1", "short lived", &workingmem.CreateOptions{TTL: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = m.Create(ctx, "s1", "blocked", nil)
	assert.ErrorIs(t, err, graph.ErrLimitExceeded)

	_, err = m.ClearExpired(ctx)
	require.NoError(t, err)

	_, err = m.Create(ctx, "s1", "fits now", nil)
	assert.NoError(t, err)
}

func TestExtendTTLValidatesBeforeMutating(t *testing.T) {
	m, store := newManager(t, workingmem.Config{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "s1", "fact", nil)
	require.NoError(t, err)
	originalExpiry := *rec.ExpiresAt

	err = m.ExtendTTL(ctx, []string{rec.Name, "missing"}, 12)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	// The valid record must be untouched after the failed batch.
	got, err := store.GetByName(ctx, rec.Name)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(originalExpiry))
}

func TestExtendTTLPositiveHoursRequired(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{})
	err := m.ExtendTTL(context.Background(), []string{"wm_1"}, 0)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestExtendTTLFromExpiryOrNow(t *testing.T) {
	m, store := newManager(t, workingmem.Config{})
	ctx := context.Background()

	live, err := m.Create(ctx, "s1", "live", &workingmem.CreateOptions{TTL: 10 * time.Hour})
	require.NoError(t, err)
	expired, err := m.Create(ctx, "s1", "expired", &workingmem.CreateOptions{TTL: time.Nanosecond})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	require.NoError(t, m.ExtendTTL(ctx, []string{live.Name, expired.Name}, 5))

	gotLive, err := store.GetByName(ctx, live.Name)
	require.NoError(t, err)
	assert.True(t, gotLive.ExpiresAt.Equal(live.ExpiresAt.Add(5*time.Hour)),
		"live records extend from their current expiry")

	gotExpired, err := store.GetByName(ctx, expired.Name)
	require.NoError(t, err)
	assert.True(t, gotExpired.ExpiresAt.After(time.Now().Add(4*time.Hour)),
		"expired records extend from now, not the stale expiry")
}

func TestExtendTTLRejectsPromotedMemory(t *testing.T) {
	m, store := newManager(t, workingmem.Config{})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:       "promoted",
		MemoryType: graph.MemoryTypeEpisodic,
		CreatedAt:  time.Now(),
	}))

	err := m.ExtendTTL(ctx, []string{"promoted"}, 5)
	assert.ErrorIs(t, err, graph.ErrInvalidState)
}

func TestMarkForPromotion(t *testing.T) {
	m, store := newManager(t, workingmem.Config{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "s1", "fact", nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkForPromotion(ctx, rec.Name))

	got, err := store.GetByName(ctx, rec.Name)
	require.NoError(t, err)
	assert.True(t, got.MarkedForPromotion)

	assert.ErrorIs(t, m.MarkForPromotion(ctx, "missing"), graph.ErrNotFound)
}

func TestPromotionCandidates(t *testing.T) {
	m, store := newManager(t, workingmem.Config{
		AutoPromote:             true,
		PromoteMinConfidence:    0.7,
		PromoteMinConfirmations: 2,
	})
	ctx := context.Background()

	marked, err := m.Create(ctx, "s1", "explicitly marked", nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkForPromotion(ctx, marked.Name))

	qualified, err := m.Create(ctx, "s1", "meets thresholds", &workingmem.CreateOptions{Confidence: 0.9})
	require.NoError(t, err)
	confirmations := 3
	require.NoError(t, store.Update(ctx, qualified.Name,
		&storage.Partial{ConfirmationCount: &confirmations}))

	_, err = m.Create(ctx, "s1", "not eligible", nil)
	require.NoError(t, err)

	candidates, err := m.PromotionCandidates(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	names := map[string]bool{}
	for _, c := range candidates {
		names[c.Name] = true
	}
	assert.True(t, names[marked.Name])
	assert.True(t, names[qualified.Name])
}

func TestEligible(t *testing.T) {
	m, _ := newManager(t, workingmem.Config{
		AutoPromote:             true,
		PromoteMinConfidence:    0.7,
		PromoteMinConfirmations: 2,
	})

	assert.True(t, m.Eligible(&graph.MemoryRecord{
		MemoryType:         graph.MemoryTypeWorking,
		MarkedForPromotion: true,
	}, nil))

	assert.True(t, m.Eligible(&graph.MemoryRecord{
		MemoryType:        graph.MemoryTypeWorking,
		Confidence:        0.8,
		ConfirmationCount: 2,
	}, nil))

	assert.False(t, m.Eligible(&graph.MemoryRecord{
		MemoryType:        graph.MemoryTypeWorking,
		Confidence:        0.8,
		ConfirmationCount: 1,
	}, nil), "confirmations below threshold")

	assert.False(t, m.Eligible(&graph.MemoryRecord{
		MemoryType:         graph.MemoryTypeEpisodic,
		MarkedForPromotion: true,
	}, nil), "promoted records are never eligible again")
}
