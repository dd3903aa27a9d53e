package salience_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/salience"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScoreIsClamped(t *testing.T) {
	now := time.Now()
	engine := salience.NewEngine(salience.Weights{}, salience.WithClock(fixedClock(now)))

	rec := &graph.MemoryRecord{
		Name:        "wm_1",
		Importance:  10,
		AccessCount: 100,
		CreatedAt:   now,
	}
	score, comps := engine.Score(rec, nil)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	assert.Equal(t, 1.0, comps.BaseImportance)
	assert.Equal(t, 1.0, comps.FrequencyBoost, "frequency saturates at 1")
}

func TestScoreNilContextIsSafe(t *testing.T) {
	engine := salience.NewEngine(salience.Weights{})
	score, comps := engine.Score(&graph.MemoryRecord{Name: "wm_1"}, nil)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.Equal(t, 0.0, comps.ContextRelevance)
}

func TestRecencyOrdering(t *testing.T) {
	now := time.Now()
	engine := salience.NewEngine(salience.Weights{Recency: 1}, salience.WithClock(fixedClock(now)))

	recent := now.Add(-1 * time.Hour)
	stale := now.Add(-72 * time.Hour)
	fresh := &graph.MemoryRecord{Name: "fresh", LastAccessedAt: &recent, CreatedAt: stale}
	old := &graph.MemoryRecord{Name: "old", LastAccessedAt: &stale, CreatedAt: stale}

	freshScore, _ := engine.Score(fresh, nil)
	oldScore, _ := engine.Score(old, nil)
	assert.Greater(t, freshScore, oldScore)
}

func TestContextRelevanceSessionMatch(t *testing.T) {
	engine := salience.NewEngine(salience.Weights{Context: 1})

	inSession := &graph.MemoryRecord{Name: "a", SessionID: "s1", CreatedAt: time.Now()}
	outOfSession := &graph.MemoryRecord{Name: "b", SessionID: "s2", CreatedAt: time.Now()}
	sctx := &salience.Context{CurrentSessionID: "s1"}

	inScore, _ := engine.Score(inSession, sctx)
	outScore, _ := engine.Score(outOfSession, sctx)
	assert.Greater(t, inScore, outScore)
}

func TestNoveltyZeroForRecentlyAccessed(t *testing.T) {
	engine := salience.NewEngine(salience.Weights{Novelty: 1})

	rec := &graph.MemoryRecord{Name: "wm_1", CreatedAt: time.Now()}
	sctx := &salience.Context{RecentlyAccessed: []string{"wm_1"}}

	_, comps := engine.Score(rec, sctx)
	assert.Equal(t, 0.0, comps.NoveltyBoost)

	_, comps = engine.Score(rec, nil)
	assert.Equal(t, 1.0, comps.NoveltyBoost, "never-accessed records are maximally novel")
}

func TestRankSortsDescendingWithoutMutating(t *testing.T) {
	now := time.Now()
	engine := salience.NewEngine(salience.Weights{}, salience.WithClock(fixedClock(now)))

	records := []*graph.MemoryRecord{
		{Name: "low", Importance: 1, CreatedAt: now},
		{Name: "high", Importance: 9, CreatedAt: now},
		{Name: "mid", Importance: 5, CreatedAt: now},
	}
	orderBefore := []string{records[0].Name, records[1].Name, records[2].Name}

	scored := engine.Rank(records, nil)
	require.Len(t, scored, 3)
	assert.Equal(t, "high", scored[0].Record.Name)
	assert.Equal(t, "mid", scored[1].Record.Name)
	assert.Equal(t, "low", scored[2].Record.Name)

	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].Score, scored[i].Score)
	}

	orderAfter := []string{records[0].Name, records[1].Name, records[2].Name}
	assert.Equal(t, orderBefore, orderAfter, "input slice must not be reordered")
}

func TestSimilaritySymmetric(t *testing.T) {
	engine := salience.NewEngine(salience.Weights{})

	a := &graph.MemoryRecord{
		Name:         "wm_1",
		EntityType:   "preference",
		Observations: []string{"User prefers Italian food"},
		Tags:         []string{"food"},
	}
	b := &graph.MemoryRecord{
		Name:         "wm_2",
		EntityType:   "preference",
		Observations: []string{"User prefers Mexican food"},
		Tags:         []string{"food"},
	}

	assert.Equal(t, engine.Similarity(a, b), engine.Similarity(b, a))
	assert.Greater(t, engine.Similarity(a, b), 0.5, "near-duplicates should score high")
	assert.Equal(t, 1.0, engine.Similarity(a, a))
	assert.Equal(t, 0.0, engine.Similarity(a, nil))
}
