package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/memstore"
)

func TestAppendAndGetByName(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	rec := &graph.MemoryRecord{Name: "wm_1", Observations: []string{"hello"}}
	require.NoError(t, store.Append(ctx, rec))

	got, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, "wm_1", got.Name)
	assert.Equal(t, []string{"hello"}, got.Observations)
}

func TestGetByNameNotFound(t *testing.T) {
	store := memstore.New()

	_, err := store.GetByName(context.Background(), "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestAppendDuplicateFails(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{Name: "wm_1"}))
	err := store.Append(ctx, &graph.MemoryRecord{Name: "wm_1"})
	assert.ErrorIs(t, err, graph.ErrInvalidState)
}

func TestUpdateMergesPartial(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{Name: "wm_1", Confidence: 0.5}))

	conf := 0.9
	require.NoError(t, store.Update(ctx, "wm_1", &storage.Partial{Confidence: &conf}))

	got, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestUpdateMissingRecord(t *testing.T) {
	store := memstore.New()
	conf := 0.9
	err := store.Update(context.Background(), "missing", &storage.Partial{Confidence: &conf})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestSaveReplacesGraph(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{Name: "old"}))

	newGraph := &graph.Graph{
		Entities: []*graph.MemoryRecord{{Name: "new"}},
	}
	require.NoError(t, store.Save(ctx, newGraph))

	_, err := store.GetByName(ctx, "old")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = store.GetByName(ctx, "new")
	assert.NoError(t, err)
}

func TestReadsAreIsolatedCopies(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:         "wm_1",
		Observations: []string{"original"},
	}))

	// Mutating a loaded snapshot must not leak into the store.
	g, err := store.Load(ctx)
	require.NoError(t, err)
	g.Entities[0].Observations[0] = "mutated"

	got, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Observations[0])

	// Mutating a fetched record must not leak either.
	got.Observations[0] = "mutated again"
	fresh, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Observations[0])
}

func TestAppendRelation(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	rel := &graph.Relation{From: "s1", To: "s1_summary", RelationType: graph.RelationHasSummary}
	require.NoError(t, store.AppendRelation(ctx, rel))

	g, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, g.Relations, 1)
	assert.Equal(t, graph.RelationHasSummary, g.Relations[0].RelationType)
}
