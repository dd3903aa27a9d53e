package decay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielsimonjr/memgraph-go/pkg/decay"
	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/memstore"
)

func TestEffectiveImportanceDecaysMonotonically(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 72})

	created := time.Now()
	rec := &graph.MemoryRecord{Name: "wm_1", Importance: 8.0, CreatedAt: created}

	prev := engine.EffectiveImportance(rec, created)
	assert.Equal(t, 8.0, prev, "no decay at creation time")

	for _, hours := range []float64{1, 24, 72, 168, 720} {
		eff := engine.EffectiveImportance(rec, created.Add(time.Duration(hours*float64(time.Hour))))
		assert.LessOrEqual(t, eff, prev, "importance must not rise over time")
		prev = eff
	}
}

func TestEffectiveImportanceHalfLife(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 72})

	created := time.Now()
	rec := &graph.MemoryRecord{Name: "wm_1", Importance: 8.0, CreatedAt: created}

	eff := engine.EffectiveImportance(rec, created.Add(72*time.Hour))
	assert.InDelta(t, 4.0, eff, 0.01, "importance halves after one half-life")
}

func TestEffectiveImportanceFloor(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 1, MinImportance: 0.1})

	created := time.Now()
	rec := &graph.MemoryRecord{Name: "wm_1", Importance: 5.0, CreatedAt: created}

	eff := engine.EffectiveImportance(rec, created.Add(1000*time.Hour))
	assert.Equal(t, 0.1, eff, "decay never pushes below the floor")
}

func TestConfirmationsSlowDecay(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 72})

	created := time.Now()
	at := created.Add(72 * time.Hour)

	plain := &graph.MemoryRecord{Name: "a", Importance: 8.0, CreatedAt: created}
	confirmed := &graph.MemoryRecord{Name: "b", Importance: 8.0, CreatedAt: created, ConfirmationCount: 4}

	assert.Greater(t,
		engine.EffectiveImportance(confirmed, at),
		engine.EffectiveImportance(plain, at),
		"confirmed memories decay slower")
}

func TestDecayRateSpeedsDecay(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 72})

	created := time.Now()
	at := created.Add(24 * time.Hour)

	baseline := &graph.MemoryRecord{Name: "a", Importance: 8.0, CreatedAt: created}
	fast := &graph.MemoryRecord{Name: "b", Importance: 8.0, CreatedAt: created, DecayRate: 3.0}

	assert.Less(t,
		engine.EffectiveImportance(fast, at),
		engine.EffectiveImportance(baseline, at))
}

func TestReinforceSaturates(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	engine := decay.NewEngine(store, decay.Config{ReinforcementFactor: 0.3})

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:       "wm_1",
		Confidence: 0.5,
		CreatedAt:  time.Now(),
	}))

	prev := 0.5
	for i := 0; i < 10; i++ {
		require.NoError(t, engine.Reinforce(ctx, "wm_1"))
		rec, err := store.GetByName(ctx, "wm_1")
		require.NoError(t, err)
		assert.Greater(t, rec.Confidence, prev, "each confirmation raises confidence")
		assert.LessOrEqual(t, rec.Confidence, 1.0, "confidence never exceeds 1")
		prev = rec.Confidence
	}

	rec, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.ConfirmationCount)
	assert.NotNil(t, rec.LastAccessedAt, "reinforcement resets the decay clock")
}

func TestReinforceUnknownName(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{})
	err := engine.Reinforce(context.Background(), "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestEffectiveImportanceAccessBonusCapped(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{HalfLifeHours: 72})

	now := time.Now()
	recent := now.Add(-time.Minute)
	rec := &graph.MemoryRecord{
		Name:           "wm_1",
		Importance:     5.0,
		AccessCount:    10,
		CreatedAt:      now.Add(-time.Hour),
		LastAccessedAt: &recent,
	}

	eff := engine.EffectiveImportance(rec, now)
	assert.LessOrEqual(t, eff, 5.0, "retention bonus must not raise importance above its stored value")
}

func TestDecayAllRepeatedPassesNeverInflate(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	now := time.Now()
	recent := now.Add(-time.Minute)
	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:           "wm_1",
		Importance:     5.0,
		AccessCount:    10,
		CreatedAt:      now.Add(-time.Hour),
		LastAccessedAt: &recent,
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72},
		decay.WithClock(func() time.Time { return now }))

	prev := 5.0
	for i := 0; i < 5; i++ {
		result, err := engine.DecayAll(ctx, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.AverageDecay, 0.0)

		rec, err := store.GetByName(ctx, "wm_1")
		require.NoError(t, err)
		assert.LessOrEqual(t, rec.Importance, prev, "repeated passes must not compound importance upward")
		assert.LessOrEqual(t, rec.Importance, 5.0)
		prev = rec.Importance
	}
}

func TestDecayAllProcessingTimeUsesWallClock(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	fixed := time.Now().Add(-10000 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "wm_1", Importance: 8.0, CreatedAt: fixed.Add(-100 * time.Hour),
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72},
		decay.WithClock(func() time.Time { return fixed }))

	result, err := engine.DecayAll(ctx, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.ProcessingTimeMs, int64(0))
	assert.Less(t, result.ProcessingTimeMs, int64(60000), "elapsed time reflects the run, not the injected clock")
}

func TestDecayAllSkipsSessions(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	old := time.Now().Add(-500 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "wm_1", Importance: 8.0, CreatedAt: old,
	}))
	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name:        "session_1",
		EntityType:  graph.EntityTypeSession,
		Importance:  5.0,
		CreatedAt:   old,
		SessionMeta: &graph.SessionMeta{StartedAt: old, Status: graph.SessionActive},
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72})
	result, err := engine.DecayAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesProcessed, "session records are never decayed")

	sess, err := store.GetByName(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, sess.Importance)
}

func TestDecayAllDryRunDoesNotPersist(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	old := time.Now().Add(-200 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "wm_1", Importance: 8.0, CreatedAt: old,
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72})
	result, err := engine.DecayAll(ctx, &decay.DecayOptions{DryRun: true})
	require.NoError(t, err)
	assert.Greater(t, result.AverageDecay, 0.0)

	rec, err := store.GetByName(ctx, "wm_1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, rec.Importance, "dry run leaves the store untouched")
}

func TestForgetRequiresThreshold(t *testing.T) {
	engine := decay.NewEngine(memstore.New(), decay.Config{})

	_, err := engine.Forget(context.Background(), nil)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)

	_, err = engine.Forget(context.Background(), &decay.ForgetOptions{})
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestForgetProtectsTaggedRecords(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	old := time.Now().Add(-2000 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "stale", Importance: 2.0, CreatedAt: old,
	}))
	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "pinned", Importance: 2.0, CreatedAt: old, Tags: []string{"keep"},
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72})
	result, err := engine.Forget(ctx, &decay.ForgetOptions{
		EffectiveImportanceThreshold: 0.5,
		ExcludeTags:                  []string{"keep"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MemoriesForgotten)
	assert.Equal(t, []string{"stale"}, result.ForgottenNames)
	assert.Equal(t, 1, result.MemoriesProtected)

	_, err = store.GetByName(ctx, "stale")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = store.GetByName(ctx, "pinned")
	assert.NoError(t, err)
}

func TestForgetDryRun(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	old := time.Now().Add(-2000 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "stale", Importance: 2.0, CreatedAt: old,
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72})
	result, err := engine.Forget(ctx, &decay.ForgetOptions{
		EffectiveImportanceThreshold: 0.5,
		DryRun:                       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MemoriesForgotten)
	assert.True(t, result.DryRun)

	_, err = store.GetByName(ctx, "stale")
	assert.NoError(t, err, "dry run deletes nothing")
}

func TestForgetSparesYoungRecords(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	// Old enough to decay below threshold, but protected by age gate.
	created := time.Now().Add(-100 * time.Hour)
	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "young", Importance: 1.0, CreatedAt: created,
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 10})
	result, err := engine.Forget(ctx, &decay.ForgetOptions{
		EffectiveImportanceThreshold: 0.5,
		OlderThanHours:               500,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.MemoriesForgotten)
	assert.Equal(t, 1, result.MemoriesTooYoung)
}

type captureArchiver struct {
	archived []*graph.MemoryRecord
}

func (a *captureArchiver) Archive(ctx context.Context, records []*graph.MemoryRecord) error {
	a.archived = append(a.archived, records...)
	return nil
}

func TestForgetArchives(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	archiver := &captureArchiver{}
	old := time.Now().Add(-2000 * time.Hour)

	require.NoError(t, store.Append(ctx, &graph.MemoryRecord{
		Name: "stale", Importance: 2.0, CreatedAt: old,
	}))

	engine := decay.NewEngine(store, decay.Config{HalfLifeHours: 72}, decay.WithArchiver(archiver))
	_, err := engine.Forget(ctx, &decay.ForgetOptions{
		EffectiveImportanceThreshold: 0.5,
		Archive:                      true,
	})
	require.NoError(t, err)
	require.Len(t, archiver.archived, 1)
	assert.Equal(t, "stale", archiver.archived[0].Name)
}
