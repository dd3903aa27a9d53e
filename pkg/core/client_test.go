package core_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielsimonjr/memgraph-go/pkg/core"
	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/session"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/memstore"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

func TestMemoryErrorFormat(t *testing.T) {
	err := core.NewMemoryError("CreateWorkingMemory", graph.ErrLimitExceeded)
	require.Error(t, err)
	assert.Equal(t, "memgraph: CreateWorkingMemory: working memory limit exceeded", err.Error())
}

func TestMemoryErrorUnwraps(t *testing.T) {
	err := core.NewMemoryError("GetMemory", graph.ErrNotFound)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	var memErr *core.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "GetMemory", memErr.Op)
}

func TestNewMemoryErrorNilPassthrough(t *testing.T) {
	assert.NoError(t, core.NewMemoryError("Anything", nil))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     core.Config
		wantErr bool
	}{
		{name: "zero config", cfg: core.Config{}},
		{name: "memory provider", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "memory"},
		}},
		{name: "sqlite with path", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "sqlite", SQLitePath: "./test.db"},
		}},
		{name: "sqlite missing path", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "sqlite"},
		}, wantErr: true},
		{name: "postgres complete", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "postgres", Host: "localhost", DBName: "mem"},
		}},
		{name: "postgres missing host", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "postgres", DBName: "mem"},
		}, wantErr: true},
		{name: "mysql missing dbname", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "mysql", Host: "localhost"},
		}, wantErr: true},
		{name: "unknown provider", cfg: core.Config{
			Storage: core.StorageConfig{Provider: "redis"},
		}, wantErr: true},
		{name: "openai with key", cfg: core.Config{
			LLM: core.LLMConfig{Provider: "openai", APIKey: "sk-test"},
		}},
		{name: "openai without key", cfg: core.Config{
			LLM: core.LLMConfig{Provider: "openai"},
		}, wantErr: true},
		{name: "unknown llm provider", cfg: core.Config{
			LLM: core.LLMConfig{Provider: "anthropic"},
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"provider": "sqlite", "sqlite_path": "/tmp/mem.db"},
		"llm": {"provider": "openai", "api_key": "sk-test", "model": "gpt-4o-mini"},
		"token_estimator": "tiktoken"
	}`), 0o644))

	cfg, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Provider)
	assert.Equal(t, "/tmp/mem.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "tiktoken", cfg.TokenEstimator)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromJSONMissingFile(t *testing.T) {
	_, err := core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)

	var memErr *core.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "LoadConfigFromJSON", memErr.Op)
}

func TestLoadConfigFromJSONInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := core.LoadConfigFromJSON(path)
	assert.Error(t, err)
}

func newClient(t *testing.T) *core.Client {
	t.Helper()
	client, err := core.NewClient(&core.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := core.NewClient(&core.Config{
		Storage: core.StorageConfig{Provider: "redis"},
	})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewClientWiresManagers(t *testing.T) {
	client := newClient(t)
	assert.NotNil(t, client.Store())
	assert.NotNil(t, client.Salience())
	assert.NotNil(t, client.Decay())
	assert.NotNil(t, client.WorkingMemory())
	assert.NotNil(t, client.Consolidation())
	assert.NotNil(t, client.Sessions())
	assert.NotNil(t, client.ContextWindow())
}

func TestClientSessionLifecycle(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	sess, err := client.StartSession(ctx, &session.StartOptions{
		SessionID: "s1",
		TaskType:  "coding",
	})
	require.NoError(t, err)

	rec, err := client.CreateWorkingMemory(ctx, sess.Name, "user prefers tabs over spaces", nil)
	require.NoError(t, err)
	require.NoError(t, client.MarkForPromotion(ctx, rec.Name))

	memories, err := client.SessionMemories(ctx, sess.Name, nil)
	require.NoError(t, err)
	assert.Len(t, memories, 1)

	result, err := client.EndSession(ctx, sess.Name, &session.EndOptions{
		PromoteOnEnd: true,
		CleanupOnEnd: true,
	})
	require.NoError(t, err)
	assert.Equal(t, graph.SessionCompleted, result.Status)
	assert.Equal(t, 1, result.MemoriesPromoted)

	history, err := client.SessionHistory(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestClientErrorsCarrySentinels(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	_, err := client.GetMemory(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)

	var memErr *core.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "GetMemory", memErr.Op)

	_, err = client.CreateWorkingMemory(ctx, "", "", nil)
	assert.ErrorIs(t, err, graph.ErrInvalidArgument)
}

func TestTouchRecordClassifiesAccessPattern(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	_, err := client.StartSession(ctx, &session.StartOptions{SessionID: "s1"})
	require.NoError(t, err)
	rec, err := client.CreateWorkingMemory(ctx, "s1", "build passes on go 1.21", nil)
	require.NoError(t, err)

	touch := func(times int) *graph.MemoryRecord {
		for i := 0; i < times; i++ {
			require.NoError(t, client.TouchRecord(ctx, rec.Name))
		}
		got, err := client.GetMemory(ctx, rec.Name)
		require.NoError(t, err)
		return got
	}

	got := touch(1)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, graph.AccessRare, got.AccessPattern)
	assert.NotNil(t, got.LastAccessedAt)

	got = touch(2)
	assert.Equal(t, 3, got.AccessCount)
	assert.Equal(t, graph.AccessOccasional, got.AccessPattern)

	got = touch(7)
	assert.Equal(t, 10, got.AccessCount)
	assert.Equal(t, graph.AccessFrequent, got.AccessPattern)
}

func TestAddTagsMergesWithoutDuplicates(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	_, err := client.StartSession(ctx, &session.StartOptions{SessionID: "s1"})
	require.NoError(t, err)
	rec, err := client.CreateWorkingMemory(ctx, "s1", "deploy friday",
		&workingmem.CreateOptions{Tags: []string{"ops"}})
	require.NoError(t, err)

	require.NoError(t, client.AddTags(ctx, rec.Name, []string{"ops", "release", "release", ""}))

	got, err := client.GetMemory(ctx, rec.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops", "release"}, got.Tags)
}

func TestClientRetrieveForContext(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	_, err := client.StartSession(ctx, &session.StartOptions{SessionID: "s1"})
	require.NoError(t, err)
	_, err = client.CreateWorkingMemory(ctx, "s1", "user timezone is UTC+2", nil)
	require.NoError(t, err)

	pkg, err := client.RetrieveForContext(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, pkg.Memories, 1, "session records excluded, working memory included")
	assert.Greater(t, pkg.TotalTokens, 0)
}

func TestClientDecayRoundTrip(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	_, err := client.StartSession(ctx, &session.StartOptions{SessionID: "s1"})
	require.NoError(t, err)
	rec, err := client.CreateWorkingMemory(ctx, "s1", "flaky test in storage layer", nil)
	require.NoError(t, err)

	require.NoError(t, client.Reinforce(ctx, rec.Name))
	got, err := client.GetMemory(ctx, rec.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConfirmationCount)
	assert.Greater(t, got.Confidence, rec.Confidence)

	res, err := client.DecayAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EntitiesProcessed)
}

func TestClientCloseWithInjectedStore(t *testing.T) {
	// An injected store is the caller's to close; Close must not touch it.
	store := &closeTrackingStore{Store: memstore.New()}
	client, err := core.NewClient(&core.Config{}, core.WithStore(store))
	require.NoError(t, err)

	require.NoError(t, client.Close())
	assert.False(t, store.closed, "injected store must survive client close")
}

type closeTrackingStore struct {
	*memstore.Store
	closed bool
}

func (s *closeTrackingStore) Close() error {
	s.closed = true
	return nil
}

func TestUnwrapThroughErrorsJoin(t *testing.T) {
	wrapped := core.NewMemoryError("Outer", core.NewMemoryError("Inner", graph.ErrInvalidState))
	assert.True(t, errors.Is(wrapped, graph.ErrInvalidState))
}
