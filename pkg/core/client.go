package core

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/consolidation"
	"github.com/danielsimonjr/memgraph-go/pkg/contextwindow"
	"github.com/danielsimonjr/memgraph-go/pkg/decay"
	"github.com/danielsimonjr/memgraph-go/pkg/llm"
	"github.com/danielsimonjr/memgraph-go/pkg/llm/openai"
	"github.com/danielsimonjr/memgraph-go/pkg/salience"
	"github.com/danielsimonjr/memgraph-go/pkg/session"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/memstore"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/mysql"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/postgres"
	"github.com/danielsimonjr/memgraph-go/pkg/storage/sqlite"
	"github.com/danielsimonjr/memgraph-go/pkg/workingmem"
)

// Client is the top-level entry point. It owns the storage backend, the
// optional LLM provider, and every engine and manager, wired together
// and ready to use.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sess, _ := client.StartSession(ctx, &session.StartOptions{TaskType: "coding"})
//	client.CreateWorkingMemory(ctx, sess.Name, "user prefers tabs", nil)
type Client struct {
	cfg      *Config
	store    storage.Store
	provider llm.Provider
	logger   *zap.Logger

	// ownsStore and ownsProvider track whether Close should release them.
	ownsStore    bool
	ownsProvider bool

	salience *salience.Engine
	decay    *decay.Engine
	working  *workingmem.Manager
	pipeline *consolidation.Pipeline
	sessions *session.Manager
	window   *contextwindow.Manager
}

// NewClient creates a fully wired client from the given configuration.
//
// The consolidation pipeline is pre-registered with a pattern extraction
// stage, and with a summarization stage when an LLM provider is
// configured.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &clientOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(options)
	}

	c := &Client{cfg: cfg, logger: options.logger}

	var err error
	c.store = options.store
	if c.store == nil {
		c.store, err = newStore(&cfg.Storage)
		if err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
		c.ownsStore = true
	}

	c.provider = options.provider
	if c.provider == nil && cfg.LLM.Provider == "openai" {
		c.provider, err = openai.NewClient(&openai.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			if c.ownsStore {
				_ = c.store.Close()
			}
			return nil, NewMemoryError("NewClient", err)
		}
		c.ownsProvider = true
	}

	c.salience = salience.NewEngine(cfg.Salience)
	c.decay = decay.NewEngine(c.store, cfg.Decay, decay.WithLogger(c.logger))
	wmCfg := cfg.WorkingMemory
	if wmCfg == (workingmem.Config{}) {
		wmCfg = workingmem.DefaultConfig()
	}
	c.working, err = workingmem.NewManager(c.store, wmCfg, workingmem.WithLogger(c.logger))
	if err != nil {
		if c.ownsStore {
			_ = c.store.Close()
		}
		return nil, NewMemoryError("NewClient", err)
	}

	c.pipeline = consolidation.NewPipeline(c.store, c.working, c.decay,
		consolidation.WithLogger(c.logger))
	c.pipeline.RegisterStage("pattern_extraction",
		consolidation.NewPatternExtractionStage(c.store, consolidation.NewPatternDetector(2)))
	if c.provider != nil {
		c.pipeline.RegisterStage("summarization",
			consolidation.NewSummarizationStage(c.store, c.provider))
	}

	sessionOpts := []session.Option{session.WithLogger(c.logger)}
	if c.provider != nil {
		sessionOpts = append(sessionOpts, session.WithSummarizer(c.provider))
	}
	c.sessions = session.NewManager(c.store, c.working, c.pipeline, sessionOpts...)

	windowOpts := []contextwindow.Option{contextwindow.WithLogger(c.logger)}
	estimator := options.estimator
	if estimator == nil && cfg.TokenEstimator == "tiktoken" {
		est, err := contextwindow.NewTiktokenEstimator("cl100k_base")
		if err != nil {
			c.logger.Warn("tiktoken estimator unavailable, using heuristic", zap.Error(err))
		} else {
			estimator = est
		}
	}
	if estimator != nil {
		windowOpts = append(windowOpts, contextwindow.WithEstimator(estimator))
	}
	c.window = contextwindow.NewManager(c.store, c.salience, windowOpts...)

	return c, nil
}

// newStore builds the storage backend named by the configuration.
func newStore(cfg *StorageConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "", "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{DBPath: cfg.SQLitePath})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q: %w", cfg.Provider, ErrInvalidConfig)
	}
}

// Store exposes the storage backend for callers that need direct access.
func (c *Client) Store() storage.Store { return c.store }

// Salience exposes the salience engine.
func (c *Client) Salience() *salience.Engine { return c.salience }

// Decay exposes the decay engine.
func (c *Client) Decay() *decay.Engine { return c.decay }

// WorkingMemory exposes the working memory manager.
func (c *Client) WorkingMemory() *workingmem.Manager { return c.working }

// Consolidation exposes the consolidation pipeline.
func (c *Client) Consolidation() *consolidation.Pipeline { return c.pipeline }

// Sessions exposes the session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// ContextWindow exposes the context window manager.
func (c *Client) ContextWindow() *contextwindow.Manager { return c.window }

// Close releases the storage backend and LLM provider if the client
// created them. Injected collaborators are the caller's to close.
func (c *Client) Close() error {
	var firstErr error
	if c.ownsProvider && c.provider != nil {
		if err := c.provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.ownsStore && c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return NewMemoryError("Close", firstErr)
}
