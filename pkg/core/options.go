package core

import (
	"go.uber.org/zap"

	"github.com/danielsimonjr/memgraph-go/pkg/contextwindow"
	"github.com/danielsimonjr/memgraph-go/pkg/llm"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// Option configures a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	store     storage.Store
	provider  llm.Provider
	estimator contextwindow.TokenEstimator
	logger    *zap.Logger
}

// WithStore injects a pre-built storage backend, bypassing the provider
// selection in Config.Storage.
func WithStore(s storage.Store) Option {
	return func(o *clientOptions) { o.store = s }
}

// WithLLMProvider injects a pre-built LLM provider, bypassing the
// provider selection in Config.LLM.
func WithLLMProvider(p llm.Provider) Option {
	return func(o *clientOptions) { o.provider = p }
}

// WithTokenEstimator injects a token estimator for context retrieval.
func WithTokenEstimator(est contextwindow.TokenEstimator) Option {
	return func(o *clientOptions) { o.estimator = est }
}

// WithLogger sets the logger shared by all engines and managers.
// Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
