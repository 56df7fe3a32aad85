// Package bootstrap assembles the pipeline and its collaborators for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/malbeclabs/chembl-sql/pkg/session"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

const defaultSessionCapacity = 10_000

type Options struct {
	SQLitePath string
	IndexPath  string

	AnthropicAPIKey string
	AnthropicModel  string
	OllamaURL       string
	OllamaModel     string

	GeminiAPIKey   string
	EmbeddingModel string

	Timeout    time.Duration
	TopK       int
	SessionTTL time.Duration
}

func (o *Options) Validate() error {
	if o.SQLitePath == "" {
		o.SQLitePath = sqlexec.DefaultPath
	}
	if o.IndexPath == "" {
		o.IndexPath = schema.DefaultIndexPath
	}
	if o.AnthropicModel == "" {
		o.AnthropicModel = llm.DefaultAnthropicModel
	}
	if o.EmbeddingModel == "" {
		o.EmbeddingModel = schema.DefaultEmbeddingModel
	}
	if o.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is required for schema retrieval")
	}
	if o.OllamaURL != "" && o.OllamaModel == "" {
		return errors.New("ollama model is required when an ollama url is set")
	}
	return nil
}

// App holds the wired components. Close releases the index and stops session expiry.
type App struct {
	Pipeline *pipeline.Pipeline
	Registry *llm.Registry
	Executor *sqlexec.Executor

	closers []func() error
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func New(ctx context.Context, log *slog.Logger, opts Options) (*App, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate options: %w", err)
	}
	app := &App{}

	registry, err := newRegistry(ctx, log, opts)
	if err != nil {
		return nil, err
	}
	app.Registry = registry

	executor, err := sqlexec.New(sqlexec.Config{
		Logger: log,
		Opener: &sqlexec.SQLiteOpener{Path: opts.SQLitePath},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	app.Executor = executor

	embedder, err := schema.NewGenAIEmbedder(ctx, opts.GeminiAPIKey, opts.EmbeddingModel, schema.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedder: %w", err)
	}
	index, err := schema.OpenIndex(ctx, schema.IndexConfig{
		Logger:   log,
		Path:     opts.IndexPath,
		Embedder: embedder,
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open schema index: %w", err)
	}
	app.closers = append(app.closers, index.Close)

	retriever, err := schema.NewRetriever(log, index)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to create retriever: %w", err)
	}

	var sessions session.Store[pipeline.State]
	if opts.SessionTTL > 0 {
		ttl := session.NewTTLStore[pipeline.State](opts.SessionTTL, defaultSessionCapacity)
		go ttl.Start()
		app.closers = append(app.closers, func() error { ttl.Stop(); return nil })
		sessions = ttl
		log.Info("bootstrap: sessions expire", "ttl", opts.SessionTTL)
	} else {
		sessions = session.NewMemoryStore[pipeline.State]()
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:    log,
		LLM:       registry,
		Retriever: retriever,
		Executor:  executor,
		Sessions:  sessions,
		Timeout:   opts.Timeout,
		TopK:      opts.TopK,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	app.Pipeline = p
	return app, nil
}

// newRegistry prefers Anthropic. With only an Ollama endpoint the registry is static;
// with neither, callers must supply a credential per request.
func newRegistry(ctx context.Context, log *slog.Logger, opts Options) (*llm.Registry, error) {
	if opts.AnthropicAPIKey == "" && opts.OllamaURL != "" {
		log.Info("bootstrap: using local ollama model", "url", opts.OllamaURL, "model", opts.OllamaModel)
		return llm.NewStaticRegistry(log, llm.NewOllamaClient(llm.OllamaConfig{
			Logger:  log,
			BaseURL: opts.OllamaURL,
			Model:   opts.OllamaModel,
		})), nil
	}

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Logger: log,
		Factory: func(apiKey string) (llm.Client, error) {
			return llm.NewAnthropicClient(llm.AnthropicConfig{
				Logger: log,
				APIKey: apiKey,
				Model:  opts.AnthropicModel,
			}), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client registry: %w", err)
	}
	if opts.AnthropicAPIKey == "" {
		log.Warn("bootstrap: no model credential configured, requests must supply api_key")
		return registry, nil
	}
	if err := registry.Activate(ctx, opts.AnthropicAPIKey); err != nil {
		return nil, fmt.Errorf("failed to activate anthropic credential: %w", err)
	}
	return registry, nil
}
