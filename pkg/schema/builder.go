package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
)

type IndexWriter interface {
	Upsert(ctx context.Context, docs []IndexedDocument) error
}

type BuilderConfig struct {
	Logger      *slog.Logger
	Embedder    Embedder
	Writer      IndexWriter
	BatchSize   int
	Concurrency int

	MaxTries   uint
	NewBackOff func() backoff.BackOff
}

func (cfg *BuilderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.Writer == nil {
		return errors.New("index writer is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return nil
}

// Builder embeds a corpus in batches and writes it to an index.
type Builder struct {
	log *slog.Logger
	cfg BuilderConfig
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate builder config: %w", err)
	}
	return &Builder{log: cfg.Logger, cfg: cfg}, nil
}

// Build embeds every table in the corpus and upserts the results. It returns the number
// of documents written.
func (b *Builder) Build(ctx context.Context, corpus *Corpus) (int, error) {
	start := time.Now()

	pool := pond.NewResultPool[[]IndexedDocument](b.cfg.Concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for i := 0; i < len(corpus.Tables); i += b.cfg.BatchSize {
		end := min(i+b.cfg.BatchSize, len(corpus.Tables))
		batch := corpus.Tables[i:end]
		batchNum := i / b.cfg.BatchSize

		group.SubmitErr(func() ([]IndexedDocument, error) {
			return b.embedBatch(ctx, batchNum, batch)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return 0, fmt.Errorf("failed to embed corpus: %w", err)
	}

	var docs []IndexedDocument
	for _, r := range results {
		docs = append(docs, r...)
	}
	if err := b.cfg.Writer.Upsert(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to write index: %w", err)
	}

	b.log.Info("schema: index built", "tables", len(docs), "duration", time.Since(start))
	return len(docs), nil
}

func (b *Builder) embedBatch(ctx context.Context, batchNum int, batch []TableSpec) ([]IndexedDocument, error) {
	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = t.Render()
	}

	attempt := 0
	vecs, err := backoff.Retry(ctx, func() ([][]float32, error) {
		if attempt > 0 {
			b.log.Warn("schema: embedding batch failed, retrying", "batch", batchNum, "attempt", attempt)
		}
		attempt++
		vecs, err := b.cfg.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)))
		}
		return vecs, nil
	}, backoff.WithBackOff(b.cfg.NewBackOff()), backoff.WithMaxTries(b.cfg.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", batchNum, err)
	}

	docs := make([]IndexedDocument, len(batch))
	for i, t := range batch {
		docs[i] = IndexedDocument{Name: t.Name, Content: texts[i], Embedding: vecs[i]}
	}
	b.log.Debug("schema: embedded batch", "batch", batchNum, "tables", len(batch))
	return docs, nil
}
