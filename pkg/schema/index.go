package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

const (
	DefaultIndexPathEnv = "CHEMBL_INDEX_PATH"
	DefaultIndexPath    = "data/schema_index.sqlite"

	defaultEmbedMaxTries = 3
)

type IndexConfig struct {
	Logger   *slog.Logger
	Path     string
	Embedder Embedder

	// ReadOnly opens an existing index without creating the schema.
	ReadOnly bool

	EmbedMaxTries uint
	NewBackOff    func() backoff.BackOff
}

func (cfg *IndexConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("index path is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.EmbedMaxTries == 0 {
		cfg.EmbedMaxTries = defaultEmbedMaxTries
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}
	return nil
}

// IndexedDocument is a schema description with its embedding, ready to be stored.
type IndexedDocument struct {
	Name      string
	Content   string
	Embedding []float32
}

// Index is an embedding index of schema descriptions stored in SQLite. Search is an
// exact cosine scan, which is fine for a corpus of a few hundred tables.
type Index struct {
	log *slog.Logger
	cfg IndexConfig
	db  *sql.DB
}

func OpenIndex(ctx context.Context, cfg IndexConfig) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate index config: %w", err)
	}

	dsn := "file:" + cfg.Path
	if cfg.ReadOnly {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("schema index not available at %s: %w", cfg.Path, err)
		}
		dsn += "?mode=ro&_pragma=query_only(1)"
	} else {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to schema index: %w", err)
	}

	idx := &Index{log: cfg.Logger, cfg: cfg, db: db}
	if !cfg.ReadOnly {
		if err := idx.migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate schema index: %w", err)
		}
	}
	return idx, nil
}

func (i *Index) migrate(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_docs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		name      TEXT NOT NULL UNIQUE,
		content   TEXT NOT NULL,
		embedding BLOB NOT NULL,
		dims      INTEGER NOT NULL
	)`)
	return err
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Upsert writes documents in a single transaction, replacing any with the same name.
func (i *Index) Upsert(ctx context.Context, docs []IndexedDocument) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schema_docs (name, content, embedding, dims) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET content = excluded.content, embedding = excluded.embedding, dims = excluded.dims
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %q has no embedding", d.Name)
		}
		if _, err := stmt.ExecContext(ctx, d.Name, d.Content, encodeVector(d.Embedding), len(d.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", d.Name, err)
		}
	}
	return tx.Commit()
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count schema docs: %w", err)
	}
	return n, nil
}

func (i *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	start := time.Now()

	attempt := 0
	qvec, err := backoff.Retry(ctx, func() ([]float32, error) {
		if attempt > 0 {
			i.log.Warn("schema: query embedding failed, retrying", "attempt", attempt)
		}
		attempt++
		return i.cfg.Embedder.Embed(ctx, query)
	}, backoff.WithBackOff(i.cfg.NewBackOff()), backoff.WithMaxTries(i.cfg.EmbedMaxTries))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, `SELECT name, content, embedding FROM schema_docs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema docs: %w", err)
	}
	defer rows.Close()

	var (
		docs   []Document
		corpus [][]float32
	)
	for rows.Next() {
		var (
			name, content string
			blob          []byte
		)
		if err := rows.Scan(&name, &content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan schema doc: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			i.log.Warn("schema: skipping document with bad embedding", "name", name, "error", err)
			continue
		}
		docs = append(docs, Document{
			Content:  content,
			Metadata: map[string]string{"text": content, "table": name},
		})
		corpus = append(corpus, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema docs: %w", err)
	}

	hits := topK(qvec, corpus, k)
	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, docs[h.index])
	}

	i.log.Debug("schema: similarity search", "k", k, "corpus", len(corpus), "hits", len(out), "duration", time.Since(start))
	return out, nil
}
