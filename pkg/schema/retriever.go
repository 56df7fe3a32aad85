package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const DefaultTopK = 5

// Document is a single similarity-search hit. Metadata["text"] carries the canonical
// table description when the index stores one.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Text returns the metadata text if it is non-empty, otherwise the raw content. Neither is
// trimmed.
func (d Document) Text() string {
	if t := d.Metadata["text"]; t != "" {
		return t
	}
	return d.Content
}

type SimilaritySearcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

// Retriever turns similarity-search hits into an ordered, de-duplicated list of schema
// description texts.
type Retriever struct {
	log      *slog.Logger
	searcher SimilaritySearcher
}

func NewRetriever(log *slog.Logger, searcher SimilaritySearcher) (*Retriever, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if searcher == nil {
		return nil, errors.New("similarity searcher is required")
	}
	return &Retriever{log: log, searcher: searcher}, nil
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	docs, err := r.searcher.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	seen := make(map[string]struct{}, len(docs))
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		t := d.Text()
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		texts = append(texts, t)
	}

	r.log.Debug("schema: retrieved tables", "k", k, "hits", len(docs), "unique", len(texts), "tables", TableNames(texts))
	return texts, nil
}
