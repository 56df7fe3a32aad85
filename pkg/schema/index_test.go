package schema_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCorpusYAML = `
tables:
  - name: ACTIVITIES
    description: Activity measurements such as IC50 recorded for a molecule in an assay.
    columns:
      - name: ACTIVITY_ID
        type: BIGINT NOT NULL
        keys: [PK]
        comment: Unique ID for the activity row
      - name: STANDARD_VALUE
        type: NUMERIC
  - name: TARGET_DICTIONARY
    description: Target names and types. Each target has a ChEMBL id.
    columns:
      - name: TID
        type: BIGINT NOT NULL
        keys: [PK]
  - name: DRUG_MECHANISM
    text: |
      Table: DRUG_MECHANISM
      Description: Mechanism of action for drugs against a target.
      Columns:
      - [PK] MEC_ID(BIGINT NOT NULL) — Primary key
`

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func buildTestIndex(t *testing.T, embedder *keywordEmbedder) *schema.Index {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := schema.OpenIndex(ctx, schema.IndexConfig{
		Logger:     logger,
		Path:       path,
		Embedder:   embedder,
		NewBackOff: zeroBackOff,
	})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	corpus, err := schema.LoadCorpus(strings.NewReader(testCorpusYAML))
	require.NoError(t, err)

	b, err := schema.NewBuilder(schema.BuilderConfig{
		Logger:     logger,
		Embedder:   embedder,
		Writer:     idx,
		BatchSize:  2,
		NewBackOff: zeroBackOff,
	})
	require.NoError(t, err)

	n, err := b.Build(ctx, corpus)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return idx
}

func TestIndex_SimilaritySearch(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t, newKeywordEmbedder())
	ctx := context.Background()

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	docs, err := idx.SimilaritySearch(ctx, "activities of a molecule", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ACTIVITIES", docs[0].Metadata["table"])
	assert.Equal(t, docs[0].Content, docs[0].Text())

	parsed := schema.Parse(docs[0].Text())
	assert.Equal(t, "ACTIVITIES", parsed.Table)
	require.Len(t, parsed.Columns, 2)
	assert.True(t, parsed.Columns[0].NotNull)

	docs, err = idx.SimilaritySearch(ctx, "mechanism of action", 5)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "DRUG_MECHANISM", docs[0].Metadata["table"])
}

func TestIndex_UpsertReplaces(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t, newKeywordEmbedder())
	ctx := context.Background()

	err := idx.Upsert(ctx, []schema.IndexedDocument{{Name: "ACTIVITIES", Content: "Table: ACTIVITIES\nDescription: replaced", Embedding: []float32{1, 0, 0, 0, 0}}})
	require.NoError(t, err)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	docs, err := idx.SimilaritySearch(ctx, "activit", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Content, "replaced")

	err = idx.Upsert(ctx, []schema.IndexedDocument{{Name: "EMPTY", Content: "x"}})
	require.ErrorContains(t, err, "has no embedding")
}

func TestIndex_QueryEmbeddingRetries(t *testing.T) {
	t.Parallel()

	embedder := newKeywordEmbedder()
	idx := buildTestIndex(t, embedder)

	embedder.mu.Lock()
	embedder.failFirst = embedder.calls + 2
	embedder.mu.Unlock()

	docs, err := idx.SimilaritySearch(context.Background(), "target", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "TARGET_DICTIONARY", docs[0].Metadata["table"])
}

func TestOpenIndex_ReadOnlyMissing(t *testing.T) {
	t.Parallel()

	_, err := schema.OpenIndex(context.Background(), schema.IndexConfig{
		Logger:   logger,
		Path:     filepath.Join(t.TempDir(), "nope.sqlite"),
		Embedder: newKeywordEmbedder(),
		ReadOnly: true,
	})
	require.ErrorContains(t, err, "schema index not available")
}
