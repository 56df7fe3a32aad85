package schema_test

import (
	"context"
	"strings"
	"testing"

	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableSpec_RenderRoundTrips(t *testing.T) {
	t.Parallel()

	spec := schema.TableSpec{
		Name:        "COMPOUND_STRUCTURES",
		Description: "Structure representations for each compound.",
		Columns: []schema.ColumnSpec{
			{Name: "MOLREGNO", Type: "BIGINT NOT NULL", Keys: []string{"PK", "FK"}, Comment: "Internal compound id"},
			{Name: "CANONICAL_SMILES", Type: "VARCHAR"},
		},
	}

	got := schema.Parse(spec.Render())
	assert.Equal(t, schema.StructuredTable{
		Table:       "COMPOUND_STRUCTURES",
		Description: "Structure representations for each compound.",
		Columns: []schema.Column{
			{Key: "PK, FK", Name: "MOLREGNO", Type: "BIGINT", NotNull: true, Comment: "Internal compound id"},
			{Name: "CANONICAL_SMILES", Type: "VARCHAR"},
		},
	}, got)
}

func TestLoadCorpus_Errors(t *testing.T) {
	t.Parallel()

	_, err := schema.LoadCorpus(strings.NewReader("tables:\n  - description: nameless\n"))
	require.ErrorContains(t, err, "has no name")

	_, err = schema.LoadCorpus(strings.NewReader("tables:\n  - name: A\n  - name: A\n"))
	require.ErrorContains(t, err, "duplicate table")

	_, err = schema.LoadCorpus(strings.NewReader("tables: [unterminated"))
	require.Error(t, err)
}

func TestBuilder_RetriesAndOrder(t *testing.T) {
	t.Parallel()

	embedder := newKeywordEmbedder()
	embedder.failFirst = 1
	writer := &memoryWriter{}

	b, err := schema.NewBuilder(schema.BuilderConfig{
		Logger:      logger,
		Embedder:    embedder,
		Writer:      writer,
		BatchSize:   1,
		Concurrency: 1,
		NewBackOff:  zeroBackOff,
	})
	require.NoError(t, err)

	corpus, err := schema.LoadCorpus(strings.NewReader(testCorpusYAML))
	require.NoError(t, err)

	n, err := b.Build(context.Background(), corpus)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, writer.docs, 3)
	assert.Equal(t, "ACTIVITIES", writer.docs[0].Name)
	assert.Equal(t, "TARGET_DICTIONARY", writer.docs[1].Name)
	assert.Equal(t, "DRUG_MECHANISM", writer.docs[2].Name)
	assert.True(t, strings.HasPrefix(writer.docs[2].Content, "Table: DRUG_MECHANISM"))
}

func TestBuilder_GivesUp(t *testing.T) {
	t.Parallel()

	embedder := newKeywordEmbedder()
	embedder.failFirst = 100

	b, err := schema.NewBuilder(schema.BuilderConfig{
		Logger:     logger,
		Embedder:   embedder,
		Writer:     &memoryWriter{},
		MaxTries:   2,
		NewBackOff: zeroBackOff,
	})
	require.NoError(t, err)

	corpus, err := schema.LoadCorpus(strings.NewReader(testCorpusYAML))
	require.NoError(t, err)

	_, err = b.Build(context.Background(), corpus)
	require.ErrorContains(t, err, "rate limited")
}
