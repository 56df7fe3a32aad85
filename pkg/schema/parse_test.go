package schema_test

import (
	"testing"

	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activitiesText = `Table: ACTIVITIES
Description: Activity 'values' recorded in an assay.
Spans two lines of prose.
Columns:
- [PK] ACTIVITY_ID(BIGINT NOT NULL) — Unique ID for the activity row
- [FK] MOLREGNO(BIGINT) - Foreign key to compounds table
* STANDARD_TYPE(VARCHAR(250)) : Standardised version of the published_activity_type
- STANDARD_VALUE(NUMERIC)
this line is not a column
- [PK, FK] ASSAY_ID(BIGINT not null) — Foreign key to the assays table`

func TestParse(t *testing.T) {
	t.Parallel()

	got := schema.Parse(activitiesText)
	assert.Equal(t, "ACTIVITIES", got.Table)
	assert.Equal(t, "Activity 'values' recorded in an assay.\nSpans two lines of prose.", got.Description)

	require.Len(t, got.Columns, 4)
	assert.Equal(t, schema.Column{Key: "PK", Name: "ACTIVITY_ID", Type: "BIGINT", NotNull: true, Comment: "Unique ID for the activity row"}, got.Columns[0])
	assert.Equal(t, schema.Column{Key: "FK", Name: "MOLREGNO", Type: "BIGINT", Comment: "Foreign key to compounds table"}, got.Columns[1])
	assert.Equal(t, schema.Column{Name: "STANDARD_VALUE", Type: "NUMERIC"}, got.Columns[2])
	assert.Equal(t, schema.Column{Key: "PK, FK", Name: "ASSAY_ID", Type: "BIGINT", NotNull: true, Comment: "Foreign key to the assays table"}, got.Columns[3])
}

func TestParse_Lenient(t *testing.T) {
	t.Parallel()

	t.Run("no markers", func(t *testing.T) {
		got := schema.Parse("just some text about molecules")
		assert.Equal(t, schema.UnknownTable, got.Table)
		assert.Empty(t, got.Description)
		assert.NotNil(t, got.Columns)
		assert.Empty(t, got.Columns)
	})

	t.Run("description runs to end without columns", func(t *testing.T) {
		got := schema.Parse("Table: TARGET_DICTIONARY\nDescription: Targets curated for ChEMBL.")
		assert.Equal(t, "TARGET_DICTIONARY", got.Table)
		assert.Equal(t, "Targets curated for ChEMBL.", got.Description)
		assert.Empty(t, got.Columns)
	})

	t.Run("markers are case-insensitive", func(t *testing.T) {
		got := schema.Parse("table: ACTIVITIES\ndescription: bioactivity rows\ncolumns:\n- [PK] ACTIVITY_ID(INTEGER NOT NULL) — id")
		assert.Equal(t, "ACTIVITIES", got.Table)
		assert.Equal(t, "bioactivity rows", got.Description)
		require.Len(t, got.Columns, 1)
		assert.Equal(t, schema.Column{Key: "PK", Name: "ACTIVITY_ID", Type: "INTEGER", NotNull: true, Comment: "id"}, got.Columns[0])
	})

	t.Run("malformed column lines are skipped", func(t *testing.T) {
		got := schema.Parse("Table: X\nColumns:\n- broken(\n- ok(INT)\n-- comment line\n")
		require.Len(t, got.Columns, 1)
		assert.Equal(t, "ok", got.Columns[0].Name)
	})
}

func TestTableNames(t *testing.T) {
	t.Parallel()

	names := schema.TableNames([]string{activitiesText, "no table here", "Table: ASSAYS\n", "TABLE: DOCS"})
	assert.Equal(t, []string{"ACTIVITIES", schema.UnknownTable, "ASSAYS", "DOCS"}, names)
}

func TestParseAll_PreservesOrder(t *testing.T) {
	t.Parallel()

	tables := schema.ParseAll([]string{"Table: B", "Table: A"})
	require.Len(t, tables, 2)
	assert.Equal(t, "B", tables[0].Table)
	assert.Equal(t, "A", tables[1].Table)
}
