package sqlexec_test

import (
	"context"
	"errors"
	"testing"

	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RejectsWithoutOpening(t *testing.T) {
	t.Parallel()

	exec, opener := newTestExecutor(t, newTestDataset(t))

	for _, sql := range []string{
		"DELETE FROM activities",
		"PRAGMA table_info(activities)",
		"SELECT * FROM activities; DROP TABLE activities",
		"SELECT 1; SELECT 2",
	} {
		_, err := exec.Execute(context.Background(), sql, 10)
		require.ErrorIs(t, err, sqlexec.ErrUnsafeQuery, sql)
	}
	assert.Equal(t, int32(0), opener.calls.Load())
}

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()

	exec, opener := newTestExecutor(t, newTestDataset(t))
	ctx := context.Background()

	res, err := exec.Execute(ctx, "SELECT molregno, chembl_id, pref_name FROM molecule_dictionary ORDER BY molregno", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"molregno", "chembl_id", "pref_name"}, res.Columns)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, []any{int64(1), "CHEMBL1", nil}, res.Rows[0])
	assert.Equal(t, int32(1), opener.calls.Load())

	t.Run("existing limit wins", func(t *testing.T) {
		res, err := exec.Execute(ctx, "SELECT molregno FROM molecule_dictionary LIMIT 7;", 2)
		require.NoError(t, err)
		assert.Len(t, res.Rows, 7)
	})

	t.Run("empty result has no nil rows", func(t *testing.T) {
		res, err := exec.Execute(ctx, "SELECT molregno FROM molecule_dictionary WHERE molregno < 0", 10)
		require.NoError(t, err)
		assert.NotNil(t, res.Rows)
		assert.Empty(t, res.Rows)
	})
}

func TestExecutor_Idempotent(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, newTestDataset(t))
	ctx := context.Background()
	sql := "WITH a AS (SELECT molregno, standard_value FROM activities WHERE standard_type = 'IC50') SELECT * FROM a ORDER BY molregno"

	first, err := exec.Execute(ctx, sql, 5)
	require.NoError(t, err)
	second, err := exec.Execute(ctx, sql, 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExecutor_EngineErrors(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, newTestDataset(t))

	_, err := exec.Execute(context.Background(), "SELECT missing_column FROM activities", 10)
	require.Error(t, err)
	var execErr *sqlexec.QueryExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, execErr.Message, "no such column")
	assert.Contains(t, err.Error(), "SQLite error: ")
	assert.NotErrorIs(t, err, sqlexec.ErrUnsafeQuery)
}

func TestExecutor_MissingDataset(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, t.TempDir()+"/missing.sqlite")

	_, err := exec.Execute(context.Background(), "SELECT 1", 10)
	var execErr *sqlexec.QueryExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "dataset not available")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := sqlexec.New(sqlexec.Config{Opener: &sqlexec.SQLiteOpener{}})
	require.ErrorContains(t, err, "logger is required")
	_, err = sqlexec.New(sqlexec.Config{Logger: logger})
	require.ErrorContains(t, err, "opener is required")
}
