package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/malbeclabs/chembl-sql/pkg/metrics"
	_ "modernc.org/sqlite"
)

const (
	DefaultPathEnv = "CHEMBL_SQLITE_PATH"
	DefaultPath    = "data/chembl.sqlite"
)

// Opener hands out a database handle for a single query. Implementations must open the
// dataset read-only.
type Opener interface {
	Open(ctx context.Context) (*sql.DB, error)
}

// SQLiteOpener opens the embedded SQLite dataset in read-only, query-only mode.
type SQLiteOpener struct {
	Path string
}

// PathFromEnv returns CHEMBL_SQLITE_PATH if set, otherwise fallback.
func PathFromEnv(fallback string) string {
	if p := os.Getenv(DefaultPathEnv); p != "" {
		return p
	}
	if fallback == "" {
		return DefaultPath
	}
	return fallback
}

func (o *SQLiteOpener) Open(ctx context.Context) (*sql.DB, error) {
	if _, err := os.Stat(o.Path); err != nil {
		return nil, fmt.Errorf("dataset not available at %s: %w", o.Path, err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", o.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to dataset: %w", err)
	}
	return db, nil
}

type Config struct {
	Logger *slog.Logger
	Opener Opener
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Opener == nil {
		return errors.New("opener is required")
	}
	return nil
}

// Result holds column names in result order and rows as ordered value lists.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute validates query, applies the row limit, and runs it on a fresh read-only
// connection. Rejected queries never reach the opener.
func (e *Executor) Execute(ctx context.Context, query string, limit int) (*Result, error) {
	if err := Validate(query); err != nil {
		metrics.SQLExecutionsTotal.WithLabelValues("rejected").Inc()
		e.log.Debug("sqlexec: query rejected", "error", err)
		return nil, err
	}

	stmt := EnforceLimit(query, NormalizeLimit(limit))

	start := time.Now()
	res, err := e.run(ctx, stmt)
	if err != nil {
		metrics.SQLExecutionsTotal.WithLabelValues("error").Inc()
		e.log.Debug("sqlexec: query failed", "duration", time.Since(start), "error", err)
		return nil, err
	}
	metrics.SQLExecutionsTotal.WithLabelValues("success").Inc()
	e.log.Debug("sqlexec: query executed", "duration", time.Since(start), "rows", len(res.Rows))
	return res, nil
}

func (e *Executor) run(ctx context.Context, stmt string) (*Result, error) {
	db, err := e.cfg.Opener.Open(ctx)
	if err != nil {
		return nil, newExecutionError(err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, newExecutionError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, newExecutionError(err)
	}

	result := &Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, newExecutionError(err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, newExecutionError(err)
	}
	return result, nil
}
