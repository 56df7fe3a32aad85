package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

// Pipeline is the set of caller-facing pipeline operations served over HTTP.
type Pipeline interface {
	Run(ctx context.Context, prompt string, limit int, opts ...pipeline.RunOption) (pipeline.State, error)
	RunSession(ctx context.Context, id, prompt string, limit int, opts ...pipeline.RunOption) (pipeline.State, error)
	RunEdit(ctx context.Context, req pipeline.EditRequest, opts ...pipeline.RunOption) (pipeline.EditResult, error)
	ApplyEdit(ctx context.Context, id, instruction string, opts ...pipeline.RunOption) (pipeline.EditResult, error)
	Draft(ctx context.Context, prompt string, opts ...pipeline.RunOption) (pipeline.State, error)
	ExecuteOnly(ctx context.Context, sql string, limit int) (*sqlexec.Result, error)
	GetSession(id string) (pipeline.State, bool)
	Reexecute(ctx context.Context, id string, limit int) (pipeline.State, error)
}

// Credentials switches the active LLM credential for subsequent requests.
type Credentials interface {
	Activate(ctx context.Context, apiKey string) error
}

type Config struct {
	Logger            *slog.Logger
	Listener          net.Listener
	Pipeline          Pipeline
	Credentials       Credentials // optional; api_key in requests is ignored when nil
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Listener == nil {
		return errors.New("listener is required")
	}
	if cfg.Pipeline == nil {
		return errors.New("pipeline is required")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// Runs make several sequential model calls.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
