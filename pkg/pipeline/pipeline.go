// Package pipeline turns natural-language ChEMBL questions into validated SQLite queries.
// A run classifies the question, plans it, retrieves schema context, drafts guidelines,
// synthesizes SQL, executes it and repairs it on failure, all as steps of a small state
// machine over an immutable State.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/malbeclabs/chembl-sql/pkg/metrics"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

// Pipeline orchestrates runs. It is safe for concurrent use; every run has its own
// machine and state.
type Pipeline struct {
	log     *slog.Logger
	cfg     Config
	prompts *Prompts
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	return &Pipeline{
		log:     cfg.Logger,
		cfg:     cfg,
		prompts: prompts,
	}, nil
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	progress ProgressFunc
}

// WithProgress reports every completed stage to fn.
func WithProgress(fn ProgressFunc) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

func applyRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run executes the full pipeline for a fresh question.
func (p *Pipeline) Run(ctx context.Context, prompt string, limit int, opts ...RunOption) (State, error) {
	o := applyRunOptions(opts)
	s := newState(uuid.NewString(), prompt, limit)
	s.OriginalPrompt = prompt

	p.log.Info("pipeline: run started", "run_id", s.RunID, "prompt", preview(prompt, 120), "limit", s.Limit)
	out, err := p.newMachine(o.progress).run(ctx, StageClassify, s)
	p.finish("fresh", out, err)
	return out, err
}

// RunEdit applies an edit instruction to a previous query, skipping classification and
// planning.
func (p *Pipeline) RunEdit(ctx context.Context, req EditRequest, opts ...RunOption) (EditResult, error) {
	o := applyRunOptions(opts)
	s := newState(uuid.NewString(), req.Instruction, req.Limit)
	s.OriginalPrompt = req.OriginalPrompt
	s.PrevSQL = req.PrevSQL

	p.log.Info("pipeline: edit started", "run_id", s.RunID, "instruction", preview(req.Instruction, 120), "limit", s.Limit)
	out, err := p.newMachine(o.progress).run(ctx, StageEditEntry, s)
	p.finish("edit", out, err)
	if err != nil {
		return EditResult{State: out}, err
	}
	return EditResult{State: out, Diff: sqlDiff(req.PrevSQL, out.SQL)}, nil
}

// Draft plans, retrieves and synthesizes a query without classifying, drafting
// guidelines or executing it.
func (p *Pipeline) Draft(ctx context.Context, prompt string, opts ...RunOption) (State, error) {
	o := applyRunOptions(opts)
	s := newState(uuid.NewString(), prompt, 0)
	s.OriginalPrompt = prompt

	m := p.newMachine(o.progress)
	m.stopAfter = StageSynthesize
	m.skip = map[Stage]bool{StageGuidelines: true}
	out, err := m.run(ctx, StagePlan, s)
	p.finish("draft", out, err)
	return out, err
}

// ExecuteOnly runs caller-supplied SQL through the safety gate. Errors are returned to
// the caller rather than repaired.
func (p *Pipeline) ExecuteOnly(ctx context.Context, sql string, limit int) (*sqlexec.Result, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("%w: empty query", sqlexec.ErrUnsafeQuery)
	}
	return p.cfg.Executor.Execute(ctx, sql, sqlexec.NormalizeLimit(limit))
}

func (p *Pipeline) finish(entry string, s State, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrPipelineTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case s.NotChembl:
		outcome = "not_chembl"
	case s.NoContext:
		outcome = "no_context"
	case s.ExecFailed:
		outcome = "exec_failed"
	}
	metrics.PipelineRunsTotal.WithLabelValues(entry, outcome).Inc()
	if err != nil {
		p.log.Warn("pipeline: run failed", "run_id", s.RunID, "entry", entry, "error", err)
		return
	}
	p.log.Info("pipeline: run finished", "run_id", s.RunID, "entry", entry, "outcome", outcome,
		"rows", len(s.Rows), "retries", s.Retries, "loops", s.Loops)
}
