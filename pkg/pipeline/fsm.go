package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/chembl-sql/pkg/metrics"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
)

// Stage names a node of the run state machine.
type Stage string

const (
	StageClassify   Stage = "classify"
	StagePlan       Stage = "plan"
	StageEditEntry  Stage = "edit_entry"
	StageRetrieve   Stage = "retrieve"
	StageGuidelines Stage = "guidelines"
	StageSynthesize Stage = "synthesize"
	StageExecute    Stage = "execute"
	StageRepair     Stage = "repair"
	StageEnd        Stage = "end"
)

// transition picks the stage after from, given the state from produced.
func transition(from Stage, s State) Stage {
	switch from {
	case StageClassify:
		if s.NotChembl {
			return StageEnd
		}
		return StagePlan
	case StagePlan, StageEditEntry:
		return StageRetrieve
	case StageRetrieve:
		return StageGuidelines
	case StageGuidelines:
		return StageSynthesize
	case StageSynthesize:
		return StageExecute
	case StageExecute:
		if !s.ExecFailed || s.NoContext {
			return StageEnd
		}
		return StageRepair
	case StageRepair:
		if !s.ExecFailed {
			return StageEnd
		}
		if s.Loops < MaxRepairLoops {
			return StageGuidelines
		}
		return StageEnd
	default:
		return StageEnd
	}
}

type stageFunc func(ctx context.Context, s State) (State, error)

// machine interprets one run. It is not shared between runs.
type machine struct {
	p         *Pipeline
	clock     clockwork.Clock
	start     time.Time
	timeout   time.Duration
	progress  ProgressFunc
	stopAfter Stage
	skip      map[Stage]bool
}

func (p *Pipeline) newMachine(progress ProgressFunc) *machine {
	return &machine{
		p:        p,
		clock:    p.cfg.Clock,
		start:    p.cfg.Clock.Now(),
		timeout:  p.cfg.Timeout,
		progress: progress,
	}
}

func (m *machine) handler(stage Stage) stageFunc {
	switch stage {
	case StageClassify:
		return m.p.classifyStage
	case StagePlan:
		return m.p.planStage
	case StageEditEntry:
		return m.p.editEntryStage
	case StageRetrieve:
		return m.p.retrieveStage
	case StageGuidelines:
		return m.p.guidelinesStage
	case StageSynthesize:
		return m.p.synthesizeStage
	case StageExecute:
		return m.p.executeStage
	case StageRepair:
		return m.p.repairStage
	}
	return nil
}

// run drives the machine from start until the end stage. The returned state is the
// last one produced; on error it is the state before the failing stage.
func (m *machine) run(ctx context.Context, start Stage, s State) (State, error) {
	stage := start
	for stage != StageEnd {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		h := m.handler(stage)
		if h == nil {
			return s, fmt.Errorf("unknown stage %q", stage)
		}

		began := m.clock.Now()
		next, err := h(ctx, s.Clone())
		metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(m.clock.Since(began).Seconds())
		if err != nil {
			m.p.log.Warn("pipeline: stage failed", "run_id", s.RunID, "stage", stage, "error", err)
			return s, err
		}
		s = next

		m.p.log.Debug("pipeline: stage complete", "run_id", s.RunID, "stage", stage,
			"retries", s.Retries, "loops", s.Loops, "exec_failed", s.ExecFailed)
		if m.progress != nil {
			m.progress(stage, s.Clone())
		}

		if m.timeout > 0 && m.clock.Since(m.start) > m.timeout {
			return s, fmt.Errorf("%w: exceeded %.0fs", ErrPipelineTimeout, m.timeout.Seconds())
		}
		if stage == m.stopAfter {
			return s, nil
		}
		stage = transition(stage, s)
		for m.skip[stage] {
			stage = transition(stage, s)
		}
	}
	return s, nil
}

func (p *Pipeline) classifyStage(ctx context.Context, s State) (State, error) {
	c := p.Classify(ctx, s.Prompt)
	s.ChemblConfidence = c.Confidence
	s.ChemblReason = c.Reason
	if c.InDomain {
		s.NotChembl = false
		return s, nil
	}
	s.NotChembl = true
	s.NoContext = true
	if s.ChemblReason == "" {
		s.ChemblReason = defaultRejectReason
	}
	s.SQL = ""
	s.clearResult()
	return s, nil
}

func (p *Pipeline) planStage(ctx context.Context, s State) (State, error) {
	q, err := p.Plan(ctx, s.Prompt)
	if err != nil {
		return s, err
	}
	s.EnhancedQuery = q
	return s, nil
}

func (p *Pipeline) editEntryStage(_ context.Context, s State) (State, error) {
	s.EnhancedQuery = composeEditQuery(s.OriginalPrompt, s.Prompt, s.PrevSQL)
	s.NotChembl = false
	s.NoContext = false
	return s, nil
}

func (p *Pipeline) retrieveStage(ctx context.Context, s State) (State, error) {
	texts, err := p.cfg.Retriever.Retrieve(ctx, s.retrievalQuery(), p.cfg.TopK)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	if texts == nil {
		texts = []string{}
	}
	s.RelatedTexts = texts
	s.StructuredTables = schema.ParseAll(texts)
	s.NoContext = len(texts) == 0
	p.log.Debug("pipeline: retrieved schema", "run_id", s.RunID, "tables", schema.TableNames(texts))
	return s, nil
}

func (p *Pipeline) guidelinesStage(ctx context.Context, s State) (State, error) {
	if len(s.RelatedTexts) == 0 {
		s.OptimizedGuidelines = ""
		return s, nil
	}
	g, err := p.Guidelines(ctx, s.question(), s.RelatedTexts)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		p.log.Warn("pipeline: using fallback guidelines", "run_id", s.RunID, "error", err)
		g = FallbackGuidelines
	}
	s.OptimizedGuidelines = g
	return s, nil
}

func (p *Pipeline) synthesizeStage(ctx context.Context, s State) (State, error) {
	if s.NotChembl || len(s.RelatedTexts) == 0 {
		s.SQL = ""
		s.NoContext = true
		return s, nil
	}
	sql, err := p.Synthesize(ctx, s.retrievalQuery(), s.RelatedTexts, s.Attempts, s.OptimizedGuidelines)
	if err != nil {
		return s, err
	}
	s.SQL = sql
	s.ExecFailed = false
	return s, nil
}

func (p *Pipeline) executeStage(ctx context.Context, s State) (State, error) {
	if s.NoContext {
		s.clearResult()
		s.Error = ""
		s.ExecFailed = false
		return s, nil
	}
	res, err := p.cfg.Executor.Execute(ctx, s.SQL, s.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		msg := err.Error()
		s.clearResult()
		s.Error = msg
		s.ExecFailed = true
		s.Attempts = append(s.Attempts, Attempt{Stage: StageExecute, SQL: s.SQL, Error: msg})
		p.log.Info("pipeline: execution failed", "run_id", s.RunID, "error", msg)
		return s, nil
	}
	s.Columns = res.Columns
	s.Rows = res.Rows
	s.Error = ""
	s.ExecFailed = false
	return s, nil
}

func (p *Pipeline) repairStage(ctx context.Context, s State) (State, error) {
	if s.NoContext || !s.ExecFailed {
		return s, nil
	}
	fixed, err := p.Repair(ctx, s.question(), s.SQL, s.Error, s.RelatedTexts)
	if err != nil {
		return s, err
	}
	s.Retries++
	s.SQL = fixed

	res, err := p.cfg.Executor.Execute(ctx, fixed, s.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		msg := err.Error()
		s.clearResult()
		s.Error = msg
		s.Loops++
		s.Repaired = false
		s.ExecFailed = true
		s.Attempts = append(s.Attempts, Attempt{Stage: StageRepair, SQL: fixed, Error: msg})
		metrics.PipelineRepairsTotal.WithLabelValues("failed").Inc()
		p.log.Info("pipeline: repair failed", "run_id", s.RunID, "loops", s.Loops, "error", msg)
		return s, nil
	}
	s.Columns = res.Columns
	s.Rows = res.Rows
	s.Error = ""
	s.Repaired = true
	s.ExecFailed = false
	s.Attempts = append(s.Attempts, Attempt{Stage: StageRepair, SQL: fixed})
	metrics.PipelineRepairsTotal.WithLabelValues("success").Inc()
	p.log.Info("pipeline: repair succeeded", "run_id", s.RunID, "retries", s.Retries)
	return s, nil
}
