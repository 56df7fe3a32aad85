package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

// GetSession returns a copy of the latest state stored for id.
func (p *Pipeline) GetSession(id string) (State, bool) {
	s, ok := p.cfg.Sessions.Get(id)
	if !ok {
		return State{}, false
	}
	return s.Clone(), true
}

// SetSession stores s as the latest state for id. Writes are last-write-wins.
func (p *Pipeline) SetSession(id string, s State) {
	p.cfg.Sessions.Set(id, s.Clone())
}

// RunSession runs a fresh question and stores the result under id when it succeeds.
func (p *Pipeline) RunSession(ctx context.Context, id, prompt string, limit int, opts ...RunOption) (State, error) {
	s, err := p.Run(ctx, prompt, limit, opts...)
	if err != nil {
		return s, err
	}
	p.SetSession(id, s)
	return s, nil
}

// ApplyEdit edits the query stored under id and stores the edited state.
func (p *Pipeline) ApplyEdit(ctx context.Context, id, instruction string, opts ...RunOption) (EditResult, error) {
	prev, ok := p.GetSession(id)
	if !ok || strings.TrimSpace(prev.SQL) == "" {
		return EditResult{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	res, err := p.RunEdit(ctx, EditRequest{
		PrevSQL:        prev.SQL,
		Instruction:    instruction,
		OriginalPrompt: prev.question(),
		Limit:          prev.Limit,
	}, opts...)
	if err != nil {
		return res, err
	}
	p.SetSession(id, res.State)
	return res, nil
}

// Reexecute runs the stored query for id again with a new limit, without any LLM calls.
func (p *Pipeline) Reexecute(ctx context.Context, id string, limit int) (State, error) {
	prev, ok := p.GetSession(id)
	if !ok || strings.TrimSpace(prev.SQL) == "" {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	res, err := p.ExecuteOnly(ctx, prev.SQL, limit)
	if err != nil {
		return prev, err
	}
	next := prev.Clone()
	next.Columns = res.Columns
	next.Rows = res.Rows
	next.Limit = sqlexec.NormalizeLimit(limit)
	next.Error = ""
	next.ExecFailed = false
	p.SetSession(id, next)
	return next, nil
}
