package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
)

// Plan expands a raw request into an explicit intent description. An empty model
// response falls back to the prompt itself.
func (p *Pipeline) Plan(ctx context.Context, prompt string) (string, error) {
	resp, err := p.cfg.LLM.Complete(ctx, p.prompts.Plan, prompt, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlanner, err)
	}
	out := strings.TrimSpace(resp)
	if out == "" {
		p.log.Warn("pipeline: planner returned empty output, using prompt")
		return prompt, nil
	}
	return out, nil
}
