package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
)

func buildSynthesisPrompt(question string, relatedTexts []string, attempts []Attempt, guidelines string) string {
	var sb strings.Builder
	sb.WriteString("User question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nRelated tables (retrieved):\n")
	sb.WriteString(renderTables(relatedTexts))
	if prev := renderAttempts(attempts); prev != "" {
		sb.WriteString("\n\nPrevious attempts and errors (for correction):\n")
		sb.WriteString(prev)
	}
	if g := strings.TrimSpace(guidelines); g != "" {
		sb.WriteString("\n\nOptimization guidelines to follow:\n")
		sb.WriteString(g)
	}
	sb.WriteString("\n\nWrite a single valid and optimized SQLite SQL query that best answers the question using these tables.")
	return sb.String()
}

// Synthesize produces one candidate query.
func (p *Pipeline) Synthesize(ctx context.Context, question string, relatedTexts []string, attempts []Attempt, guidelines string) (string, error) {
	user := buildSynthesisPrompt(question, relatedTexts, attempts, guidelines)

	resp, err := p.cfg.LLM.Complete(ctx, p.prompts.Synthesize, user, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	sql := stripSQLFence(resp)
	p.log.Debug("pipeline: synthesized sql", "sql", preview(sql, 200))
	return sql, nil
}
