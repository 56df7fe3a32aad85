package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
)

const maxGuidelineTables = 5

// FallbackGuidelines replaces model guidance when the guidelines call fails.
const FallbackGuidelines = "- Use exact column names and proper JOINs on keys (PK/FK).\n" +
	"- Filter early with WHERE; aggregate only when needed.\n" +
	"- Return concise columns; avoid SELECT *.\n" +
	"- Respect SQLite syntax; add LIMIT for preview."

// Guidelines drafts short optimization advice from the first few retrieved tables.
func (p *Pipeline) Guidelines(ctx context.Context, question string, relatedTexts []string) (string, error) {
	if len(relatedTexts) > maxGuidelineTables {
		relatedTexts = relatedTexts[:maxGuidelineTables]
	}
	user := "User question:\n" + strings.TrimSpace(question) + "\n\n" +
		"Relevant schema excerpts:\n" + strings.Join(relatedTexts, "\n\n")

	resp, err := p.cfg.LLM.Complete(ctx, p.prompts.Guidelines, user, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGuidelines, err)
	}
	out := stripFence(resp)
	if out == "" {
		return "", fmt.Errorf("%w: %w", ErrGuidelines, errors.New("empty response"))
	}
	return out, nil
}
