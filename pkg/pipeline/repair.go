package pipeline

import (
	"context"
	"fmt"

	"github.com/malbeclabs/chembl-sql/pkg/llm"
)

func buildRepairPrompt(question, prevSQL, errMsg string, relatedTexts []string) string {
	return "User question (for context):\n" + question + "\n\n" +
		"Previous SQL (failed):\n" + prevSQL + "\n\n" +
		"SQLite error message:\n" + errMsg + "\n\n" +
		"Related tables (retrieved):\n" + renderTables(relatedTexts) + "\n\n" +
		"Produce a corrected, valid SQLite SQL query that answers the user's question using the related tables."
}

// Repair asks for a minimally changed query that fixes errMsg.
func (p *Pipeline) Repair(ctx context.Context, question, prevSQL, errMsg string, relatedTexts []string) (string, error) {
	user := buildRepairPrompt(question, prevSQL, errMsg, relatedTexts)

	resp, err := p.cfg.LLM.Complete(ctx, p.prompts.Repair, user, llm.WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRepair, err)
	}
	sql := stripSQLFence(resp)
	p.log.Debug("pipeline: repaired sql", "sql", preview(sql, 200))
	return sql, nil
}
