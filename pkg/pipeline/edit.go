package pipeline

import (
	"fmt"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

const editGoal = "Goal: apply a minimal change; preserve existing tables, joins, and CTEs unless explicitly requested."

// EditRequest continues from a previously synthesized query.
type EditRequest struct {
	PrevSQL        string
	Instruction    string
	OriginalPrompt string
	Limit          int
}

// EditResult is the state of an edit run plus a diff from the previous query.
type EditResult struct {
	State
	Diff string `json:"diff"`
}

func composeEditQuery(originalPrompt, instruction, prevSQL string) string {
	var parts []string
	if s := strings.TrimSpace(originalPrompt); s != "" {
		parts = append(parts, "Original question:\n"+s)
	}
	instr := strings.TrimSpace(instruction)
	if instr == "" {
		instr = "(none)"
	}
	parts = append(parts, "Edit instruction:\n"+instr)
	if s := strings.TrimSpace(prevSQL); s != "" {
		parts = append(parts, "Current SQL (context):\n"+s)
	}
	parts = append(parts, editGoal)
	return strings.Join(parts, "\n\n")
}

// sqlDiff renders a unified diff between two queries, or "" when they are equal.
func sqlDiff(prev, next string) string {
	if prev == next {
		return ""
	}
	if !strings.HasSuffix(prev, "\n") {
		prev += "\n"
	}
	if !strings.HasSuffix(next, "\n") {
		next += "\n"
	}
	edits := myers.ComputeEdits(span.URIFromPath("previous.sql"), prev, next)
	return fmt.Sprint(gotextdiff.ToUnified("previous.sql", "edited.sql", prev, edits))
}
