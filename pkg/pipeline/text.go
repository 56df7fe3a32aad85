package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

var langTagRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_+-]*$`)

// stripFence removes one surrounding markdown code fence (``` or ````). A bare language
// tag on the opening line is dropped. Text without a leading fence is only trimmed.
func stripFence(text string) string {
	body, ok := unfence(text)
	if !ok {
		return body
	}
	if first, rest, found := strings.Cut(body, "\n"); found && langTagRe.MatchString(strings.TrimSpace(first)) {
		body = rest
	}
	return strings.TrimSpace(body)
}

// stripSQLFence is stripFence for SQL output: only a "sql" or "sqlite" tag is dropped, so
// a first line such as "SELECT" survives.
func stripSQLFence(text string) string {
	body, ok := unfence(text)
	if !ok {
		return body
	}
	for _, tag := range []string{"sqlite", "sql"} {
		if len(body) >= len(tag) && strings.EqualFold(body[:len(tag)], tag) {
			rest := body[len(tag):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\r' || rest[0] == '\t' {
				body = rest
			}
			break
		}
	}
	return strings.TrimSpace(body)
}

func unfence(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	body := strings.TrimLeft(s, "`")
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body, true
}

// renderTables formats retrieved schema texts as a bulleted context block, or "(none)".
func renderTables(texts []string) string {
	if len(texts) == 0 {
		return "(none)"
	}
	parts := make([]string, len(texts))
	for i, t := range texts {
		parts[i] = "- " + t
	}
	return strings.Join(parts, "\n\n")
}

// renderAttempts formats the last two attempts for feedback into synthesis.
func renderAttempts(attempts []Attempt) string {
	if len(attempts) > 2 {
		attempts = attempts[len(attempts)-2:]
	}
	var lines []string
	for i, a := range attempts {
		if sql := strings.TrimSpace(a.SQL); sql != "" {
			lines = append(lines, fmt.Sprintf("Attempt %d SQL:\n%s", i+1, sql))
		}
		if e := strings.TrimSpace(a.Error); e != "" {
			lines = append(lines, fmt.Sprintf("Attempt %d error:\n%s", i+1, e))
		}
	}
	return strings.Join(lines, "\n\n")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
