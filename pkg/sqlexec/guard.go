package sqlexec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultLimit = 100
	MaxLimit     = 10000
)

// ErrUnsafeQuery is wrapped by every rejection from Validate.
var ErrUnsafeQuery = errors.New("unsafe query")

// forbiddenTokens are matched as lower-cased substrings, not parsed statements, so a
// column such as "created_at" is rejected along with CREATE.
var forbiddenTokens = []string{
	"pragma",
	"attach",
	"detach",
	"vacuum",
	"insert",
	"update",
	"delete",
	"drop",
	"alter",
	"create",
	"replace",
	"begin",
	"commit",
	"rollback",
}

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`(?m)--.*$`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	limitRe        = regexp.MustCompile(`(?i)\blimit\b`)
)

// Validate checks that sql is a single read-only SELECT/WITH statement.
func Validate(sql string) error {
	s := strings.ToLower(strings.TrimSpace(sql))
	if !strings.HasPrefix(s, "select") && !strings.HasPrefix(s, "with") {
		return fmt.Errorf("%w: only SELECT/WITH queries are allowed", ErrUnsafeQuery)
	}
	for _, tok := range forbiddenTokens {
		if strings.Contains(s, tok) {
			return fmt.Errorf("%w: forbidden token detected in SQL", ErrUnsafeQuery)
		}
	}
	if strings.Contains(strings.TrimRight(s, ";"), ";") {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrUnsafeQuery)
	}
	return nil
}

// EnforceLimit returns the statement that will be executed: sql without surrounding
// whitespace and trailing terminators, with "LIMIT n" appended on its own line unless a
// LIMIT keyword already appears outside of comments.
func EnforceLimit(sql string, limit int) string {
	s := strings.TrimRight(strings.TrimSpace(sql), ";")
	if HasLimit(s) {
		return s
	}
	return fmt.Sprintf("%s\nLIMIT %d", s, limit)
}

// HasLimit reports whether sql contains a LIMIT keyword once comments are removed.
func HasLimit(sql string) bool {
	scan := blockCommentRe.ReplaceAllString(sql, " ")
	scan = lineCommentRe.ReplaceAllString(scan, " ")
	scan = whitespaceRe.ReplaceAllString(scan, " ")
	return limitRe.MatchString(scan)
}

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
