package schema

import (
	"regexp"
	"strings"
)

const UnknownTable = "(unknown)"

// StructuredTable is the presentation form of a schema description text.
type StructuredTable struct {
	Table       string   `json:"table"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
}

type Column struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null"`
	Comment string `json:"comment"`
}

var (
	tableNameRe   = regexp.MustCompile(`(?i)Table:\s*([A-Za-z0-9_]+)`)
	descriptionRe = regexp.MustCompile(`(?is)Description:\s*(.*?)(?:\n\s*Columns:|$)`)
	columnsRe     = regexp.MustCompile(`(?is)Columns:\s*(.*)`)
	columnRe      = regexp.MustCompile(`^[-*]\s*(?:\[([^\]]+)\]\s*)?([A-Za-z0-9_]+)\s*\(([^)]*)\)\s*(?:—|-|:)\s*(.*)$`)
	columnBareRe  = regexp.MustCompile(`^[-*]\s*(?:\[([^\]]+)\]\s*)?([A-Za-z0-9_]+)\s*\(([^)]*)\)\s*$`)
	notNullRe     = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// Parse extracts table name, description, and columns from a schema description.
// Lines that do not look like columns are skipped.
func Parse(text string) StructuredTable {
	t := StructuredTable{Table: UnknownTable, Columns: []Column{}}

	if m := tableNameRe.FindStringSubmatch(text); m != nil {
		t.Table = m[1]
	}
	if m := descriptionRe.FindStringSubmatch(text); m != nil {
		t.Description = strings.TrimSpace(m[1])
	}

	m := columnsRe.FindStringSubmatch(text)
	if m == nil {
		return t
	}
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if col, ok := parseColumn(line); ok {
			t.Columns = append(t.Columns, col)
		}
	}
	return t
}

func parseColumn(line string) (Column, bool) {
	var keys, name, rawType, comment string
	if m := columnRe.FindStringSubmatch(line); m != nil {
		keys, name, rawType, comment = m[1], m[2], m[3], m[4]
	} else if m := columnBareRe.FindStringSubmatch(line); m != nil {
		keys, name, rawType = m[1], m[2], m[3]
	} else {
		return Column{}, false
	}

	notNull := notNullRe.MatchString(rawType)
	if notNull {
		rawType = notNullRe.ReplaceAllString(rawType, " ")
	}

	return Column{
		Key:     strings.TrimSpace(keys),
		Name:    name,
		Type:    strings.TrimSpace(spacesRe.ReplaceAllString(rawType, " ")),
		NotNull: notNull,
		Comment: strings.TrimSpace(comment),
	}, true
}

func ParseAll(texts []string) []StructuredTable {
	out := make([]StructuredTable, 0, len(texts))
	for _, text := range texts {
		out = append(out, Parse(text))
	}
	return out
}

// TableNames returns the table name of each text, in order.
func TableNames(texts []string) []string {
	names := make([]string, 0, len(texts))
	for _, text := range texts {
		if m := tableNameRe.FindStringSubmatch(text); m != nil {
			names = append(names, m[1])
		} else {
			names = append(names, UnknownTable)
		}
	}
	return names
}
