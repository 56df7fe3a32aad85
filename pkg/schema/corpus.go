package schema

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Corpus is the YAML source of table descriptions that the index is built from.
//
//	tables:
//	  - name: activities
//	    description: Activity data reported in the literature.
//	    columns:
//	      - name: activity_id
//	        type: BIGINT NOT NULL
//	        keys: [PK]
//	        comment: Unique ID for the activity row
type Corpus struct {
	Tables []TableSpec `yaml:"tables"`
}

type TableSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Columns     []ColumnSpec `yaml:"columns"`

	// Text overrides the rendered description when set.
	Text string `yaml:"text"`
}

type ColumnSpec struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Keys    []string `yaml:"keys"`
	Comment string   `yaml:"comment"`
}

func LoadCorpusFile(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()
	return LoadCorpus(f)
}

func LoadCorpus(r io.Reader) (*Corpus, error) {
	var c Corpus
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode corpus: %w", err)
	}
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table %d has no name", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		seen[t.Name] = true
	}
	return &c, nil
}

// Render formats the table in the layout Parse understands.
func (t TableSpec) Render() string {
	if t.Text != "" {
		return strings.TrimSpace(t.Text)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s\n", t.Name)
	fmt.Fprintf(&sb, "Description: %s\n", strings.TrimSpace(t.Description))
	sb.WriteString("Columns:")
	for _, c := range t.Columns {
		sb.WriteString("\n- ")
		if len(c.Keys) > 0 {
			fmt.Fprintf(&sb, "[%s] ", strings.Join(c.Keys, ", "))
		}
		fmt.Fprintf(&sb, "%s(%s)", c.Name, c.Type)
		if c.Comment != "" {
			fmt.Fprintf(&sb, " — %s", c.Comment)
		}
	}
	return sb.String()
}
