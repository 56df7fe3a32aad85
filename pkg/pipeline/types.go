package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/chembl-sql/pkg/llm"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/malbeclabs/chembl-sql/pkg/session"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
)

const (
	// MaxRepairLoops bounds failed repair → resynthesis cycles per run.
	MaxRepairLoops = 3

	// TimeoutEnv holds the soft wall-clock budget in seconds; 0 disables it.
	TimeoutEnv = "CHEMBL_PIPELINE_TIMEOUT_S"
)

// Retriever returns schema description texts relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Executor runs a single read-only query.
type Executor interface {
	Execute(ctx context.Context, sql string, limit int) (*sqlexec.Result, error)
}

// ProgressFunc is called after every completed stage with the state it produced.
type ProgressFunc func(stage Stage, s State)

type Config struct {
	Logger    *slog.Logger
	LLM       llm.Client
	Retriever Retriever
	Executor  Executor
	Sessions  session.Store[State]
	Clock     clockwork.Clock

	// Timeout is the soft wall-clock budget for one run, checked between stages.
	Timeout time.Duration
	TopK    int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore[State]()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = schema.DefaultTopK
	}
	return nil
}

// TimeoutFromEnv reads CHEMBL_PIPELINE_TIMEOUT_S. Unset, unparsable or non-positive
// values disable the budget.
func TimeoutFromEnv() time.Duration {
	v := os.Getenv(TimeoutEnv)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Attempt records one executed candidate query.
type Attempt struct {
	Stage Stage  `json:"stage"`
	SQL   string `json:"sql"`
	Error string `json:"error"`
}

// State is the value threaded through the stages of one run. Stages never modify a
// state they were handed by the interpreter; each works on its own clone.
type State struct {
	RunID string `json:"run_id"`

	Prompt              string                   `json:"prompt"`
	OriginalPrompt      string                   `json:"original_prompt"`
	PrevSQL             string                   `json:"prev_sql"`
	EnhancedQuery       string                   `json:"enhanced_query"`
	RelatedTexts        []string                 `json:"related_texts"`
	StructuredTables    []schema.StructuredTable `json:"structured_tables"`
	OptimizedGuidelines string                   `json:"optimized_guidelines"`

	SQL     string   `json:"sql"`
	Limit   int      `json:"limit"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Error   string   `json:"error"`

	Retries  int       `json:"retries"`
	Loops    int       `json:"loops"`
	Attempts []Attempt `json:"attempts"`

	NotChembl        bool    `json:"not_chembl"`
	NoContext        bool    `json:"no_context"`
	ChemblReason     string  `json:"chembl_reason"`
	ChemblConfidence float64 `json:"chembl_confidence"`

	ExecFailed bool `json:"exec_failed"`
	Repaired   bool `json:"repaired"`
}

func newState(runID, prompt string, limit int) State {
	return State{
		RunID:            runID,
		Prompt:           prompt,
		Limit:            sqlexec.NormalizeLimit(limit),
		RelatedTexts:     []string{},
		StructuredTables: []schema.StructuredTable{},
		Columns:          []string{},
		Rows:             [][]any{},
		Attempts:         []Attempt{},
	}
}

// Clone returns a deep copy; slices in the copy never alias the receiver's.
func (s State) Clone() State {
	c := s
	c.RelatedTexts = slices.Clone(s.RelatedTexts)
	c.Columns = slices.Clone(s.Columns)
	c.Attempts = slices.Clone(s.Attempts)
	if s.Rows != nil {
		c.Rows = make([][]any, len(s.Rows))
		for i, r := range s.Rows {
			c.Rows[i] = slices.Clone(r)
		}
	}
	if s.StructuredTables != nil {
		c.StructuredTables = make([]schema.StructuredTable, len(s.StructuredTables))
		for i, t := range s.StructuredTables {
			t.Columns = slices.Clone(t.Columns)
			c.StructuredTables[i] = t
		}
	}
	return c
}

// question is the text the user originally asked, used as context for guidelines and
// repair.
func (s State) question() string {
	if s.OriginalPrompt != "" {
		return s.OriginalPrompt
	}
	return s.Prompt
}

// retrievalQuery is the operative query for retrieval and synthesis.
func (s State) retrievalQuery() string {
	if s.EnhancedQuery != "" {
		return s.EnhancedQuery
	}
	return s.Prompt
}

func (s *State) clearResult() {
	s.Columns = []string{}
	s.Rows = [][]any{}
}
