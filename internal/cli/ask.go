package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/malbeclabs/chembl-sql/internal/bootstrap"
	"github.com/malbeclabs/chembl-sql/pkg/pipeline"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
	"github.com/spf13/cobra"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Synthesize, run and show the SQL for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Root().PersistentFlags()
			sqlitePath, err := flags.GetString("sqlite-path")
			if err != nil {
				return fmt.Errorf("failed to get sqlite-path flag: %w", err)
			}
			indexPath, err := flags.GetString("index-path")
			if err != nil {
				return fmt.Errorf("failed to get index-path flag: %w", err)
			}
			model, err := flags.GetString("embedding-model")
			if err != nil {
				return fmt.Errorf("failed to get embedding-model flag: %w", err)
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}
			draft, err := cmd.Flags().GetBool("draft")
			if err != nil {
				return fmt.Errorf("failed to get draft flag: %w", err)
			}

			ctx := cmd.Context()
			app, err := bootstrap.New(ctx, log, bootstrap.Options{
				SQLitePath:      sqlitePath,
				IndexPath:       indexPath,
				AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
				AnthropicModel:  os.Getenv("ANTHROPIC_MODEL"),
				OllamaURL:       os.Getenv("OLLAMA_URL"),
				OllamaModel:     os.Getenv("OLLAMA_MODEL"),
				GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
				EmbeddingModel:  model,
				Timeout:         pipeline.TimeoutFromEnv(),
			})
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			progress := pipeline.WithProgress(func(stage pipeline.Stage, s pipeline.State) {
				fmt.Fprintf(out, "-> %s%s\n", stage, stageDetail(stage, s))
			})
			question := strings.Join(args, " ")

			if draft {
				st, err := app.Pipeline.Draft(ctx, question, progress)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%s\n", st.SQL)
				return nil
			}

			st, err := app.Pipeline.Run(ctx, question, limit, progress)
			if err != nil {
				return err
			}
			switch {
			case st.NotChembl:
				fmt.Fprintf(out, "\nnot a ChEMBL question: %s\n", st.ChemblReason)
				return nil
			case st.NoContext:
				fmt.Fprintln(out, "\nno relevant schema found")
				return nil
			}
			fmt.Fprintf(out, "\n%s\n\n", st.SQL)
			if st.ExecFailed {
				return fmt.Errorf("query failed after %d repairs: %s", st.Retries, st.Error)
			}
			printTable(out, st.Columns, st.Rows)
			return nil
		},
	}
	cmd.Flags().Int("limit", sqlexec.DefaultLimit, "maximum number of rows")
	cmd.Flags().Bool("draft", false, "only synthesize the query, do not classify or run it")
	return cmd
}

func stageDetail(stage pipeline.Stage, s pipeline.State) string {
	switch stage {
	case pipeline.StageClassify:
		return fmt.Sprintf(" (in domain: %t, confidence %.2f)", !s.NotChembl, s.ChemblConfidence)
	case pipeline.StageRetrieve:
		names := make([]string, len(s.StructuredTables))
		for i, t := range s.StructuredTables {
			names[i] = t.Table
		}
		return " (" + strings.Join(names, ", ") + ")"
	case pipeline.StageExecute, pipeline.StageRepair:
		if s.ExecFailed {
			return " (failed: " + s.Error + ")"
		}
		return fmt.Sprintf(" (%d rows)", len(s.Rows))
	}
	return ""
}
