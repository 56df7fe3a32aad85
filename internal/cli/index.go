package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/spf13/cobra"
)

type IndexCmd struct{}

func NewIndexCmd() *IndexCmd {
	return &IndexCmd{}
}

func (c *IndexCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed a schema corpus into the retrieval index",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			indexPath, err := cmd.Root().PersistentFlags().GetString("index-path")
			if err != nil {
				return fmt.Errorf("failed to get index-path flag: %w", err)
			}
			model, err := cmd.Root().PersistentFlags().GetString("embedding-model")
			if err != nil {
				return fmt.Errorf("failed to get embedding-model flag: %w", err)
			}
			corpusPath, err := cmd.Flags().GetString("corpus")
			if err != nil {
				return fmt.Errorf("failed to get corpus flag: %w", err)
			}
			concurrency, err := cmd.Flags().GetInt("concurrency")
			if err != nil {
				return fmt.Errorf("failed to get concurrency flag: %w", err)
			}
			batchSize, err := cmd.Flags().GetInt("batch-size")
			if err != nil {
				return fmt.Errorf("failed to get batch-size flag: %w", err)
			}

			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return errors.New("GEMINI_API_KEY is required")
			}

			corpus, err := schema.LoadCorpusFile(corpusPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			embedder, err := schema.NewGenAIEmbedder(ctx, apiKey, model, schema.TaskRetrievalDocument)
			if err != nil {
				return err
			}
			index, err := schema.OpenIndex(ctx, schema.IndexConfig{
				Logger:   log,
				Path:     indexPath,
				Embedder: embedder,
			})
			if err != nil {
				return err
			}
			defer index.Close()

			builder, err := schema.NewBuilder(schema.BuilderConfig{
				Logger:      log,
				Embedder:    embedder,
				Writer:      index,
				BatchSize:   batchSize,
				Concurrency: concurrency,
			})
			if err != nil {
				return err
			}
			n, err := builder.Build(ctx, corpus)
			if err != nil {
				return err
			}
			total, err := index.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d tables (%d in index)\n", n, total)
			return nil
		},
	}
	cmd.Flags().String("corpus", "", "YAML file describing the schema tables")
	cmd.Flags().Int("concurrency", 4, "parallel embedding requests")
	cmd.Flags().Int("batch-size", 16, "tables per embedding request")
	_ = cmd.MarkFlagRequired("corpus")
	return cmd
}
