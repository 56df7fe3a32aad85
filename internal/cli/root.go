package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/chembl-sql/pkg/logger"
	"github.com/malbeclabs/chembl-sql/pkg/schema"
	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chembl-sql",
		Short: "Ask questions of the ChEMBL SQLite dataset in natural language.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().String("sqlite-path", sqlexec.PathFromEnv(sqlexec.DefaultPath), "path to the ChEMBL SQLite file")
	rootCmd.PersistentFlags().String("index-path", envOr(schema.DefaultIndexPathEnv, schema.DefaultIndexPath), "path to the schema embedding index")
	rootCmd.PersistentFlags().String("embedding-model", envOr("EMBEDDING_MODEL", schema.DefaultEmbeddingModel), "Gemini embedding model")

	rootCmd.AddCommand(
		NewIndexCmd().Command(),
		NewAskCmd().Command(),
		NewExecCmd().Command(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	// Logs go to stderr so result tables on stdout stay clean.
	return logger.NewWithWriter(os.Stderr, verbose), nil
}
