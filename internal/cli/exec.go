package cli

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/chembl-sql/pkg/sqlexec"
	"github.com/spf13/cobra"
)

type ExecCmd struct{}

func NewExecCmd() *ExecCmd {
	return &ExecCmd{}
}

func (c *ExecCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Run a read-only query through the safety gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd)
			if err != nil {
				return err
			}
			sqlitePath, err := cmd.Root().PersistentFlags().GetString("sqlite-path")
			if err != nil {
				return fmt.Errorf("failed to get sqlite-path flag: %w", err)
			}
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return fmt.Errorf("failed to get limit flag: %w", err)
			}

			executor, err := sqlexec.New(sqlexec.Config{
				Logger: log,
				Opener: &sqlexec.SQLiteOpener{Path: sqlitePath},
			})
			if err != nil {
				return err
			}
			res, err := executor.Execute(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			printTable(cmd.OutOrStdout(), res.Columns, res.Rows)
			return nil
		},
	}
	cmd.Flags().Int("limit", sqlexec.DefaultLimit, "maximum number of rows")
	return cmd
}
