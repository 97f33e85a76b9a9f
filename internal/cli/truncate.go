package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"newsbot/internal/storage"
)

type truncateOptions struct {
	*RootOptions
	ResetSequences bool
	Yes            bool
}

type truncateResult struct {
	Tables         map[string]int64 `json:"tables"`
	ResetSequences bool             `json:"reset_sequences"`
}

func NewTruncateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &truncateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "truncate {deliveries|articles|subscriptions|all}...",
		Short: "Delete every row of the named tables",
		Long: `Delete every row of the named tables in one transaction.

Tables are cleared children first (deliveries, articles, subscriptions), so
"all" is always safe. --reset-sequences also restarts row ids at 1.

Examples:
  newsctl truncate deliveries --yes
  newsctl truncate all --reset-sequences --yes`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := storage.ParseTables(args...)
			if err != nil {
				return WrapExitError(ExitCommandError, "truncate", err)
			}
			if !opts.Yes {
				return NewExitError(ExitCommandError, fmt.Sprintf("refusing to truncate %v without --yes", tables))
			}

			eng, err := opts.engine(cmd, false)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			counts, err := eng.Store.Truncate(cmd.Context(), tables, opts.ResetSequences)
			if err != nil {
				return WrapExitError(ExitFailure, "truncate", err)
			}

			res := truncateResult{Tables: make(map[string]int64, len(tables)), ResetSequences: opts.ResetSequences}
			for _, t := range tables {
				res.Tables[string(t)] = counts[t]
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			for _, t := range tables {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows deleted\n", t, counts[t])
			}
			if opts.ResetSequences {
				fmt.Fprintln(cmd.OutOrStdout(), "id sequences reset")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.ResetSequences, "reset-sequences", false, "restart row ids at 1")
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm the deletion")
	return cmd
}
