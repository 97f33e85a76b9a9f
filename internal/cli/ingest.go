package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"newsbot/internal/ingest"
)

type feedResult struct {
	Feed      string `json:"feed"`
	Items     int    `json:"items"`
	Created   int    `json:"created"`
	Reopened  int    `json:"reopened"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

func NewIngestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Poll every configured feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.engine(cmd, false)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			rep, pollErr := eng.Ingest.Poll(cmd.Context())
			if errors.Is(pollErr, ingest.ErrNoFeeds) {
				return WrapExitError(ExitCommandError, "ingest", pollErr)
			}

			out := make([]feedResult, 0, len(rep.Feeds))
			for _, f := range rep.Feeds {
				r := feedResult{Feed: f.Feed, Items: f.Items, Created: f.Created, Reopened: f.Reopened, Unchanged: f.Unchanged, Skipped: f.Skipped}
				if f.Err != nil {
					r.Error = f.Err.Error()
				}
				out = append(out, r)
			}

			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "FEED\tITEMS\tCREATED\tREOPENED\tUNCHANGED\tSKIPPED\tERROR")
				for _, r := range out {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", r.Feed, r.Items, r.Created, r.Reopened, r.Unchanged, r.Skipped, r.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			if pollErr != nil {
				return WrapExitError(ExitFailure, "some feeds failed", pollErr)
			}
			return nil
		},
	}
}
