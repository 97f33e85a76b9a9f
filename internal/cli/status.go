package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show row counts per table and pending articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.engine(cmd, false)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			st, err := eng.Store.Stats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read stats", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TABLE\tROWS\tDETAIL")
			fmt.Fprintf(tw, "articles\t%d\tpending=%d published=%d\n", st.Articles, st.PendingArticles, st.PublishedArticles)
			fmt.Fprintf(tw, "subscriptions\t%d\tactive=%d pending=%d disabled=%d\n", st.Subscriptions, st.ActiveSubs, st.PendingSubs, st.DisabledSubs)
			detail := ""
			for _, k := range slices.Sorted(maps.Keys(st.DeliveriesStatus)) {
				detail += fmt.Sprintf("%s=%d ", k, st.DeliveriesStatus[k])
			}
			fmt.Fprintf(tw, "deliveries\t%d\t%s\n", st.Deliveries, detail)
			return tw.Flush()
		},
	}
}
