package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type subscriberRow struct {
	RecipientID    int64    `json:"recipient_id"`
	ChatType       string   `json:"chat_type"`
	State          string   `json:"state"`
	Sources        []string `json:"sources,omitempty"`
	DisabledReason string   `json:"disabled_reason,omitempty"`
	SubscribedAt   string   `json:"subscribed_at,omitempty"`
	ConfirmedAt    string   `json:"confirmed_at,omitempty"`
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func NewSubscribersCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "List subscriptions with their lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.engine(cmd, false)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			subs, err := eng.Store.ListSubscriptions(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "list subscriptions", err)
			}
			now := eng.Clock.Now()
			rows := make([]subscriberRow, 0, len(subs))
			for _, s := range subs {
				rows = append(rows, subscriberRow{
					RecipientID:    s.RecipientID,
					ChatType:       s.ChatType,
					State:          string(s.State(now)),
					Sources:        s.Filter.Sources,
					DisabledReason: s.DisabledReason,
					SubscribedAt:   fmtTime(s.SubscribedAt),
					ConfirmedAt:    fmtTime(s.ConfirmedAt),
				})
			}

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "RECIPIENT\tTYPE\tSTATE\tFILTER\tREASON")
			for i, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.RecipientID, r.ChatType, r.State, subs[i].Filter.String(), r.DisabledReason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 = all)")
	return cmd
}
