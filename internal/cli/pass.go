package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsbot/internal/broadcast"
)

type passArticle struct {
	ID        int64   `json:"id"`
	Revision  int     `json:"revision"`
	Source    string  `json:"source"`
	Eligible  int     `json:"eligible"`
	Attempted int     `json:"attempted"`
	Sent      int     `json:"sent"`
	Published bool    `json:"published"`
	Missing   []int64 `json:"missing,omitempty"`
	LastError string  `json:"last_error,omitempty"`
}

type passResult struct {
	Skipped               bool          `json:"skipped"`
	SkipReason            string        `json:"skip_reason,omitempty"`
	Aborted               bool          `json:"aborted"`
	Duration              string        `json:"duration"`
	ArticlesProcessed     int           `json:"articles_processed"`
	ArticlesStalled       int           `json:"articles_stalled"`
	MessagesAttempted     int           `json:"messages_attempted"`
	Successes             int           `json:"successes"`
	Failures              int           `json:"failures"`
	Deferred              int           `json:"deferred"`
	AlreadyDelivered      int           `json:"already_delivered"`
	SubscriptionsDisabled int           `json:"subscriptions_disabled"`
	ArticlesPublished     int           `json:"articles_published"`
	StorageErrors         int           `json:"storage_errors"`
	Error                 string        `json:"error,omitempty"`
	Articles              []passArticle `json:"articles"`
}

func newPassResult(s broadcast.PassStats, err error) passResult {
	r := passResult{
		Skipped:               s.Skipped,
		SkipReason:            s.SkipReason,
		Aborted:               s.Aborted,
		Duration:              s.Duration().Round(time.Millisecond).String(),
		ArticlesProcessed:     s.ArticlesProcessed,
		ArticlesStalled:       s.ArticlesStalled,
		MessagesAttempted:     s.MessagesAttempted,
		Successes:             s.Successes,
		Failures:              s.Failures,
		Deferred:              s.Deferred,
		AlreadyDelivered:      s.AlreadyDelivered,
		SubscriptionsDisabled: s.SubscriptionsDisabled,
		ArticlesPublished:     s.ArticlesPublished,
		StorageErrors:         s.StorageErrors,
		Articles:              make([]passArticle, 0, len(s.Articles)),
	}
	if err != nil {
		r.Error = err.Error()
	}
	for _, a := range s.Articles {
		r.Articles = append(r.Articles, passArticle{
			ID: a.ArticleID, Revision: a.Revision, Source: a.Source,
			Eligible: a.Eligible, Attempted: a.Attempted, Sent: a.Sent,
			Published: a.Published, Missing: a.Missing, LastError: a.LastError,
		})
	}
	return r
}

func NewPassCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pass",
		Short: "Run one broadcast pass now and print its statistics",
		Long: `Run one broadcast pass against the configured storage and gateway.

Do not run this while the daemon is broadcasting from the same database;
passes only exclude each other within one process.

Exit codes:
  0 - pass ran (deliveries may still be deferred)
  1 - pass was skipped or aborted
  2 - config, storage or gateway could not be opened`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.engine(cmd, true)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())

			stats, passErr := eng.RunPass(cmd.Context())
			res := newPassResult(stats, passErr)
			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printPass(cmd, res)
			}

			switch {
			case errors.Is(passErr, broadcast.ErrPreconditionFailed):
				return WrapExitError(ExitFailure, "pass skipped", passErr)
			case passErr != nil:
				return WrapExitError(ExitFailure, "pass aborted", passErr)
			}
			return nil
		},
	}
}

func printPass(cmd *cobra.Command, r passResult) {
	w := cmd.OutOrStdout()
	if r.Skipped {
		fmt.Fprintf(w, "pass skipped: %s\n", r.SkipReason)
		return
	}
	fmt.Fprintf(w, "articles=%d stalled=%d attempted=%d sent=%d failed=%d deferred=%d published=%d disabled=%d took=%s\n",
		r.ArticlesProcessed, r.ArticlesStalled, r.MessagesAttempted, r.Successes, r.Failures, r.Deferred,
		r.ArticlesPublished, r.SubscriptionsDisabled, r.Duration)
	if len(r.Articles) == 0 {
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ARTICLE\tREV\tSOURCE\tELIGIBLE\tSENT\tPUBLISHED\tLAST ERROR")
	for _, a := range r.Articles {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%t\t%s\n", a.ID, a.Revision, a.Source, a.Eligible, a.Sent, a.Published, a.LastError)
	}
	_ = tw.Flush()
	if r.Aborted {
		fmt.Fprintln(w, "pass aborted before finishing")
	}
}
