package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/review"
	"github.com/sells-group/invoice-cli/pkg/notion"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work with the external review queue",
}

var reviewSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply decisions made in the Notion review database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "review-sync")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		q := review.NewNotionQueue(notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit)), cfg.Notion.ReviewDB, review.NewDesk(st))
		sum, err := q.SyncDecisions(ctx)
		if err != nil {
			return eris.Wrap(err, "review sync")
		}

		fmt.Fprintf(os.Stdout, "Approved: %d  Rejected: %d  Failed: %d\n", sum.Approved, sum.Rejected, sum.Failed)
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewSyncCmd)
	rootCmd.AddCommand(reviewCmd)
}
