package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered documents",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.ListDLQ(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead-letter queue is empty.")
			return nil
		}

		formatDLQ(os.Stdout, entries)
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reprocess dead-letter entries that are due",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		sum, err := env.Orchestrator.RetryDeadLetters(ctx, env.Store, limit)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Attempted: %d  Recovered: %d  Requeued: %d  Exhausted: %d\n",
			sum.Attempted, sum.Recovered, sum.Requeued, sum.Exhausted)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().Int("limit", 50, "max entries to show")
	dlqRetryCmd.Flags().Int("limit", 20, "max entries to retry")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
