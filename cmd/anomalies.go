package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Inspect and resolve detected anomalies",
}

var anomaliesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List anomaly records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		unresolved, _ := cmd.Flags().GetBool("unresolved")
		severity, _ := cmd.Flags().GetString("severity")
		limit, _ := cmd.Flags().GetInt("limit")

		records, err := st.ListAnomalies(ctx, store.AnomalyFilter{
			UnresolvedOnly: unresolved,
			Severity:       model.Severity(severity),
			Limit:          limit,
		})
		if err != nil {
			return eris.Wrap(err, "anomalies list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No anomalies found.")
			return nil
		}

		formatAnomalies(os.Stdout, records)
		return nil
	},
}

var anomaliesResolveCmd = &cobra.Command{
	Use:   "resolve <invoice-number>",
	Short: "Mark the anomalies of an invoice number as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		notes, _ := cmd.Flags().GetString("notes")
		if err := st.ResolveAnomaly(ctx, args[0], notes); err != nil {
			return eris.Wrapf(err, "anomalies resolve %s", args[0])
		}

		fmt.Fprintf(os.Stdout, "Resolved anomalies for %s\n", args[0])
		return nil
	},
}

func init() {
	anomaliesListCmd.Flags().Bool("unresolved", false, "only show unresolved records")
	anomaliesListCmd.Flags().String("severity", "", "filter by severity (low, medium, high)")
	anomaliesListCmd.Flags().Int("limit", 50, "max records to show")

	anomaliesResolveCmd.Flags().String("notes", "", "resolution notes")

	anomaliesCmd.AddCommand(anomaliesListCmd)
	anomaliesCmd.AddCommand(anomaliesResolveCmd)
	rootCmd.AddCommand(anomaliesCmd)
}
