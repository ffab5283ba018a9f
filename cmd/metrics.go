package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/monitoring"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show pipeline health and evaluate alert rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "inspect")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookback, _ := cmd.Flags().GetInt("lookback")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(os.Stdout, snap)
		}
		formatMetrics(os.Stdout, snap, monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap))
		return nil
	},
}

func init() {
	metricsCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	metricsCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(metricsCmd)
}
