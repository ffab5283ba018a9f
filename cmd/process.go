package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process <path> [path...]",
	Short: "Process one or more invoice documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, _ := cmd.Flags().GetBool("summary")

		for _, path := range args {
			if _, err := os.Stat(path); err != nil {
				return eris.Wrapf(err, "process: %s", path)
			}
			res, err := env.Orchestrator.Process(ctx, path)
			if err != nil {
				return eris.Wrapf(err, "process: %s", path)
			}
			zap.L().Debug("processed document", zap.String("path", path), zap.String("key", res.Key))

			if summary {
				formatResult(os.Stdout, res)
				continue
			}
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	processCmd.Flags().Bool("summary", false, "print a short summary instead of the JSON result")
	rootCmd.AddCommand(processCmd)
}
