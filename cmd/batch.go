package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/pipeline"
)

var (
	batchDir         string
	batchConcurrency int
	batchLimit       int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process every invoice document in a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		dir := batchDir
		if dir == "" {
			dir = cfg.Batch.InputDir
		}
		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}

		paths, err := pipeline.CollectInputs(dir, cfg.Batch.Patterns, batchLimit)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintf(os.Stderr, "No documents found in %s\n", dir)
			return nil
		}

		sum := pipeline.RunBatch(ctx, env.Orchestrator, paths, concurrency)
		formatBatchSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "input directory (default from config)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "documents processed at once (default from config)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max documents to process (0 = all)")
	rootCmd.AddCommand(batchCmd)
}
