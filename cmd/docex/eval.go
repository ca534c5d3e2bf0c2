package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/eval"
	"github.com/jackzampolin/docex/internal/jsontext"
)

var (
	evalDataset     string
	evalTask        string
	evalOutputDir   string
	evalConcurrency int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score both methods on a labeled dataset",
	Long: `Run one_step and two_step on every document under --dataset and score
each output against the sibling .json gold file, when one exists.

summary.json, report.json and calls.jsonl are written to --output-dir
(default: eval/outputs/YYYYMMDD_HHMMSS). The summary is also printed.

Examples:
  docex eval --dataset data/receipts --task receipt
  docex eval --dataset data/stmts --task bank_stmt --output-dir runs/stmts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}

		opts := a.cfg.EvalOptions()
		if cmd.Flags().Changed("concurrency") {
			opts.Concurrency = evalConcurrency
		}

		summary, err := eval.NewEvaluator(a.pipelineDeps(ctx), opts).RunEval(ctx, evalDataset, evalTask, evalOutputDir)
		if err != nil {
			return err
		}

		data, err := jsontext.MarshalIndent(summary, "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "", "dataset directory")
	evalCmd.Flags().StringVar(&evalTask, "task", "", "task name from the schema document")
	evalCmd.Flags().StringVar(&evalOutputDir, "output-dir", "", "directory for run files (default: timestamped under eval/outputs)")
	evalCmd.Flags().IntVar(&evalConcurrency, "concurrency", 1, "documents evaluated in parallel (overrides config)")
	_ = evalCmd.MarkFlagRequired("dataset")
	_ = evalCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(evalCmd)
}
