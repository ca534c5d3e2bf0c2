package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/pipeline"
)

var (
	runMethod string
	runInput  string
	runTask   string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract JSON from one document",
	Long: `Run one extraction method on a single page image or PDF.

The model output is printed to stdout, or written to --output.

Examples:
  docex run --method one_step --input receipt.png --task receipt
  docex run --method two_step --input stmt.pdf --task bank_stmt --output stmt.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}

		runner, err := pipeline.NewDefaultRegistry(a.pipelineDeps(ctx), nil).Get(runMethod)
		if err != nil {
			return err
		}

		out, err := runner.Run(ctx, runInput, runTask)
		if err != nil {
			return err
		}

		if runOutput == "" {
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}

		path, err := filepath.Abs(runOutput)
		if err != nil {
			return fmt.Errorf("failed to resolve output path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote output to %s\n", path)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runMethod, "method", pipeline.MethodOneStep, "extraction method: one_step or two_step")
	runCmd.Flags().StringVar(&runInput, "input", "", "input image or PDF")
	runCmd.Flags().StringVar(&runTask, "task", "", "task name from the schema document")
	runCmd.Flags().StringVar(&runOutput, "output", "", "write the output to this file instead of stdout")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(runCmd)
}
