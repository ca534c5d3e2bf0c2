package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/api"
	"github.com/jackzampolin/docex/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "docex",
	Short: "Structured extraction from scanned documents with vision and text models",
	Long: `docex turns scanned receipts and bank statements into JSON.

Two extraction methods are available:
  - one_step: a vision model reads the page images and returns JSON
  - two_step: pages are transcribed first, then a text model extracts JSON

The eval command runs both methods over a labeled dataset and scores
field-level accuracy against gold JSON files.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docex/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docex home directory (default: ~/.docex)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "yaml", "output format for informational commands: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "warn", "log level: debug, info, warn or error",
	)

	// Set output format and logger before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := api.SetOutputFormat(outputFormat); err != nil {
			return err
		}
		level, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		// stderr keeps stdout parseable
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
