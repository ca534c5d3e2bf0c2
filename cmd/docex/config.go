package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/api"
	"github.com/jackzampolin/docex/internal/config"
	"github.com/jackzampolin/docex/internal/home"
	"github.com/jackzampolin/docex/internal/schema"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage docex configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config and schema document to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if err := writeUnlessExists(h.ConfigPath(), h.ConfigExists(), config.WriteDefault); err != nil {
			return err
		}
		fmt.Fprintf(out, "Config:  %s\n", h.ConfigPath())

		if err := writeUnlessExists(h.SchemaPath(), h.SchemaExists(), schema.WriteDefault); err != nil {
			return err
		}
		fmt.Fprintf(out, "Schema:  %s\n", h.SchemaPath())
		return nil
	},
}

func writeUnlessExists(path string, exists bool, write func(string) error) error {
	if exists && !configInitForce {
		logger.Info("keeping existing file", "path", path)
		return nil
	}
	if exists {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to replace %s: %w", path, err)
		}
	}
	if err := write(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and DOCEX_*
environment variables are merged. API keys are shown as written, so
${ENV_VAR} references are not expanded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		if used := a.mgr.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "# %s\n", used)
		}
		return api.Output(a.cfg)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing files")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
