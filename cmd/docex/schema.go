package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/api"
	"github.com/jackzampolin/docex/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the extraction schema document",
}

type schemaListing struct {
	Source string   `json:"source" yaml:"source"`
	Tasks  []string `json:"tasks" yaml:"tasks"`
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tasks defined in the schema document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		tasks, err := a.schemas.Tasks()
		if err != nil {
			return err
		}
		return api.Output(schemaListing{Source: schemaSource(a.schemas), Tasks: tasks})
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Print the output shape for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		s, err := a.schemas.Load(args[0])
		if err != nil {
			return err
		}
		text, err := s.Render("  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a schema document (default: the configured one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			a, err := loadApp()
			if err != nil {
				return err
			}
			path = a.schemas.Path()
		}

		data := schema.DefaultDocument()
		if path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read schema document: %w", err)
			}
			data = b
		}
		if err := schema.ValidateDocument(data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", sourceName(path))
		return nil
	},
}

func schemaSource(s *schema.Store) string {
	return sourceName(s.Path())
}

func sourceName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func init() {
	schemaCmd.AddCommand(schemaListCmd, schemaShowCmd, schemaValidateCmd)
	rootCmd.AddCommand(schemaCmd)
}
