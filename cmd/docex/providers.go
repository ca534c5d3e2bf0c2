package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/api"
	"github.com/jackzampolin/docex/internal/providers"
)

var providersTimeout time.Duration

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured model providers",
}

type providerStatus struct {
	Name   string `json:"name" yaml:"name"`
	Kind   string `json:"kind" yaml:"kind"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

var providersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the health check of every enabled provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		reg := a.providers(ctx)

		var statuses []providerStatus
		for _, name := range reg.ListLLM() {
			client, _ := reg.GetLLM(name)
			statuses = append(statuses, checkProvider(ctx, name, "llm", client))
		}
		for _, name := range reg.ListOCR() {
			provider, _ := reg.GetOCR(name)
			statuses = append(statuses, checkProvider(ctx, name, "ocr", provider))
		}

		if err := api.Output(statuses); err != nil {
			return err
		}

		failed := 0
		for _, s := range statuses {
			if s.Status == "error" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d providers failed the health check", failed, len(statuses))
		}
		return nil
	},
}

func checkProvider(ctx context.Context, name, kind string, p any) providerStatus {
	s := providerStatus{Name: name, Kind: kind, Status: "ok"}

	hc, ok := p.(providers.HealthChecker)
	if !ok {
		s.Status = "unchecked"
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, providersTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		s.Status = "error"
		s.Error = err.Error()
	}
	return s
}

func init() {
	providersCheckCmd.Flags().DurationVar(&providersTimeout, "timeout", 15*time.Second, "per-provider timeout")
	providersCmd.AddCommand(providersCheckCmd)
	rootCmd.AddCommand(providersCmd)
}
