// Package pipeline runs extraction over a single document.
//
// Two methods are provided. OneStep sends page images and the extraction
// prompt to a vision model in one call. TwoStep transcribes the pages first
// and then asks a text model to extract JSON from the transcription.
//
// Both can run in quick mode, loading and releasing models on every call,
// or share pre-loaded Handles across many documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackzampolin/docex/internal/document"
	"github.com/jackzampolin/docex/internal/llmcall"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
)

// Method names.
const (
	MethodOneStep = "one_step"
	MethodTwoStep = "two_step"
)

// Runner extracts JSON text from one input document.
type Runner interface {
	// Name returns the method name (e.g., "one_step").
	Name() string

	// Run returns the model output for inputPath with surrounding whitespace removed.
	Run(ctx context.Context, inputPath, task string) (string, error)
}

// Deps are the collaborators shared by both methods.
type Deps struct {
	Loader    *Loader
	Documents *document.Loader
	Prompts   *prompts.Builder
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// checkInput maps a missing input to NotFoundError.
func checkInput(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &NotFoundError{Path: path}
		}
		return fmt.Errorf("failed to stat input: %w", err)
	}
	return nil
}

// responseFormat returns the structured output request for task when JSON
// mode is on, or nil.
func (d Deps) responseFormat(task string) ([]GenerateOption, error) {
	if !d.Loader.Settings().JSONMode {
		return nil, nil
	}
	s, err := d.Prompts.Schemas().Load(task)
	if err != nil {
		return nil, err
	}
	rf, err := providers.JSONSchemaFormat(task, s.JSONSchema())
	if err != nil {
		return nil, err
	}
	return []GenerateOption{WithResponseFormat(rf)}, nil
}

func withLabels(ctx context.Context, method, input string) context.Context {
	if l := llmcall.LabelsFrom(ctx); l.Method != "" {
		return ctx
	}
	return llmcall.WithLabels(ctx, llmcall.Labels{Method: method, Input: input})
}
