package pipeline

import (
	"context"
	"fmt"
)

// OneStep extracts JSON from page images with a single vision model call.
type OneStep struct {
	deps   Deps
	shared *Model
}

// NewOneStep creates a one-step pipeline in quick mode.
func NewOneStep(deps Deps) *OneStep {
	return &OneStep{deps: deps}
}

// WithModel returns a pipeline that reuses m instead of loading a model per call.
func (p *OneStep) WithModel(m *Model) *OneStep {
	return &OneStep{deps: p.deps, shared: m}
}

// Name returns the method name.
func (p *OneStep) Name() string {
	return MethodOneStep
}

// Run extracts task fields from the document at inputPath.
func (p *OneStep) Run(ctx context.Context, inputPath, task string) (string, error) {
	log := p.deps.logger()
	ctx = withLabels(ctx, MethodOneStep, inputPath)

	if err := checkInput(inputPath); err != nil {
		return "", err
	}
	// Validates the task before any model work.
	if _, err := p.deps.Prompts.BuildExtractionPrompt(task); err != nil {
		return "", err
	}
	opts, err := p.deps.responseFormat(task)
	if err != nil {
		return "", err
	}

	doc, err := p.deps.Documents.Load(ctx, inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	msgs, err := p.deps.Prompts.ExtractionMessages(task, doc.Images())
	if err != nil {
		return "", err
	}

	model := p.shared
	if model == nil {
		if model, err = p.deps.Loader.LoadVision(ctx); err != nil {
			return "", err
		}
		defer model.Release()
	}

	out, err := model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}

	log.Info("pipeline complete", "method", MethodOneStep, "input", inputPath, "pages", len(doc.Pages), "chars", len(out))
	return out, nil
}

var _ Runner = (*OneStep)(nil)
