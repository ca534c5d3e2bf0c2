package pipeline

import (
	"context"
	"fmt"
)

// TwoStep transcribes the document, then extracts JSON from the text.
type TwoStep struct {
	deps Deps
	ocr  OCR
	text *Model
}

// NewTwoStep creates a two-step pipeline in quick mode.
func NewTwoStep(deps Deps) *TwoStep {
	return &TwoStep{deps: deps}
}

// WithHandles returns a pipeline that reuses the given handles.
// Either may be nil to keep loading that stage per call.
func (p *TwoStep) WithHandles(ocr OCR, text *Model) *TwoStep {
	return &TwoStep{deps: p.deps, ocr: ocr, text: text}
}

// Name returns the method name.
func (p *TwoStep) Name() string {
	return MethodTwoStep
}

// Run extracts task fields from the document at inputPath. In quick mode
// the transcription model is released before the text model is loaded, so
// at most one model is held at a time.
func (p *TwoStep) Run(ctx context.Context, inputPath, task string) (string, error) {
	log := p.deps.logger()
	ctx = withLabels(ctx, MethodTwoStep, inputPath)

	if err := checkInput(inputPath); err != nil {
		return "", err
	}
	if _, err := p.deps.Prompts.Schemas().Load(task); err != nil {
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

	rawText, err := p.transcribe(ctx, doc.Images())
	if err != nil {
		return "", err
	}
	log.Debug("ocr text", "input", inputPath, "chars", len(rawText), "text", rawText)

	msgs, err := p.deps.Prompts.BuildTextExtractionPrompt(task, rawText)
	if err != nil {
		return "", err
	}

	text := p.text
	if text == nil {
		if text, err = p.deps.Loader.LoadText(ctx); err != nil {
			return "", err
		}
		defer text.Release()
	}

	out, err := text.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}

	log.Info("pipeline complete", "method", MethodTwoStep, "input", inputPath, "pages", len(doc.Pages), "chars", len(out))
	return out, nil
}

func (p *TwoStep) transcribe(ctx context.Context, pages [][]byte) (string, error) {
	if p.ocr != nil {
		return p.ocr.Transcribe(ctx, pages)
	}

	ocr, err := p.deps.Loader.LoadOCR(ctx)
	if err != nil {
		return "", err
	}
	defer ocr.Release()
	return ocr.Transcribe(ctx, pages)
}

var _ Runner = (*TwoStep)(nil)
