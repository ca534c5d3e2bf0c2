package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/docex/internal/llmcall"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
)

// Settings selects the providers and generation parameters for a run.
// An empty model name selects the provider's configured model.
type Settings struct {
	VisionProvider string
	VisionModel    string
	TextProvider   string
	TextModel      string
	OCRProvider    string // Empty: transcribe with the vision model

	MaxTokens   int
	Temperature float64
	JSONMode    bool // Request schema-constrained JSON output

	LoadAttempts int           // Readiness checks before giving up on a provider
	LoadDelay    time.Duration // Base delay between readiness checks
}

// DefaultSettings returns the default pipeline settings.
func DefaultSettings() Settings {
	return Settings{
		VisionProvider: "openai",
		TextProvider:   "openai",
		MaxTokens:      1024,
		LoadAttempts:   3,
		LoadDelay:      time.Second,
	}
}

// Loader turns configured provider names into model handles. A handle is
// ready to use: loading runs the provider's readiness check.
type Loader struct {
	registry *providers.Registry
	settings Settings
	recorder *llmcall.Recorder
	logger   *slog.Logger
}

// NewLoader creates a loader over a provider registry.
func NewLoader(registry *providers.Registry, settings Settings, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.LoadAttempts < 1 {
		settings.LoadAttempts = 1
	}
	return &Loader{
		registry: registry,
		settings: settings,
		logger:   logger,
	}
}

// WithRecorder returns a copy of the loader whose handles record every call.
func (l *Loader) WithRecorder(r *llmcall.Recorder) *Loader {
	c := *l
	c.recorder = r
	return &c
}

// Settings returns the loader's settings.
func (l *Loader) Settings() Settings {
	return l.settings
}

// LoadVision returns a handle on the configured vision model.
func (l *Loader) LoadVision(ctx context.Context) (*Model, error) {
	return l.loadModel(ctx, "vision", l.settings.VisionProvider, l.settings.VisionModel)
}

// LoadText returns a handle on the configured text model.
func (l *Loader) LoadText(ctx context.Context) (*Model, error) {
	return l.loadModel(ctx, "text", l.settings.TextProvider, l.settings.TextModel)
}

// LoadOCR returns a transcription handle. With no OCR provider configured
// it loads the vision model and prompts it for a transcription.
func (l *Loader) LoadOCR(ctx context.Context) (OCR, error) {
	if l.settings.OCRProvider == "" {
		m, err := l.LoadVision(ctx)
		if err != nil {
			return nil, err
		}
		return OCRFromModel(m), nil
	}

	provider, err := l.registry.GetOCR(l.settings.OCRProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to load OCR provider: %w", err)
	}
	if err := l.waitReady(ctx, "ocr", l.settings.OCRProvider, provider); err != nil {
		return nil, err
	}
	l.logger.Debug("loaded model", "stage", "ocr", "provider", l.settings.OCRProvider)
	return &providerOCR{
		name:     l.settings.OCRProvider,
		provider: provider,
		recorder: l.recorder,
		logger:   l.logger,
	}, nil
}

func (l *Loader) loadModel(ctx context.Context, stage, providerName, model string) (*Model, error) {
	client, err := l.registry.GetLLM(providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s model: %w", stage, err)
	}
	if err := l.waitReady(ctx, stage, providerName, client); err != nil {
		return nil, err
	}
	if dm, ok := client.(providers.DefaultModeler); ok && model == "" {
		model = dm.Model()
	}
	l.logger.Debug("loaded model", "stage", stage, "provider", providerName, "model", model)

	return &Model{
		stage:       stage,
		provider:    providerName,
		model:       model,
		client:      client,
		maxTokens:   l.settings.MaxTokens,
		temperature: l.settings.Temperature,
		recorder:    l.recorder,
		logger:      l.logger,
	}, nil
}

// waitReady runs the provider's health check, retrying while the backend
// comes up (a local model server may still be loading weights).
func (l *Loader) waitReady(ctx context.Context, stage, name string, p any) error {
	hc, ok := p.(providers.HealthChecker)
	if !ok {
		return nil
	}
	err := retry.Do(
		func() error { return hc.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(l.settings.LoadAttempts)),
		retry.Delay(l.settings.LoadDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn("provider not ready", "stage", stage, "provider", name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to load %s model %s: %w", stage, name, err)
	}
	return nil
}

// Model is a loaded chat model handle.
type Model struct {
	stage       string
	provider    string
	model       string
	client      providers.LLMClient
	maxTokens   int
	temperature float64
	recorder    *llmcall.Recorder
	logger      *slog.Logger

	mu       sync.RWMutex
	released bool
}

// Name returns "provider/model".
func (m *Model) Name() string {
	if m.model == "" {
		return m.provider
	}
	return m.provider + "/" + m.model
}

// GenerateOption adjusts a single Generate call.
type GenerateOption func(*providers.ChatRequest)

// WithResponseFormat requests structured output.
func WithResponseFormat(rf *providers.ResponseFormat) GenerateOption {
	return func(req *providers.ChatRequest) {
		req.ResponseFormat = rf
	}
}

// Generate runs inference and returns the output with surrounding
// whitespace removed. Calls are not retried.
func (m *Model) Generate(ctx context.Context, msgs []providers.Message, opts ...GenerateOption) (string, error) {
	return m.generate(ctx, m.stage, msgs, opts...)
}

func (m *Model) generate(ctx context.Context, stage string, msgs []providers.Message, opts ...GenerateOption) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.released {
		return "", ErrReleased
	}

	req := &providers.ChatRequest{
		Messages:    msgs,
		Model:       m.model,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		RequestID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(req)
	}

	labels := llmcall.LabelsFrom(ctx)
	m.logger.Debug("generating",
		"request_id", req.RequestID,
		"stage", stage,
		"model", m.Name(),
		"method", labels.Method,
		"messages", len(msgs))

	result, err := m.client.Chat(ctx, req)
	m.recorder.Record(result, llmcall.RecordOptions{
		Labels:      labels,
		Stage:       stage,
		PromptHash:  prompts.ShortHash(promptText(msgs)),
		Temperature: m.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate with %s: %w", m.Name(), err)
	}

	if result.ErrorType == "schema_mismatch" {
		m.logger.Warn("structured output did not match schema",
			"request_id", req.RequestID, "error", result.ErrorMessage)
	}
	m.logger.Debug("generated",
		"request_id", req.RequestID,
		"stage", stage,
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens,
		"duration", result.ExecutionTime)

	return strings.TrimSpace(result.Content), nil
}

// Release frees the handle and unloads the model from a local server.
// Further Generate calls fail with ErrReleased. Releasing twice is a no-op.
func (m *Model) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	unload(m.client, m.Name(), m.logger)
	m.logger.Debug("released model", "stage", m.stage, "model", m.Name())
}

// unloadTimeout bounds the unload request made on Release.
const unloadTimeout = 30 * time.Second

func unload(p any, name string, logger *slog.Logger) {
	u, ok := p.(providers.Unloader)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := u.Unload(ctx); err != nil {
		logger.Warn("failed to unload model", "model", name, "error", err)
	}
}

func promptText(msgs []providers.Message) string {
	parts := make([]string, len(msgs))
	for i, msg := range msgs {
		parts[i] = msg.Role + ": " + msg.Content
	}
	return strings.Join(parts, "\n")
}

// OCR transcribes page images to text.
type OCR interface {
	Name() string
	// Transcribe returns the text of each page, joined by a blank line.
	Transcribe(ctx context.Context, pages [][]byte) (string, error)
	Release()
}

// OCRFromModel wraps a vision model handle as a transcriber.
// Releasing the wrapper releases the model.
func OCRFromModel(m *Model) OCR {
	return &modelOCR{model: m}
}

type modelOCR struct {
	model *Model
}

func (o *modelOCR) Name() string { return o.model.Name() }

func (o *modelOCR) Release() { o.model.Release() }

func (o *modelOCR) Transcribe(ctx context.Context, pages [][]byte) (string, error) {
	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		text, err := o.model.generate(ctx, "ocr", []providers.Message{
			{Role: "user", Content: prompts.OCRPrompt, Images: [][]byte{page}},
		})
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n\n"), nil
}

type providerOCR struct {
	name     string
	provider providers.OCRProvider
	recorder *llmcall.Recorder
	logger   *slog.Logger

	mu       sync.RWMutex
	released bool
}

func (o *providerOCR) Name() string { return o.name }

func (o *providerOCR) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return
	}
	o.released = true
	unload(o.provider, o.name, o.logger)
}

func (o *providerOCR) Transcribe(ctx context.Context, pages [][]byte) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.released {
		return "", ErrReleased
	}

	labels := llmcall.LabelsFrom(ctx)
	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		id := uuid.New().String()
		result, err := o.provider.ProcessImage(ctx, page, i+1)
		if result == nil && err != nil {
			result = &providers.OCRResult{Provider: o.provider.Name(), ErrorMessage: err.Error()}
		}
		o.recorder.RecordOCR(result, llmcall.RecordOptions{
			Labels:    labels,
			RequestID: id,
			Stage:     "ocr",
		})
		if err != nil {
			return "", fmt.Errorf("failed to transcribe page %d with %s: %w", i+1, o.name, err)
		}
		o.logger.Debug("transcribed page",
			"request_id", id,
			"provider", o.name,
			"page", i+1,
			"chars", len(result.Text),
			"duration", result.ExecutionTime)
		texts = append(texts, strings.TrimSpace(result.Text))
	}
	return strings.Join(texts, "\n\n"), nil
}

// Handles are shared model handles for running many documents.
type Handles struct {
	Vision *Model
	OCR    OCR
	Text   *Model
}

// LoadHandles loads every model a full evaluation needs. The vision handle
// is shared with OCR when no OCR provider is configured, and with text
// extraction when both name the same provider and model.
func (l *Loader) LoadHandles(ctx context.Context) (*Handles, error) {
	h := &Handles{}

	vision, err := l.LoadVision(ctx)
	if err != nil {
		return nil, err
	}
	h.Vision = vision

	if l.settings.OCRProvider == "" {
		h.OCR = OCRFromModel(vision)
	} else if h.OCR, err = l.LoadOCR(ctx); err != nil {
		h.Release()
		return nil, err
	}

	if l.settings.TextProvider == l.settings.VisionProvider && l.settings.TextModel == l.settings.VisionModel {
		h.Text = vision
	} else if h.Text, err = l.LoadText(ctx); err != nil {
		h.Release()
		return nil, err
	}

	return h, nil
}

// Release frees every handle.
func (h *Handles) Release() {
	if h.OCR != nil {
		h.OCR.Release()
	}
	if h.Text != nil {
		h.Text.Release()
	}
	if h.Vision != nil {
		h.Vision.Release()
	}
}
