package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrProviderNotFound is returned when a provider name is not registered.
var ErrProviderNotFound = errors.New("provider not found")

// Registry holds references to LLM clients and OCR providers.
// It supports config-driven instantiation and provides thread-safe access.
type Registry struct {
	mu           sync.RWMutex
	llmClients   map[string]LLMClient
	ocrProviders map[string]OCRProvider
	logger       *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients:   make(map[string]LLMClient),
		ocrProviders: make(map[string]OCRProvider),
		logger:       slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.logger != nil {
		r.logger.Debug("registered LLM client", "name", name)
	}
}

// RegisterOCR registers an OCR provider by name.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocrProviders[name] = provider
	if r.logger != nil {
		r.logger.Debug("registered OCR provider", "name", name)
	}
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("%w: LLM client %s", ErrProviderNotFound, name)
	}
	return client, nil
}

// GetOCR returns an OCR provider by name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.ocrProviders[name]
	if !ok {
		return nil, fmt.Errorf("%w: OCR provider %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListOCR returns all registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocrProviders))
	for name := range r.ocrProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// HasOCR checks if an OCR provider is registered.
func (r *Registry) HasOCR(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ocrProviders[name]
	return ok
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	// OCRProviders maps provider names to their config
	OCRProviders map[string]OCRProviderConfig

	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig
}

// OCRProviderConfig matches config.OCRProviderCfg with resolved API key.
type OCRProviderConfig struct {
	Type    string // "mistral-ocr"
	Model   string
	APIKey  string // Resolved API key
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type    string // "openai", "ollama", "gemini"
	Model   string // Default model
	APIKey  string // Resolved API key
	BaseURL string
	Timeout time.Duration
	Enabled bool
}

// needsKey reports whether a provider type requires an API key. Local
// backends and self-hosted OpenAI-compatible servers do not.
func (c LLMProviderConfig) needsKey() bool {
	switch c.Type {
	case "ollama":
		return false
	case "openai":
		return c.BaseURL == ""
	default:
		return true
	}
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Disabled providers and providers missing a required API key are skipped.
// A provider that fails to construct is logged and skipped.
func NewRegistryFromConfig(ctx context.Context, cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}

	for _, name := range sortedKeys(cfg.LLMProviders) {
		provCfg := cfg.LLMProviders[name]
		if !provCfg.Enabled {
			continue
		}
		if provCfg.needsKey() && provCfg.APIKey == "" {
			r.logger.Debug("skipping LLM provider without API key", "name", name, "type", provCfg.Type)
			continue
		}
		client, err := createLLMClient(ctx, provCfg)
		if err != nil {
			r.logger.Warn("failed to create LLM client", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		r.RegisterLLM(name, client)
	}

	for _, name := range sortedKeys(cfg.OCRProviders) {
		provCfg := cfg.OCRProviders[name]
		if !provCfg.Enabled {
			continue
		}
		if provCfg.APIKey == "" {
			r.logger.Debug("skipping OCR provider without API key", "name", name, "type", provCfg.Type)
			continue
		}
		provider, err := createOCRProvider(provCfg)
		if err != nil {
			r.logger.Warn("failed to create OCR provider", "name", name, "type", provCfg.Type, "error", err)
			continue
		}
		r.RegisterOCR(name, provider)
	}

	return r
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(ctx context.Context, cfg LLMProviderConfig) (LLMClient, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama":
		return NewOllamaClient(ctx, OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}

// createOCRProvider creates an OCR provider based on provider type.
func createOCRProvider(cfg OCRProviderConfig) (OCRProvider, error) {
	switch cfg.Type {
	case "mistral-ocr":
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown OCR provider type: %s", cfg.Type)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
