package providers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get LLM", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()

		r.RegisterLLM("test-llm", mock)

		client, err := r.GetLLM("test-llm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		if client != mock {
			t.Error("got different client than registered")
		}
	})

	t.Run("register and get OCR", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockOCRProvider()

		r.RegisterOCR("test-ocr", mock)

		provider, err := r.GetOCR("test-ocr")
		if err != nil {
			t.Fatalf("GetOCR() error = %v", err)
		}
		if provider != mock {
			t.Error("got different provider than registered")
		}
	})

	t.Run("get nonexistent LLM", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.GetLLM("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent LLM")
		}
	})

	t.Run("get nonexistent OCR", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.GetOCR("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent OCR")
		}
	})

	t.Run("list providers", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("llm1", NewMockClient())
		r.RegisterLLM("llm2", NewMockClient())
		r.RegisterOCR("ocr1", NewMockOCRProvider())

		if diff := cmp.Diff([]string{"llm1", "llm2"}, r.ListLLM()); diff != "" {
			t.Errorf("ListLLM() mismatch (-want +got):\n%s", diff)
		}

		ocrList := r.ListOCR()
		if len(ocrList) != 1 {
			t.Errorf("ListOCR() returned %d items, want 1", len(ocrList))
		}
	})

	t.Run("has providers", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("my-llm", NewMockClient())
		r.RegisterOCR("my-ocr", NewMockOCRProvider())

		if !r.HasLLM("my-llm") {
			t.Error("HasLLM() = false for registered LLM")
		}
		if r.HasLLM("other-llm") {
			t.Error("HasLLM() = true for unregistered LLM")
		}
		if !r.HasOCR("my-ocr") {
			t.Error("HasOCR() = false for registered OCR")
		}
		if r.HasOCR("other-ocr") {
			t.Error("HasOCR() = true for unregistered OCR")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func(n int) {
				defer wg.Done()
				r.RegisterLLM("concurrent-llm", NewMockClient())
			}(i)
			go func(n int) {
				defer wg.Done()
				r.GetLLM("concurrent-llm") // May fail, that's ok
			}(i)
		}
		wg.Wait()
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("registers providers from config", func(t *testing.T) {
		r := NewRegistryFromConfig(ctx, RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openai": {
					Type:    "openai",
					Model:   "gpt-4o-mini",
					APIKey:  "test-openai-key",
					Enabled: true,
				},
				"local": {
					Type:    "ollama",
					Model:   "qwen2.5:7b",
					Enabled: true,
				},
				"gemini": {
					Type:    "gemini",
					APIKey:  "test-gemini-key",
					Enabled: true,
				},
			},
			OCRProviders: map[string]OCRProviderConfig{
				"mistral": {
					Type:    "mistral-ocr",
					APIKey:  "test-mistral-key",
					Enabled: true,
				},
			},
		}, logger)

		if diff := cmp.Diff([]string{"gemini", "local", "openai"}, r.ListLLM()); diff != "" {
			t.Errorf("ListLLM() mismatch (-want +got):\n%s", diff)
		}
		if !r.HasOCR("mistral") {
			t.Error("expected mistral to be registered")
		}
	})

	t.Run("skips disabled providers", func(t *testing.T) {
		r := NewRegistryFromConfig(ctx, RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openai": {Type: "openai", APIKey: "test-key", Enabled: false},
			},
			OCRProviders: map[string]OCRProviderConfig{
				"mistral": {Type: "mistral-ocr", APIKey: "test-key", Enabled: false},
			},
		}, logger)

		if r.HasLLM("openai") {
			t.Error("disabled provider should not be registered")
		}
		if r.HasOCR("mistral") {
			t.Error("disabled provider should not be registered")
		}
	})

	t.Run("skips providers without API keys", func(t *testing.T) {
		r := NewRegistryFromConfig(ctx, RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"openai": {Type: "openai", Enabled: true},
				"gemini": {Type: "gemini", Enabled: true},
			},
			OCRProviders: map[string]OCRProviderConfig{
				"mistral": {Type: "mistral-ocr", Enabled: true},
			},
		}, logger)

		if len(r.ListLLM()) != 0 {
			t.Errorf("providers without API keys should not be registered, got %v", r.ListLLM())
		}
		if r.HasOCR("mistral") {
			t.Error("provider without API key should not be registered")
		}
	})

	t.Run("self-hosted openai-compatible server needs no key", func(t *testing.T) {
		r := NewRegistryFromConfig(ctx, RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"vllm": {Type: "openai", BaseURL: "http://localhost:8000/v1", Model: "Qwen2-VL", Enabled: true},
			},
		}, logger)

		client, err := r.GetLLM("vllm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		oc, ok := client.(*OpenAIClient)
		if !ok {
			t.Fatalf("expected *OpenAIClient, got %T", client)
		}
		if oc.Model() != "Qwen2-VL" {
			t.Errorf("Model() = %s, want Qwen2-VL", oc.Model())
		}
	})

	t.Run("skips unknown types", func(t *testing.T) {
		r := NewRegistryFromConfig(ctx, RegistryConfig{
			LLMProviders: map[string]LLMProviderConfig{
				"x": {Type: "carrier-pigeon", APIKey: "k", Enabled: true},
			},
		}, logger)
		if r.HasLLM("x") {
			t.Error("unknown provider type should not be registered")
		}
	})
}
