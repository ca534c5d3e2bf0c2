package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows live tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenAIAPIKey  string
	GeminiAPIKey  string
	MistralAPIKey string
	OllamaURL     string
	OllamaModel   string
}

// LoadTestConfig loads provider settings from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		MistralAPIKey: os.Getenv("MISTRAL_API_KEY"),
		OllamaURL:     os.Getenv("OLLAMA_HOST"),
		OllamaModel:   os.Getenv("OLLAMA_MODEL"),
	}
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasGemini returns true if a Gemini API key is configured.
func (c TestConfig) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// HasMistral returns true if a Mistral API key is configured.
func (c TestConfig) HasMistral() bool {
	return c.MistralAPIKey != ""
}

// HasOllama returns true if a local Ollama model is configured.
func (c TestConfig) HasOllama() bool {
	return c.OllamaModel != ""
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that are configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		OCRProviders: make(map[string]OCRProviderConfig),
		LLMProviders: make(map[string]LLMProviderConfig),
	}

	if c.HasOpenAI() {
		cfg.LLMProviders["openai"] = LLMProviderConfig{Type: "openai", APIKey: c.OpenAIAPIKey, Enabled: true}
	}
	if c.HasGemini() {
		cfg.LLMProviders["gemini"] = LLMProviderConfig{Type: "gemini", APIKey: c.GeminiAPIKey, Enabled: true}
	}
	if c.HasOllama() {
		cfg.LLMProviders["ollama"] = LLMProviderConfig{Type: "ollama", BaseURL: c.OllamaURL, Model: c.OllamaModel, Enabled: true}
	}
	if c.HasMistral() {
		cfg.OCRProviders["mistral"] = OCRProviderConfig{Type: "mistral-ocr", APIKey: c.MistralAPIKey, Enabled: true}
	}

	return cfg
}
