package config

import (
	"time"

	"github.com/jackzampolin/docex/internal/document"
	"github.com/jackzampolin/docex/internal/eval"
	"github.com/jackzampolin/docex/internal/pipeline"
)

// Config holds docex configuration.
// Stored at: ~/.docex/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Schema       SchemaCfg                 `mapstructure:"schema" yaml:"schema"`
	Document     DocumentCfg               `mapstructure:"document" yaml:"document"`
	Eval         EvalCfg                   `mapstructure:"eval" yaml:"eval"`
}

// LLMProviderCfg configures a chat model backend.
type LLMProviderCfg struct {
	Type           string `mapstructure:"type" yaml:"type"`         // "openai", "ollama", "gemini"
	Model          string `mapstructure:"model" yaml:"model"`       // Default model
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"` // Endpoint override
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// OCRProviderCfg configures a dedicated OCR provider.
type OCRProviderCfg struct {
	Type           string `mapstructure:"type" yaml:"type"` // "mistral-ocr"
	Model          string `mapstructure:"model" yaml:"model"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// PipelineCfg selects the models used by one_step and two_step.
type PipelineCfg struct {
	VisionProvider string  `mapstructure:"vision_provider" yaml:"vision_provider"`
	VisionModel    string  `mapstructure:"vision_model" yaml:"vision_model"` // Empty: the provider's model
	TextProvider   string  `mapstructure:"text_provider" yaml:"text_provider"`
	TextModel      string  `mapstructure:"text_model" yaml:"text_model"` // Empty: the provider's model
	OCRProvider    string  `mapstructure:"ocr_provider" yaml:"ocr_provider"` // Empty: transcribe with the vision model
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	JSONMode       bool    `mapstructure:"json_mode" yaml:"json_mode"`
	LoadAttempts   int     `mapstructure:"load_attempts" yaml:"load_attempts"`
}

// SchemaCfg locates the schema document.
type SchemaCfg struct {
	// Path overrides the schema document. Empty uses ~/.docex/extract_schema.json
	// when present, else the built-in document.
	Path string `mapstructure:"path" yaml:"path"`
}

// DocumentCfg controls page rendering.
type DocumentCfg struct {
	PDFDPI       int `mapstructure:"pdf_dpi" yaml:"pdf_dpi"`
	MaxPages     int `mapstructure:"max_pages" yaml:"max_pages"`
	MaxImageEdge int `mapstructure:"max_image_edge" yaml:"max_image_edge"`
}

// EvalCfg controls eval runs.
type EvalCfg struct {
	OutputRoot  string `mapstructure:"output_root" yaml:"output_root"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	ShareModels bool   `mapstructure:"share_models" yaml:"share_models"` // Load models once per run
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	settings := pipeline.DefaultSettings()
	doc := document.DefaultOptions()

	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        true,
			},
			"gemini": {
				Type:           "gemini",
				Model:          "gemini-2.0-flash",
				APIKey:         "${GEMINI_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        false,
			},
			"ollama": {
				Type:           "ollama",
				Model:          "qwen2.5:7b",
				BaseURL:        "http://localhost:11434",
				TimeoutSeconds: 300,
				Enabled:        false,
			},
		},
		OCRProviders: map[string]OCRProviderCfg{
			"mistral": {
				Type:           "mistral-ocr",
				APIKey:         "${MISTRAL_API_KEY}",
				TimeoutSeconds: 120,
				Enabled:        false,
			},
		},
		Pipeline: PipelineCfg{
			VisionProvider: settings.VisionProvider,
			VisionModel:    settings.VisionModel,
			TextProvider:   settings.TextProvider,
			TextModel:      settings.TextModel,
			MaxTokens:      settings.MaxTokens,
			Temperature:    settings.Temperature,
			LoadAttempts:   settings.LoadAttempts,
		},
		Document: DocumentCfg{
			PDFDPI:       doc.PDFDPI,
			MaxPages:     doc.MaxPages,
			MaxImageEdge: doc.MaxImageEdge,
		},
		Eval: EvalCfg{
			OutputRoot:  eval.DefaultOutputRoot,
			Concurrency: 1,
			ShareModels: true,
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// PipelineSettings converts the pipeline section for pipeline.NewLoader.
func (c *Config) PipelineSettings() pipeline.Settings {
	s := pipeline.DefaultSettings()
	p := c.Pipeline
	s.VisionProvider = p.VisionProvider
	s.VisionModel = p.VisionModel
	s.TextProvider = p.TextProvider
	s.TextModel = p.TextModel
	s.OCRProvider = p.OCRProvider
	s.MaxTokens = p.MaxTokens
	s.Temperature = p.Temperature
	s.JSONMode = p.JSONMode
	if p.LoadAttempts > 0 {
		s.LoadAttempts = p.LoadAttempts
	}
	return s
}

// DocumentOptions converts the document section for document.NewLoader.
func (c *Config) DocumentOptions() document.Options {
	return document.Options{
		PDFDPI:       c.Document.PDFDPI,
		MaxPages:     c.Document.MaxPages,
		MaxImageEdge: c.Document.MaxImageEdge,
	}
}

// EvalOptions converts the eval section for eval.NewEvaluator.
func (c *Config) EvalOptions() eval.Options {
	return eval.Options{
		OutputRoot:  c.Eval.OutputRoot,
		Concurrency: c.Eval.Concurrency,
		ShareModels: c.Eval.ShareModels,
	}
}

func timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
