package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

const (
	OllamaName           = "ollama"
	OllamaDefaultBaseURL = "http://localhost:11434"
)

// OllamaConfig holds configuration for a local Ollama chat model.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient implements LLMClient on a locally served model through the
// eino chat model component. It is text-only; it backs the extraction step
// of the two-step pipeline.
type OllamaClient struct {
	baseURL string
	model   string
	chat    model.BaseChatModel
	http    *http.Client
}

// NewOllamaClient creates a client for a model served by Ollama.
func NewOllamaClient(ctx context.Context, cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OllamaDefaultBaseURL
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	chat, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama chat model: %w", err)
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		chat:    chat,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns the provider identifier.
func (c *OllamaClient) Name() string {
	return OllamaName
}

// Model returns the model the client is bound to.
func (c *OllamaClient) Model() string {
	return c.model
}

// HealthCheck confirms the server is up and the model has been pulled.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ollama tags: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama tags failed (status %d)", resp.StatusCode)
	}

	for _, name := range gjson.GetBytes(body, "models.#.name").Array() {
		if name.Str == c.model || name.Str == c.model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %s is not available on %s (run: ollama pull %s)", c.model, c.baseURL, c.model)
}

// Unload evicts the model from server memory. The next request loads it
// again.
func (c *OllamaClient) Unload(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"model": c.model, "keep_alive": 0})
	if err != nil {
		return fmt.Errorf("failed to marshal unload request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unload failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unload failed (status %d)", resp.StatusCode)
	}
	return nil
}

// Chat sends a chat request to the local model. The request model, if set,
// must match the configured one; eino binds the model at construction.
func (c *OllamaClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	result := &ChatResult{
		Provider:  OllamaName,
		ModelUsed: c.model,
		RequestID: req.RequestID,
	}

	if req.Model != "" && req.Model != c.model {
		return failChat(result, start, "invalid_request",
			fmt.Errorf("ollama client is bound to %s, got request for %s", c.model, req.Model))
	}

	msgs := make([]*schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if len(m.Images) > 0 {
			return failChat(result, start, "invalid_request", ErrNoImages)
		}
		switch m.Role {
		case "system":
			msgs = append(msgs, schema.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}

	opts := []model.Option{model.WithTemperature(float32(req.Temperature))}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := c.chat.Generate(ctx, msgs, opts...)
	if err != nil {
		return failChat(result, start, "api_error", fmt.Errorf("ollama generate failed: %w", err))
	}

	result.Success = true
	result.Content = resp.Content
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		result.PromptTokens = resp.ResponseMeta.Usage.PromptTokens
		result.CompletionTokens = resp.ResponseMeta.Usage.CompletionTokens
		result.TotalTokens = resp.ResponseMeta.Usage.TotalTokens
	}
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		attachStructuredOutput(result, req.ResponseFormat)
	}
	return result, nil
}

var (
	_ LLMClient      = (*OllamaClient)(nil)
	_ HealthChecker  = (*OllamaClient)(nil)
	_ DefaultModeler = (*OllamaClient)(nil)
	_ Unloader       = (*OllamaClient)(nil)
)
