package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
// BaseURL points the client at any compatible server (OpenRouter, DeepInfra,
// vLLM, or Ollama's /v1 endpoint).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string        // Optional
	Model      string        // Default model when the request has none
	MaxRetries int           // SDK transport retries (default 0)
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements LLMClient using the official OpenAI SDK.
// It accepts page images on user turns.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	client  openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// Model returns the configured default model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// HealthCheck verifies the API is reachable and the API key is valid.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return fmt.Errorf("openai models list returned nil response")
	}
	return nil
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	result := &ChatResult{
		Provider:  OpenAIName,
		ModelUsed: model,
		RequestID: req.RequestID,
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat != nil {
		rf, err := toOpenAIResponseFormat(req.ResponseFormat)
		if err != nil {
			return failChat(result, start, "invalid_request", err)
		}
		params.ResponseFormat = rf
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return failChat(result, start, "api_error", mapOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return failChat(result, start, "empty_response", fmt.Errorf("openai returned no choices"))
	}

	result.Success = true
	result.Content = resp.Choices[0].Message.Content
	result.ModelUsed = resp.Model
	result.PromptTokens = int(resp.Usage.PromptTokens)
	result.CompletionTokens = int(resp.Usage.CompletionTokens)
	result.TotalTokens = int(resp.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		attachStructuredOutput(result, req.ResponseFormat)
	}

	return result, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			for _, img := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageDataURL(img),
				}))
			}
			parts = append(parts, openai.TextContentPart(m.Content))
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func toOpenAIResponseFormat(rf *ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	switch rf.Type {
	case "json_object":
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}, nil
	case "json_schema":
		var wrapper struct {
			Name   string         `json:"name"`
			Strict bool           `json:"strict"`
			Schema map[string]any `json:"schema"`
		}
		if err := json.Unmarshal(rf.JSONSchema, &wrapper); err != nil {
			return openai.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("invalid json_schema response format: %w", err)
		}
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   wrapper.Name,
					Schema: wrapper.Schema,
					Strict: openai.Bool(wrapper.Strict),
				},
			},
		}, nil
	default:
		return openai.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("unsupported response format type: %s", rf.Type)
	}
}

func failChat(result *ChatResult, start time.Time, errType string, err error) (*ChatResult, error) {
	result.Success = false
	result.ErrorType = errType
	result.ErrorMessage = err.Error()
	result.ExecutionTime = time.Since(start)
	return result, err
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ LLMClient = (*OpenAIClient)(nil)
var _ HealthChecker = (*OpenAIClient)(nil)
