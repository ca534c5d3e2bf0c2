package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	GeminiName         = "gemini"
	geminiDefaultModel = "gemini-2.0-flash"
)

// GeminiConfig holds configuration for the Gemini API client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string // Optional (tests)
	Model   string
	Timeout time.Duration
}

// GeminiClient implements LLMClient on the Gemini API. It accepts page
// images, so it can serve as the vision model of either pipeline.
type GeminiClient struct {
	model  string
	client *genai.Client
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpOpts := genai.HTTPOptions{Timeout: &cfg.Timeout}
	if cfg.BaseURL != "" {
		httpOpts.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{model: cfg.Model, client: client}, nil
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string {
	return GeminiName
}

// Model returns the configured default model.
func (c *GeminiClient) Model() string {
	return c.model
}

// HealthCheck looks up the configured model.
func (c *GeminiClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, c.model, nil); err != nil {
		return fmt.Errorf("gemini model %s unavailable: %w", c.model, err)
	}
	return nil
}

// Chat sends a generate-content request. System turns become the system
// instruction; images precede the text of their turn.
func (c *GeminiClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}
	result := &ChatResult{
		Provider:  GeminiName,
		ModelUsed: modelName,
		RequestID: req.RequestID,
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.ResponseFormat != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			parts := make([]*genai.Part, 0, len(m.Images)+1)
			for _, img := range m.Images {
				parts = append(parts, genai.NewPartFromBytes(img, ImageMIMEType(img)))
			}
			parts = append(parts, genai.NewPartFromText(m.Content))
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := c.client.Models.GenerateContent(ctx, modelName, contents, cfg)
	if err != nil {
		return failChat(result, start, "api_error", fmt.Errorf("gemini generate failed: %w", err))
	}
	if len(resp.Candidates) == 0 {
		return failChat(result, start, "empty_response", fmt.Errorf("gemini returned no candidates"))
	}

	result.Success = true
	result.Content = resp.Text()
	if resp.ModelVersion != "" {
		result.ModelUsed = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		result.PromptTokens = int(u.PromptTokenCount)
		result.CompletionTokens = int(u.CandidatesTokenCount)
		result.TotalTokens = int(u.TotalTokenCount)
	}
	result.ExecutionTime = time.Since(start)

	if req.ResponseFormat != nil {
		attachStructuredOutput(result, req.ResponseFormat)
	}
	return result, nil
}

var _ LLMClient = (*GeminiClient)(nil)
var _ HealthChecker = (*GeminiClient)(nil)
