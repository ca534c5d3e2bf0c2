package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing. It records every request so tests
// can assert on the prompts a pipeline produced.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	ResponseJSON json.RawMessage
	TextOnly     bool   // Reject images like a text-only backend
	DefaultModel string // Returned by Model

	// Respond, when set, overrides ResponseText per request.
	Respond func(req *ChatRequest) string

	// HealthErr is returned by HealthCheck.
	HealthErr error

	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Model returns DefaultModel.
func (c *MockClient) Model() string {
	return c.DefaultModel
}

// HealthCheck returns the configured HealthErr.
func (c *MockClient) HealthCheck(ctx context.Context) error {
	return c.HealthErr
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: req.RequestID,
		Provider:  MockClientName,
		ModelUsed: req.Model,
	}
	if result.RequestID == "" {
		result.RequestID = fmt.Sprintf("mock-%d", count)
	}

	if c.ShouldFail {
		return failChat(result, start, "mock_failure", fmt.Errorf("mock client configured to fail"))
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return failChat(result, start, "mock_failure", fmt.Errorf("mock client failed after %d requests", c.FailAfter))
	}
	if c.TextOnly {
		for _, m := range req.Messages {
			if len(m.Images) > 0 {
				return failChat(result, start, "invalid_request", ErrNoImages)
			}
		}
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		return failChat(result, start, "context_cancelled", ctx.Err())
	}

	result.Success = true
	result.Content = c.ResponseText
	if c.Respond != nil {
		result.Content = c.Respond(req)
	}
	result.ExecutionTime = time.Since(start)

	// Rough token estimate
	for _, m := range req.Messages {
		result.PromptTokens += len(m.Content) / 4
	}
	result.CompletionTokens = len(result.Content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens

	if req.ResponseFormat != nil && len(c.ResponseJSON) > 0 {
		result.ParsedJSON = c.ResponseJSON
		result.Content = string(c.ResponseJSON)
	}

	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.requests...)
}

// Reset clears the request counter and log.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

var _ LLMClient = (*MockClient)(nil)
var _ HealthChecker = (*MockClient)(nil)

// MockOCRProvider is an OCRProvider for testing.
type MockOCRProvider struct {
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int
	ResponseText string
	CostPerPage  float64

	requestCount atomic.Int64
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: "mock-ocr",
		ResponseText: "mock OCR text",
	}
}

// Name returns the provider identifier.
func (p *MockOCRProvider) Name() string {
	return p.ProviderName
}

// ProcessImage returns "Page N: <ResponseText>".
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)

	result := &OCRResult{Provider: p.ProviderName, ModelUsed: "mock-ocr-model"}

	if p.ShouldFail {
		result.ErrorMessage = "mock OCR provider configured to fail"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock OCR provider configured to fail")
	}
	if p.FailAfter > 0 && int(count) > p.FailAfter {
		result.ErrorMessage = fmt.Sprintf("mock OCR provider failed after %d requests", p.FailAfter)
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock OCR provider failed after %d requests", p.FailAfter)
	}

	select {
	case <-time.After(p.Latency):
	case <-ctx.Done():
		result.ErrorMessage = ctx.Err().Error()
		result.ExecutionTime = time.Since(start)
		return result, ctx.Err()
	}

	result.Success = true
	result.Text = fmt.Sprintf("Page %d: %s", pageNum, p.ResponseText)
	result.ExecutionTime = time.Since(start)
	result.PagesProcessed = 1
	result.CostUSD = p.CostPerPage

	return result, nil
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

var _ OCRProvider = (*MockOCRProvider)(nil)
