// Package providers wraps the model backends used for extraction: chat
// models that accept text and page images, and dedicated OCR services.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// ErrNoImages is returned by text-only clients when a message carries images.
var ErrNoImages = errors.New("client does not accept image input")

// LLMClient is the interface for chat completion backends.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// OCRProvider handles image-to-text transcription.
// Separate from LLMClient because results are plain transcriptions, not
// chat turns, and some OCR services are not chat models at all.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "mistral-ocr").
	Name() string

	// ProcessImage extracts text from an image.
	ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error)
}

// HealthChecker is implemented by clients that can verify their backend is
// reachable and the configured model is available.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DefaultModeler is implemented by clients configured with a default model.
// The pipeline uses it when no model is named for a stage.
type DefaultModeler interface {
	Model() string
}

// Unloader is implemented by clients whose model stays resident on a local
// server between calls. Unload asks the server to free it.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // Page images for vision models, sent ahead of Content
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"`                  // "json_object" or "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"` // {"name", "strict", "schema"}
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from an LLM call.
type ChatResult struct {
	// Response content
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set when ResponseFormat was requested and the output validated

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID string `json:"request_id"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// OCRResult is the response from an OCR provider.
type OCRResult struct {
	// Success/content
	Success bool   `json:"success"`
	Text    string `json:"text"`

	// Provider info
	Provider       string `json:"provider"`
	ModelUsed      string `json:"model_used"`
	PagesProcessed int    `json:"pages_processed"`

	// Cost and timing
	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	// Error info
	ErrorMessage string `json:"error_message,omitempty"`
}

// ImageMIMEType sniffs the MIME type of an encoded image, defaulting to PNG.
func ImageMIMEType(image []byte) string {
	ct := http.DetectContentType(image)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/png"
}

// imageDataURL encodes an image as a base64 data URL.
func imageDataURL(image []byte) string {
	return "data:" + ImageMIMEType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
}
