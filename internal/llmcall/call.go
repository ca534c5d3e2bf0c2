// Package llmcall records model calls for traceability.
// Every call made during an evaluation is kept with its prompt hash,
// response and usage, and written as one JSON line per call.
package llmcall

import (
	"context"
	"time"

	"github.com/jackzampolin/docex/internal/providers"
)

// Call represents a recorded model call.
type Call struct {
	// Request id shared with the provider log lines
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	Method string `json:"method,omitempty"` // "one_step", "two_step"
	Input  string `json:"input,omitempty"`
	Stage  string `json:"stage"` // "vision", "ocr", "text"

	// Prompt traceability
	PromptHash string `json:"prompt_hash"`

	// Model info
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`

	// Usage. OCR services bill per page rather than per token.
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Labels identify the pipeline run a call belongs to.
type Labels struct {
	Method string
	Input  string
}

type labelsKey struct{}

// WithLabels attaches run labels to ctx.
func WithLabels(ctx context.Context, l Labels) context.Context {
	return context.WithValue(ctx, labelsKey{}, l)
}

// LabelsFrom returns the labels attached to ctx, if any.
func LabelsFrom(ctx context.Context) Labels {
	l, _ := ctx.Value(labelsKey{}).(Labels)
	return l
}

// RecordOptions provides context for recording a call.
type RecordOptions struct {
	Labels
	RequestID   string // Used for OCR results, which carry no id of their own
	Stage       string
	PromptHash  string
	Temperature float64
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           result.RequestID,
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(result.ExecutionTime.Milliseconds()),
		Method:       opts.Method,
		Input:        opts.Input,
		Stage:        opts.Stage,
		PromptHash:   opts.PromptHash,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		Temperature:  opts.Temperature,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Response:     result.Content,
		Success:      result.Success,
	}
	if !result.Success {
		call.Error = result.ErrorMessage
	}
	return call
}

// FromOCRResult creates a Call from an OCR provider result.
// Returns nil if result is nil.
func FromOCRResult(result *providers.OCRResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:         opts.RequestID,
		Timestamp:  time.Now().UTC(),
		LatencyMs:  int(result.ExecutionTime.Milliseconds()),
		Method:     opts.Method,
		Input:      opts.Input,
		Stage:      opts.Stage,
		PromptHash: opts.PromptHash,
		Provider:   result.Provider,
		Model:      result.ModelUsed,
		CostUSD:    result.CostUSD,
		Response:   result.Text,
		Success:    result.Success,
	}
	if !result.Success {
		call.Error = result.ErrorMessage
	}
	return call
}
