package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MistralOCRName    = "mistral-ocr"
	MistralOCRBaseURL = "https://api.mistral.ai/v1"
	MistralOCRModel   = "mistral-ocr-latest"

	// Mistral OCR bills per page.
	MistralOCRCostPerPage = 0.001
)

// MistralOCRConfig holds configuration for the Mistral OCR client.
type MistralOCRConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// MistralOCRClient transcribes page images with the Mistral OCR API.
// There is no Go SDK for the OCR endpoint, so it speaks plain HTTP.
type MistralOCRClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewMistralOCRClient creates a new Mistral OCR client.
func NewMistralOCRClient(cfg MistralOCRConfig) *MistralOCRClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralOCRBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralOCRModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &MistralOCRClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (c *MistralOCRClient) Name() string {
	return MistralOCRName
}

// HealthCheck verifies the API key by listing models.
func (c *MistralOCRClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("mistral models list failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mistral models list failed (status %d)", resp.StatusCode)
	}
	return nil
}

// ProcessImage transcribes one page image. The result is returned even on
// failure so the call can be recorded.
func (c *MistralOCRClient) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	start := time.Now()
	result := &OCRResult{Provider: MistralOCRName, ModelUsed: c.model}

	resp, err := c.post(ctx, "/ocr", mistralOCRRequest{
		Model: c.model,
		Document: mistralDocument{
			Type:     "image_url",
			ImageURL: imageDataURL(image),
		},
	})
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, err
	}
	if resp.Model != "" {
		result.ModelUsed = resp.Model
	}
	if len(resp.Pages) == 0 {
		result.ErrorMessage = "no pages in OCR response"
		return result, fmt.Errorf("no pages in OCR response for page %d", pageNum)
	}

	// One image in, one page out.
	result.Success = true
	result.Text = resp.Pages[0].Markdown
	result.PagesProcessed = len(resp.Pages)
	if resp.UsageInfo != nil && resp.UsageInfo.PagesProcessed > 0 {
		result.PagesProcessed = resp.UsageInfo.PagesProcessed
	}
	result.CostUSD = float64(result.PagesProcessed) * MistralOCRCostPerPage
	return result, nil
}

func (c *MistralOCRClient) post(ctx context.Context, path string, body any) (*mistralOCRResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr mistralErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("mistral OCR error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("mistral OCR error (status %d): %s", resp.StatusCode, data)
	}

	var out mistralOCRResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}

type mistralOCRRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Model string `json:"model"`
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
	UsageInfo *struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info,omitempty"`
}

type mistralErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

var (
	_ OCRProvider   = (*MistralOCRClient)(nil)
	_ HealthChecker = (*MistralOCRClient)(nil)
)
