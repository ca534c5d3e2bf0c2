package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchemaFormat wraps a JSON schema in the {"name","strict","schema"}
// envelope that OpenAI-compatible servers expect.
func JSONSchemaFormat(name string, schema map[string]any) (*ResponseFormat, error) {
	wrapper, err := json.Marshal(map[string]any{
		"name":   name,
		"strict": true,
		"schema": schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode response schema: %w", err)
	}
	return &ResponseFormat{Type: "json_schema", JSONSchema: wrapper}, nil
}

// attachStructuredOutput parses and validates result.Content against the
// requested format. A successful check sets ParsedJSON; a failed one leaves
// Content untouched and records the mismatch so callers can still score the
// raw text.
func attachStructuredOutput(result *ChatResult, rf *ResponseFormat) {
	parsed, err := parseStructuredJSON(result.Content)
	if err != nil {
		result.ErrorType = "schema_mismatch"
		result.ErrorMessage = err.Error()
		return
	}
	if rf.Type == "json_schema" {
		if err := validateStructuredJSON(rf.JSONSchema, parsed); err != nil {
			result.ErrorType = "schema_mismatch"
			result.ErrorMessage = err.Error()
			return
		}
	}
	result.ParsedJSON = parsed
}

// parseStructuredJSON pulls a JSON value out of model output. It accepts a
// bare value, a fenced block, or the outermost {...} / [...] span.
// Key order and number text are preserved.
func parseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	for _, candidate := range []string{content, stripCodeFences(content), extractJSONCandidate(content)} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || !json.Valid([]byte(candidate)) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(candidate)); err != nil {
			return nil, fmt.Errorf("failed to normalize structured output: %w", err)
		}
		return buf.Bytes(), nil
	}

	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if last := len(lines) - 1; strings.TrimSpace(lines[last]) == "```" {
		lines = lines[:last]
	}
	return strings.Join(lines, "\n")
}

func extractJSONCandidate(content string) string {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}
	closeChar := "}"
	if content[start] == '[' {
		closeChar = "]"
	}
	end := strings.LastIndex(content, closeChar)
	if end < start {
		return ""
	}
	return content[start : end+1]
}

// validateStructuredJSON validates parsed JSON against the schema carried in
// a response format. Both the OpenAI envelope and a bare schema are accepted.
func validateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 || len(parsed) == 0 {
		return nil
	}

	core, err := innerSchema(schemaRaw)
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(core)); err != nil {
		return fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return fmt.Errorf("failed to compile response schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func innerSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(schemaRaw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid response schema JSON: %w", err)
	}
	if inner, ok := envelope["schema"]; ok {
		return inner, nil
	}
	return schemaRaw, nil
}
