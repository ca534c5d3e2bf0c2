// Package prompts builds the extraction prompts sent to vision and text models.
//
// Prompt text is deterministic: the same schema document and task always
// produce byte-identical output, so prompt changes can be reviewed as diffs
// and tested as golden strings.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/jackzampolin/docex/internal/providers"
	"github.com/jackzampolin/docex/internal/schema"
)

// OCRPrompt asks a vision model for a plain transcription of the page.
const OCRPrompt = "Transcribe all visible text from this image exactly as it appears."

const schemaIndent = "    "

// universalRules apply to every image extraction prompt, ahead of task rules.
var universalRules = []string{
	"Only these keys. No extra fields.",
	"Strings only.",
}

// textRules apply to text extraction. Unlike the image prompt they require
// every key to be present.
var textRules = []string{
	"Only these keys. No extra fields.",
	"Include every key from the JSON above, even when its value is unknown.",
	"Use an empty string for any value that is missing or unclear.",
	"Strings only.",
}

// TaskRules holds the task-specific rules appended after the generic ones.
var TaskRules = map[string][]string{
	"bank_stmt": {
		"Dates must be in YYYY-MM-DD format.",
		"If a field is missing or unclear, return an empty string.",
	},
	"receipt": {
		"transaction_date must be in YYYY-MM-DD format.",
		"card_last4 must be last 4 digits of the card, or empty.",
		"If a field is missing or unclear, return an empty string.",
	},
}

//go:embed templates/text_system.tmpl
var textSystemPrompt string

//go:embed templates/text_user.tmpl
var textUserPromptTmpl string

var textUserTemplate = template.Must(template.New("text_user").Parse(textUserPromptTmpl))

// Builder renders prompts for tasks defined in a schema store.
type Builder struct {
	schemas *schema.Store
}

// NewBuilder creates a prompt builder over the given schema store.
func NewBuilder(schemas *schema.Store) *Builder {
	return &Builder{schemas: schemas}
}

// Schemas returns the backing schema store.
func (b *Builder) Schemas() *schema.Store {
	return b.schemas
}

// BuildExtractionPrompt returns the image-to-JSON instruction for task.
func (b *Builder) BuildExtractionPrompt(task string) (string, error) {
	schemaText, err := b.renderSchema(task)
	if err != nil {
		return "", err
	}

	rules := append(append([]string{}, universalRules...), TaskRules[task]...)

	return "Please output only this JSON (no markdown, no extra text):\n" +
		schemaText + "\n\n" +
		"Rules:\n" +
		renderRules(rules), nil
}

// BuildTextExtractionPrompt returns the system and user turns used to extract
// JSON from already transcribed text.
func (b *Builder) BuildTextExtractionPrompt(task, rawText string) ([]providers.Message, error) {
	schemaText, err := b.renderSchema(task)
	if err != nil {
		return nil, err
	}

	rules := append(append([]string{}, textRules...), TaskRules[task]...)

	var buf bytes.Buffer
	data := struct {
		RawText string
		Schema  string
		Rules   string
	}{
		RawText: rawText,
		Schema:  schemaText,
		Rules:   renderRules(rules),
	}
	if err := textUserTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render text extraction prompt: %w", err)
	}

	return []providers.Message{
		{Role: "system", Content: strings.TrimRight(textSystemPrompt, "\n")},
		{Role: "user", Content: strings.TrimRight(buf.String(), "\n")},
	}, nil
}

// ExtractionMessages wraps the image prompt and page images into a single user turn.
func (b *Builder) ExtractionMessages(task string, images [][]byte) ([]providers.Message, error) {
	prompt, err := b.BuildExtractionPrompt(task)
	if err != nil {
		return nil, err
	}
	return []providers.Message{
		{Role: "user", Content: prompt, Images: images},
	}, nil
}

func (b *Builder) renderSchema(task string) (string, error) {
	s, err := b.schemas.Load(task)
	if err != nil {
		return "", err
	}
	return s.Render(schemaIndent)
}

func renderRules(rules []string) string {
	lines := make([]string, len(rules))
	for i, rule := range rules {
		lines[i] = "- " + rule
	}
	return strings.Join(lines, "\n")
}
