package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ErrInvalidDocument is returned when a schema document does not describe shapes.
var ErrInvalidDocument = errors.New("invalid schema document")

// documentSchema requires a task map whose templates only hold "" leaves,
// nested objects, or single-element arrays of a sub-template.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {"$ref": "#/$defs/object"},
  "$defs": {
    "object": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/node"}
    },
    "node": {
      "oneOf": [
        {"const": ""},
        {"$ref": "#/$defs/object"},
        {"type": "array", "maxItems": 1, "items": {"$ref": "#/$defs/node"}}
      ]
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func documentValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("document.json", strings.NewReader(documentSchema)); err != nil {
			compileErr = fmt.Errorf("failed to add document schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("document.json")
	})
	return compiledSchema, compileErr
}

// ValidateDocument checks that data is a well-formed schema document.
func ValidateDocument(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	validator, err := documentValidator()
	if err != nil {
		return err
	}
	if err := validator.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// JSONSchema derives a strict JSON Schema for the template: every key is
// required, no extra keys are allowed, and every leaf is a string.
func (s *Schema) JSONSchema() map[string]any {
	return nodeSchema(gjson.ParseBytes(s.Raw))
}

func nodeSchema(node gjson.Result) map[string]any {
	switch {
	case node.IsObject():
		properties := make(map[string]any)
		required := make([]string, 0)
		node.ForEach(func(key, value gjson.Result) bool {
			properties[key.String()] = nodeSchema(value)
			required = append(required, key.String())
			return true
		})
		return map[string]any{
			"type":                 "object",
			"properties":           properties,
			"required":             required,
			"additionalProperties": false,
		}
	case node.IsArray():
		items := map[string]any{"type": "string"}
		if elems := node.Array(); len(elems) > 0 {
			items = nodeSchema(elems[0])
		}
		return map[string]any{
			"type":  "array",
			"items": items,
		}
	default:
		return map[string]any{"type": "string"}
	}
}
