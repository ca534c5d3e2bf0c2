// Package schema loads the per-task JSON shape templates that drive prompt
// construction and scoring.
//
// A schema document maps a task name ("receipt", "bank_stmt") to a shape
// template whose leaves are empty strings. The document is read from disk on
// every Load so that edits show up without a restart.
package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jackzampolin/docex/internal/jsontext"
)

//go:embed schemas/extract_schema.json
var defaultDocument []byte

// DefaultFileName is the file name used when the default document is written out.
const DefaultFileName = "extract_schema.json"

// NotFoundError is returned when a task has no schema in the document.
type NotFoundError struct {
	Task      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Unknown task '%s'. Available: %s", e.Task, strings.Join(e.Available, ", "))
}

// Schema is the shape template for a single task.
// Raw keeps the bytes exactly as they appear in the document so key order survives.
type Schema struct {
	Task string
	Raw  []byte
}

// Render returns the template as indented, ASCII-only JSON.
func (s *Schema) Render(indent string) (string, error) {
	out, err := jsontext.Indent(s.Raw, indent)
	if err != nil {
		return "", fmt.Errorf("failed to render schema %s: %w", s.Task, err)
	}
	return string(out), nil
}

// Store reads schema documents from a file, or from the embedded default
// when no path is configured. It holds no cached state.
type Store struct {
	path string
}

// NewStore creates a store backed by path. An empty path uses the embedded default.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path, or "" for the embedded default.
func (s *Store) Path() string {
	return s.path
}

// Load returns the schema for task, reading the document fresh.
func (s *Store) Load(task string) (*Schema, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Task == task {
			return &Schema{Task: e.Task, Raw: e.Raw}, nil
		}
	}

	return nil, &NotFoundError{Task: task, Available: taskNames(entries)}
}

// Tasks returns the sorted task names in the document.
func (s *Store) Tasks() ([]string, error) {
	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	return taskNames(entries), nil
}

// read loads, validates and splits the document into per-task entries in file order.
func (s *Store) read() ([]Schema, error) {
	data := defaultDocument
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema document: %w", err)
		}
		data = b
	}

	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var entries []Schema
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		entries = append(entries, Schema{
			Task: key.String(),
			Raw:  []byte(value.Raw),
		})
		return true
	})
	return entries, nil
}

func taskNames(entries []Schema) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Task)
	}
	sort.Strings(names)
	return names
}

// DefaultDocument returns a copy of the embedded schema document.
func DefaultDocument() []byte {
	return bytes.Clone(defaultDocument)
}

// WriteDefault writes the embedded document to path unless a file already exists there.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat schema document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}
	return os.WriteFile(path, defaultDocument, 0o644)
}
