package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the docex home directory.
	DefaultDirName = ".docex"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// SchemaFileName is the schema document written by config init.
	SchemaFileName = "extract_schema.json"

	// EvalDirName is the subdirectory for eval runs started outside a project.
	EvalDirName = "eval"
)

// Dir represents the docex home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.docex).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// SchemaPath returns the path to the home schema document.
func (d *Dir) SchemaPath() string {
	return filepath.Join(d.path, SchemaFileName)
}

// EvalPath returns the eval output root inside the home directory.
func (d *Dir) EvalPath() string {
	return filepath.Join(d.path, EvalDirName, "outputs")
}

// EnsureExists creates the home directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// SchemaExists returns true if the schema document exists in the home directory.
func (d *Dir) SchemaExists() bool {
	_, err := os.Stat(d.SchemaPath())
	return err == nil
}

// Resolve expands a leading "~" to the user's home directory and returns
// the absolute form of path.
func Resolve(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
