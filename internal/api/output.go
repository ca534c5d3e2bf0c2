// Package api formats the structured output of informational CLI commands.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = OutputFormatYAML

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch OutputFormat(format) {
	case OutputFormatJSON, OutputFormatYAML:
		return OutputFormat(format), nil
	case "":
		return DefaultOutput, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

// SetOutputFormat sets the global output format.
func SetOutputFormat(format string) error {
	f, err := ParseOutputFormat(format)
	if err != nil {
		return err
	}
	globalOutputFormat = f
	return nil
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to the given writer in the specified format.
// JSON is indented with two spaces; YAML uses two-space indentation.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
