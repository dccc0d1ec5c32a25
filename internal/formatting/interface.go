// Package formatting renders application status for the CLI as a table,
// JSON or YAML.
package formatting

import (
	"fmt"
	"io"

	"ensemble/internal/api"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseOutputFormat validates a user supplied format name. Empty selects the
// table.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Quiet  bool // Suppress decorative elements
	Color  bool // Enable colored output
}

// Status is the snapshot printed by the status command.
type Status struct {
	Application api.ApplicationInfo `json:"application"`
	Services    []api.ServiceInfo   `json:"services"`
}

// Formatter writes a status snapshot in one output format.
type Formatter interface {
	FormatStatus(w io.Writer, status Status) error
	Options() Options
}

// New creates the formatter for options.Format.
func New(options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return &JSONFormatter{options: options}
	case FormatYAML:
		return &YAMLFormatter{options: options}
	case FormatTable:
		fallthrough
	default:
		return &TableFormatter{options: options}
	}
}
