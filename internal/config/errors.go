package config

import (
	"fmt"
	"strings"
)

// ConfigurationError is one problem found in a tool config or application
// file.
type ConfigurationError struct {
	FilePath string `json:"filePath"`
	FileName string `json:"fileName"`
	// Source is "tool" for config.yaml and "application" for ensemble.yaml.
	Source string `json:"source"`
	// Category is the top-level section the problem was found in, e.g.
	// "services" or "supervisor".
	Category string `json:"category"`
	// ErrorType is "parse", "validation" or "io".
	ErrorType   string   `json:"errorType"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ce.FileName, ce.Message)
}

// DetailedError renders the error with its location, details and suggested
// fixes on separate lines.
func (ce ConfigurationError) DetailedError() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s %s, %s)\n", ce.FilePath, ce.Source, ce.Category, ce.ErrorType)
	fmt.Fprintf(&b, "  %s\n", ce.Message)
	if ce.Details != "" {
		fmt.Fprintf(&b, "  %s\n", ce.Details)
	}
	for _, s := range ce.Suggestions {
		fmt.Fprintf(&b, "  hint: %s\n", s)
	}
	return b.String()
}

// ConfigurationErrorCollection gathers every problem of a file so that they
// can be fixed in one go.
type ConfigurationErrorCollection struct {
	Errors []ConfigurationError `json:"errors"`
}

func (cec *ConfigurationErrorCollection) Error() string {
	switch len(cec.Errors) {
	case 0:
		return "no configuration errors"
	case 1:
		return cec.Errors[0].Error()
	}
	messages := make([]string, len(cec.Errors))
	for i, e := range cec.Errors {
		messages[i] = e.Message
	}
	return fmt.Sprintf("%s: %d problems: %s", cec.Errors[0].FileName, len(cec.Errors), strings.Join(messages, "; "))
}

func (cec *ConfigurationErrorCollection) HasErrors() bool {
	return len(cec.Errors) > 0
}

func (cec *ConfigurationErrorCollection) Count() int {
	return len(cec.Errors)
}

func (cec *ConfigurationErrorCollection) Add(err ConfigurationError) {
	cec.Errors = append(cec.Errors, err)
}

// GetDetailedReport joins the detailed form of every error.
func (cec *ConfigurationErrorCollection) GetDetailedReport() string {
	if len(cec.Errors) == 0 {
		return "no configuration errors"
	}
	parts := make([]string, len(cec.Errors))
	for i, e := range cec.Errors {
		parts[i] = e.DetailedError()
	}
	return strings.Join(parts, "\n")
}

// NewConfigurationError creates an error without details.
func NewConfigurationError(filePath, fileName, source, category, errorType, message string) ConfigurationError {
	return NewConfigurationErrorWithDetails(filePath, fileName, source, category, errorType, message, "", nil)
}

// NewConfigurationErrorWithDetails creates an error with details and
// suggested fixes.
func NewConfigurationErrorWithDetails(filePath, fileName, source, category, errorType, message, details string, suggestions []string) ConfigurationError {
	return ConfigurationError{
		FilePath:    filePath,
		FileName:    fileName,
		Source:      source,
		Category:    category,
		ErrorType:   errorType,
		Message:     message,
		Details:     details,
		Suggestions: suggestions,
	}
}

// NewConfigurationErrorCollection creates an empty collection.
func NewConfigurationErrorCollection() *ConfigurationErrorCollection {
	return &ConfigurationErrorCollection{}
}
