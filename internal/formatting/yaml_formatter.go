package formatting

import (
	"fmt"
	"io"

	"sigs.k8s.io/yaml"
)

// YAMLFormatter provides YAML output formatting. Field names follow the JSON
// tags of the api types.
type YAMLFormatter struct {
	options Options
}

func (f *YAMLFormatter) FormatStatus(w io.Writer, status Status) error {
	data, err := yaml.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to format YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func (f *YAMLFormatter) Options() Options {
	return f.options
}
