package formatting

import (
	"fmt"
	"io"
)

// JSONFormatter provides structured JSON output formatting
type JSONFormatter struct {
	options Options
}

func (f *JSONFormatter) FormatStatus(w io.Writer, status Status) error {
	_, err := fmt.Fprintln(w, PrettyJSON(status))
	return err
}

func (f *JSONFormatter) Options() Options {
	return f.options
}
