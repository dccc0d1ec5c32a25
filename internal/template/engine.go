package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders connection string and configuration templates. Templates use
// text/template syntax with the sprig function set, so values such as
// `{{ .Host }}:{{ .Port }}` or `{{ .Name | upper }}` are available. The legacy
// `${name}` placeholder form is rewritten to `{{ .Name }}` before parsing.
type Engine struct {
	funcs template.FuncMap
}

// New creates a new template engine
func New() *Engine {
	return &Engine{funcs: sprig.TxtFuncMap()}
}

// Render evaluates tmpl against context. Referencing a key that is not in the
// context is an error.
func (e *Engine) Render(tmpl string, context map[string]interface{}) (string, error) {
	if !strings.Contains(tmpl, "{{") && !strings.Contains(tmpl, "${") {
		return tmpl, nil
	}

	t, err := template.New("value").
		Funcs(e.funcs).
		Option("missingkey=error").
		Parse(rewritePlaceholders(tmpl, context))
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", tmpl, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", tmpl, err)
	}
	return buf.String(), nil
}

// rewritePlaceholders turns ${host} style placeholders into template actions.
// Placeholder names are matched case-insensitively against context keys.
func rewritePlaceholders(tmpl string, context map[string]interface{}) string {
	if !strings.Contains(tmpl, "${") {
		return tmpl
	}
	keys := make(map[string]string, len(context))
	for k := range context {
		keys[strings.ToLower(k)] = k
	}

	var b strings.Builder
	for {
		start := strings.Index(tmpl, "${")
		if start < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.Index(tmpl[start:], "}")
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		name := tmpl[start+2 : start+end]
		b.WriteString(tmpl[:start])
		if key, ok := keys[strings.ToLower(name)]; ok {
			b.WriteString("{{ ." + key + " }}")
		} else {
			b.WriteString(tmpl[start : start+end+1])
		}
		tmpl = tmpl[start+end+1:]
	}
	return b.String()
}
