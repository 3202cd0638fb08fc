// Package prompt renders persona instruction templates. It lives in internal
// to avoid committing to public API stability prematurely.
package prompt

import (
	"bytes"
	"strings"
	"text/template"
	"time"
)

// Render substitutes template variables in a persona prompt using Go's
// text/template. Non-template prompts pass through untouched.
func Render(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("persona").Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"now":   func() string { return time.Now().UTC().Format(time.RFC1123) },
		"default": func(defaultVal, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
