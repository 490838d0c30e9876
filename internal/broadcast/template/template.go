// Package template validates a campaign's script template and renders
// it once per contact. Templates use Go text/template syntax, so a
// variable is written with a leading dot ({{.name}}); a bare {{name}} is
// parsed as a function call and rejected.
package template

import (
	"fmt"
	"strings"
	"text/template"
)

// Validate checks that text parses as a valid Go text/template, which is
// sufficient to catch the unbalanced-braces and malformed-variable-name
// mistakes this validator exists to reject (spec §6).
func Validate(text string) error {
	if text == "" {
		return fmt.Errorf("template text is required")
	}
	if _, err := template.New("broadcast").Parse(text); err != nil {
		return fmt.Errorf("invalid template syntax: %w", err)
	}
	return nil
}

// Render resolves {{.field}} placeholders against the given contact
// fields, used once per contact when materializing a personalized
// message. Unknown fields render empty rather than erroring, so a
// missing optional field doesn't fail the whole dial.
func Render(text string, fields map[string]string) (string, error) {
	tmpl, err := template.New("broadcast").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid template syntax: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}
