// Package prompts renders the system prompt templates.
package prompts

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/exec"
)

// Format of the template
type Format string

const (
	// FormatGoTemplate is text/template with the sprig functions
	FormatGoTemplate Format = "go-template"
	// FormatJinja2 is the jinja2 syntax
	FormatJinja2 Format = "jinja2"
	// FormatText is used as is
	FormatText Format = "text"
)

// ErrInvalidTemplate is returned when the template can not be parsed
var ErrInvalidTemplate = errors.New("invalid template")

// Template is a parsed prompt template, safe for concurrent use
type Template struct {
	text   string
	format Format
	gotmpl *template.Template
	jinja  *exec.Template
}

// New parses the template, empty format is go-template
func New(text string, format Format) (*Template, error) {
	if format == "" {
		format = FormatGoTemplate
	}
	t := &Template{
		text:   text,
		format: format,
	}

	var err error
	switch format {
	case FormatText:
	case FormatGoTemplate:
		t.gotmpl, err = template.New("prompt").
			Option("missingkey=error").
			Funcs(sprig.TxtFuncMap()).
			Parse(text)
	case FormatJinja2:
		t.jinja, err = gonja.FromString(text)
	default:
		return nil, errors.WithMessagef(ErrInvalidTemplate, "unsupported format: %q", format)
	}
	if err != nil {
		return nil, errors.WithMessagef(ErrInvalidTemplate, "%s: %s", format, err.Error())
	}
	return t, nil
}

// Must is like New but panics on error
func Must(text string, format Format) *Template {
	t, err := New(text, format)
	if err != nil {
		panic(err)
	}
	return t
}

// Format returns the template format
func (t *Template) Format() Format {
	return t.format
}

// Render executes the template with the values
func (t *Template) Render(values map[string]any) (string, error) {
	switch t.format {
	case FormatGoTemplate:
		var buf bytes.Buffer
		if err := t.gotmpl.Execute(&buf, values); err != nil {
			return "", errors.Wrap(err, "failed to render prompt")
		}
		return strings.TrimSpace(buf.String()), nil
	case FormatJinja2:
		out, err := t.jinja.Execute(values)
		if err != nil {
			return "", errors.Wrap(err, "failed to render prompt")
		}
		return strings.TrimSpace(out), nil
	default:
		return t.text, nil
	}
}
