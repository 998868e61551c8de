package prompts_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/prompts"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	values := map[string]any{
		"model": "claude-sonnet-4-5",
		"tools": []string{"local__sdr__analyze_profile", "external__apify__search"},
	}

	tcases := []struct {
		name   string
		text   string
		format prompts.Format
		exp    string
	}{
		{
			name: "go-template",
			text: `You run on {{ .model | upper }}. Tools: {{ join ", " .tools }}`,
			exp:  "You run on CLAUDE-SONNET-4-5. Tools: local__sdr__analyze_profile, external__apify__search",
		},
		{
			name:   "jinja2",
			text:   `You run on {{ model }}.{% for t in tools %} {{ t }}{% endfor %}`,
			format: prompts.FormatJinja2,
			exp:    "You run on claude-sonnet-4-5. local__sdr__analyze_profile external__apify__search",
		},
		{
			name:   "text",
			text:   "Qualify {{ leads }}",
			format: prompts.FormatText,
			exp:    "Qualify {{ leads }}",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := prompts.New(tc.text, tc.format)
			require.NoError(t, err)
			out, err := tpl.Render(values)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.exp, out); diff != "" {
				t.Errorf("Render() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := prompts.New("{{ .model ", prompts.FormatGoTemplate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, prompts.ErrInvalidTemplate))

	_, err = prompts.New("{% for %}", prompts.FormatJinja2)
	assert.True(t, errors.Is(err, prompts.ErrInvalidTemplate))

	_, err = prompts.New("x", "mustache")
	assert.EqualError(t, err, `unsupported format: "mustache": invalid template`)

	assert.Panics(t, func() { prompts.Must("{{", "") })
	assert.Equal(t, prompts.FormatGoTemplate, prompts.Must("x", "").Format())
}

func TestRender_MissingKey(t *testing.T) {
	tpl := prompts.Must("Hello {{ .name }}", "")
	_, err := tpl.Render(map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to render prompt")
}
