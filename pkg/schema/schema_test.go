package schema_test

import (
	"reflect"
	"testing"

	"github.com/effective-security/sdragent/pkg/llmutils"
	"github.com/effective-security/sdragent/pkg/schema"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Platform string

// ProfileRequest is a sample tool request.
type ProfileRequest struct {
	Handle   string    `json:"handle" jsonschema:"title=Handle,description=Social handle of the lead,example=@acme"`
	Platform Platform  `json:"platform,omitempty" jsonschema:"description=Social platform,default=instagram,enum=instagram,enum=tiktok,enum=linkedin"`
	Tags     []*KVPair `json:"tags,omitempty" jsonschema:"description=Optional tags"`
	Owner    *KVPair   `json:"owner,omitempty" jsonschema:"description=Account owner"`
}

// KVPair represents a key-value pair.
type KVPair struct {
	Key   string `json:"key" jsonschema:"description=Key of the pair"`
	Value string `json:"value" jsonschema:"description=Value of the pair"`
}

func TestNew(t *testing.T) {
	t.Parallel()

	s, err := schema.New(reflect.TypeOf(ProfileRequest{}))
	require.NoError(t, err)

	exp := `{
	"properties": {
		"handle": {
			"type": "string",
			"title": "Handle",
			"description": "Social handle of the lead",
			"examples": [
				"@acme"
			]
		},
		"platform": {
			"type": "string",
			"enum": [
				"instagram",
				"tiktok",
				"linkedin"
			],
			"description": "Social platform",
			"default": "instagram"
		},
		"tags": {
			"items": {
				"properties": {
					"key": {
						"type": "string",
						"description": "Key of the pair"
					},
					"value": {
						"type": "string",
						"description": "Value of the pair"
					}
				},
				"type": "object",
				"required": [
					"key",
					"value"
				]
			},
			"type": "array",
			"description": "Optional tags"
		},
		"owner": {
			"properties": {
				"key": {
					"type": "string",
					"description": "Key of the pair"
				},
				"value": {
					"type": "string",
					"description": "Value of the pair"
				}
			},
			"type": "object",
			"required": [
				"key",
				"value"
			],
			"description": "Account owner"
		}
	},
	"type": "object",
	"required": [
		"handle"
	]
}`
	assert.Equal(t, exp, s.String())
	assert.Equal(t, exp, llmutils.ToJSONIndent(s.Parameters))

	again, err := schema.New(reflect.TypeOf(ProfileRequest{}))
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func TestFlatten_MissingDefinition(t *testing.T) {
	props := jsonschema.NewProperties()
	props.Set("owner", &jsonschema.Schema{Ref: "#/$defs/Owner"})

	_, err := schema.Flatten(&jsonschema.Schema{Type: "object", Properties: props})
	assert.EqualError(t, err, "property owner: definition not found: #/$defs/Owner")
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	sc, err := schema.FromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"query"},
	})
	require.NoError(t, err)

	exp := `{
	"properties": {
		"query": {
			"type": "string"
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, exp, llmutils.ToJSONIndent(sc))

	same, err := schema.FromAny(sc)
	require.NoError(t, err)
	assert.Same(t, sc, same)

	_, err = schema.FromAny(map[string]any{"type": []string{"string", "null"}})
	assert.Error(t, err)
}
