package catalog

import (
	"encoding/json"
	"math"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the type of a tool parameter
type Kind string

// Kind values. KindAny is used for absent or unknown schema types.
const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindAny     Kind = "any"
)

const (
	// CatchAllParam is the parameter given to a tool with no declared properties
	CatchAllParam = "input"
	// AnyValueDescription describes an untyped parameter with no description
	AnyValueDescription = "Any JSON value"
)

// ParseKind maps a JSON schema type name to Kind
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindString:
		return KindString
	case KindNumber:
		return KindNumber
	case KindInteger:
		return KindInteger
	case KindBoolean:
		return KindBoolean
	case KindArray:
		return KindArray
	case KindObject:
		return KindObject
	default:
		return KindAny
	}
}

// Param describes one tool parameter
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Items is the kind of array elements
	Items Kind `json:"items,omitempty" yaml:"items,omitempty"`
}

// ParamSpec is the ordered list of tool parameters
type ParamSpec struct {
	Params   []Param  `json:"params" yaml:"params"`
	Required []string `json:"required,omitempty" yaml:"required,omitempty"`
}

type rawSchema struct {
	Type        json.RawMessage                            `json:"type,omitempty"`
	Description string                                     `json:"description,omitempty"`
	Properties  *orderedmap.OrderedMap[string, *rawSchema] `json:"properties,omitempty"`
	Items       *rawSchema                                 `json:"items,omitempty"`
	Required    []string                                   `json:"required,omitempty"`
}

// Translate converts a JSON schema of tool input into ParamSpec.
// The schema can be any JSON-marshalable value, such as *jsonschema.Schema
// or the decoded input schema of a remote tool.
// When keepRequired is false, every parameter is optional.
// A schema without properties yields one catch-all parameter of KindAny.
func Translate(schema any, keepRequired bool) (ParamSpec, error) {
	spec := ParamSpec{}
	var raw rawSchema
	if schema != nil {
		js, err := json.Marshal(schema)
		if err != nil {
			return spec, errors.Wrap(err, "failed to marshal schema")
		}
		if string(js) != "null" {
			if err := json.Unmarshal(js, &raw); err != nil {
				return spec, errors.Wrap(err, "failed to parse schema")
			}
		}
	}

	if raw.Properties == nil || raw.Properties.Len() == 0 {
		spec.Params = []Param{{
			Name:        CatchAllParam,
			Kind:        KindAny,
			Description: "Tool input",
		}}
		return spec, nil
	}

	for pair := raw.Properties.Oldest(); pair != nil; pair = pair.Next() {
		p := Param{
			Name: pair.Key,
			Kind: KindAny,
		}
		if prop := pair.Value; prop != nil {
			p.Kind = kindOf(prop.Type)
			p.Description = prop.Description
			if p.Kind == KindArray && prop.Items != nil {
				p.Items = kindOf(prop.Items.Type)
			}
		}
		spec.Params = append(spec.Params, p)
	}
	if keepRequired {
		for _, name := range raw.Required {
			if spec.Has(name) {
				spec.Required = append(spec.Required, name)
			}
		}
	}
	return spec, nil
}

// kindOf accepts a type name or a list of type names,
// the first non-null entry of a list is used.
func kindOf(t json.RawMessage) Kind {
	if len(t) == 0 {
		return KindAny
	}
	var name string
	if err := json.Unmarshal(t, &name); err == nil {
		return ParseKind(name)
	}
	var names []string
	if err := json.Unmarshal(t, &names); err == nil {
		for _, n := range names {
			if n != "null" {
				return ParseKind(n)
			}
		}
	}
	return KindAny
}

// Has returns true if the parameter is declared
func (s ParamSpec) Has(name string) bool {
	return slices.ContainsFunc(s.Params, func(p Param) bool { return p.Name == name })
}

// Validate checks the kinds of the provided arguments.
// Nil values are treated as absent, undeclared arguments are allowed.
func (s ParamSpec) Validate(args map[string]any) error {
	for _, name := range s.Required {
		if v, ok := args[name]; !ok || v == nil {
			return errors.Newf("parameter %q is required", name)
		}
	}
	for _, p := range s.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		if !p.Kind.Accepts(v) {
			return errors.Newf("parameter %q: expected %s, got %T", p.Name, p.Kind, v)
		}
		if p.Kind == KindArray && p.Items != "" && p.Items != KindAny {
			for i, item := range v.([]any) {
				if item != nil && !p.Items.Accepts(item) {
					return errors.Newf("parameter %q[%d]: expected %s, got %T", p.Name, i, p.Items, item)
				}
			}
		}
	}
	return nil
}

// Accepts returns true if the decoded JSON value matches the kind
func (k Kind) Accepts(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32, json.Number:
			return true
		}
		return false
	case KindInteger:
		switch n := v.(type) {
		case int, int64, int32:
			return true
		case float64:
			return n == math.Trunc(n)
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// JSONSchema renders the parameters as the JSON schema of an object
func (s ParamSpec) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	for _, p := range s.Params {
		prop := &jsonschema.Schema{
			Description: p.Description,
		}
		// an empty schema is rendered as `true`
		if p.Kind == KindAny || p.Kind == "" {
			prop.Description = values.StringsCoalesce(p.Description, AnyValueDescription)
		} else {
			prop.Type = string(p.Kind)
		}
		if p.Kind == KindArray && p.Items != "" && p.Items != KindAny {
			prop.Items = &jsonschema.Schema{Type: string(p.Items)}
		}
		props.Set(p.Name, prop)
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   s.Required,
	}
}
