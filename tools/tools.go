package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/pkg/llmutils"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ErrFailedUnmarshalInput is returned when the tool input does not match its parameters
var ErrFailedUnmarshalInput = errors.New("check the schema and try again")

// ITool is a tool for the agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	Description() string
	// Parameters returns the JSON schema of the tool input.
	Parameters() any

	// Call executes the tool with the JSON input and returns the JSON result.
	// If the tool fails to parse the input, it should return ErrFailedUnmarshalInput error.
	Call(context.Context, string) (string, error)
}

// Tool is an ITool with typed input and output
type Tool[I any, O any] interface {
	ITool
	Run(context.Context, *I) (*O, error)
}

// Decode parses the JSON input of a tool, an empty input is decoded as zero value
func Decode[I any](input string) (*I, error) {
	var req I
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &req); err != nil {
			return nil, errors.WithMessage(ErrFailedUnmarshalInput, "failed to unmarshal input")
		}
	}
	return &req, nil
}

// CallJSON decodes the input, runs the tool and encodes its output
func CallJSON[I any, O any](ctx context.Context, input string, run func(context.Context, *I) (*O, error)) (string, error) {
	req, err := Decode[I](input)
	if err != nil {
		return "", err
	}
	out, err := run(ctx, req)
	if err != nil {
		return "", err
	}
	bs, err := json.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal output")
	}
	return string(bs), nil
}
