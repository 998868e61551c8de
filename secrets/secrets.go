// Package secrets resolves named secrets, such as external server tokens,
// at connection time. Resolved values are never persisted or logged.
package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

//go:generate mockgen -source=secrets.go -destination=../mocks/mocksecrets/secrets_mock.gen.go -package mocksecrets

// ErrNotFound is returned when a secret can not be resolved.
var ErrNotFound = errors.New("secret not found")

// Resolver resolves a secret by name.
type Resolver interface {
	// Resolve returns the secret value,
	// or an error wrapping ErrNotFound if the secret is not set.
	Resolve(ctx context.Context, name string) (string, error)
}

// Env resolves secrets from the process environment.
type Env struct {
	// Prefix is prepended to the name, e.g. `SDR_`
	Prefix string

	lookup func(string) (string, bool)
}

// NewEnv returns a Resolver for the process environment.
func NewEnv(prefix string) *Env {
	return &Env{
		Prefix: prefix,
		lookup: os.LookupEnv,
	}
}

func (e *Env) Resolve(_ context.Context, name string) (string, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key := e.Prefix + name
	val, ok := lookup(key)
	if !ok || strings.TrimSpace(val) == "" {
		return "", errors.WithMessagef(ErrNotFound, "env %s", key)
	}
	return val, nil
}

// Static resolves secrets from a fixed map.
type Static map[string]string

func (s Static) Resolve(_ context.Context, name string) (string, error) {
	val, ok := s[name]
	if !ok || val == "" {
		return "", errors.WithMessagef(ErrNotFound, "%s", name)
	}
	return val, nil
}

// LoadDotEnv reads a dotenv file into a Static resolver,
// without modifying the process environment.
func LoadDotEnv(file string) (Static, error) {
	m, err := godotenv.Read(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dotenv file %s", file)
	}
	return Static(m), nil
}

// Chain tries each resolver in order, the first hit wins.
type Chain []Resolver

// NewChain returns a Chain, nil resolvers are skipped.
func NewChain(list ...Resolver) Chain {
	c := make(Chain, 0, len(list))
	for _, r := range list {
		if r != nil {
			c = append(c, r)
		}
	}
	return c
}

func (c Chain) Resolve(ctx context.Context, name string) (string, error) {
	for _, r := range c {
		val, err := r.Resolve(ctx, name)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", errors.WithMessagef(ErrNotFound, "%s", name)
}

// Mask returns a redacted form of the secret, safe for diagnostics.
func Mask(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	return val[:2] + "****"
}
