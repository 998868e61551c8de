package gateway

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// TransportKind specifies how to reach an external tool server
type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "websocket"
)

// AuthMode specifies how the resolved secret is attached to requests
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthBearer AuthMode = "bearer"
	AuthHeader AuthMode = "header"
	AuthQuery  AuthMode = "query"
)

const (
	DefaultHeaderName   = "X-API-Key"
	DefaultQueryParam   = "api_key"
	DefaultProfileParam = "profile"
	DefaultTimeout      = 60 * time.Second
)

// AuthConfig specifies the optional settings of the auth modes
type AuthConfig struct {
	// HeaderName is the header used by the `header` mode, X-API-Key by default
	HeaderName string `json:"header_name,omitempty" yaml:"header_name,omitempty"`
	// HeaderPrefix is prepended to the secret in the `header` mode, e.g. `Token `
	HeaderPrefix string `json:"header_prefix,omitempty" yaml:"header_prefix,omitempty"`
	// QueryParams are the names of query parameters set to the secret
	// in the `query` mode, api_key by default
	QueryParams []string `json:"query_params,omitempty" yaml:"query_params,omitempty"`
	// Profile is an optional value sent with the `query` mode
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	// ProfileParam is the name of the profile query parameter, profile by default
	ProfileParam string `json:"profile_param,omitempty" yaml:"profile_param,omitempty"`
}

// Descriptor describes an external tool server
type Descriptor struct {
	ID        string        `json:"id" yaml:"id" validate:"required"`
	Name      string        `json:"name" yaml:"name"`
	Transport TransportKind `json:"transport" yaml:"transport" validate:"required,oneof=stdio http websocket"`
	// Endpoint is the URL of http and websocket servers
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"required_unless=Transport stdio"`
	// Command and Args start a stdio server
	Command string            `json:"command,omitempty" yaml:"command,omitempty" validate:"required_if=Transport stdio"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	AuthMode AuthMode `json:"auth_mode,omitempty" yaml:"auth_mode,omitempty" validate:"omitempty,oneof=none bearer header query"`
	// SecretRef is the name of the secret passed to the SecretResolver
	SecretRef string     `json:"secret_ref,omitempty" yaml:"secret_ref,omitempty"`
	Auth      AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`

	// Timeout bounds the connect and every tool call, 60s by default
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DisplayName returns the name used for namespacing the server tools
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func (d *Descriptor) authMode() AuthMode {
	if d.AuthMode == "" {
		return AuthNone
	}
	return d.AuthMode
}

func (d *Descriptor) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate returns ErrInvalidDescriptor with a descriptive message
// if a field required by the transport or auth mode is missing.
func (d *Descriptor) Validate() error {
	if d == nil {
		return errors.WithMessage(ErrInvalidDescriptor, "descriptor is required")
	}

	err := getValidator().Struct(d)
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "failed to validate descriptor")
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, d.describe(fe))
		}
		return errors.WithMessage(ErrInvalidDescriptor, strings.Join(msgs, "; "))
	}
	return nil
}

func (d *Descriptor) describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required_if":
		return fmt.Sprintf("%s is required for %s transport", fe.Field(), d.Transport)
	case "required_unless":
		return fmt.Sprintf("%s is required for %s transport", fe.Field(), d.Transport)
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s is invalid: %s", fe.Field(), fe.Tag())
	}
}
