package gateway

import (
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
)

// Credentials holds the resolved auth material of a connection
type Credentials struct {
	Header http.Header
	Query  url.Values
	// Env is appended to the environment of stdio servers
	Env []string
	// Secret is the resolved secret, used to scrub error messages
	Secret string
}

// NewCredentials builds the auth material for the descriptor and resolved secret.
func NewCredentials(d *Descriptor, secret string) *Credentials {
	c := &Credentials{
		Header: http.Header{},
		Query:  url.Values{},
		Secret: secret,
	}
	if secret == "" {
		return c
	}

	switch d.authMode() {
	case AuthBearer:
		c.Header.Set("Authorization", "Bearer "+secret)
	case AuthHeader:
		name := values.StringsCoalesce(d.Auth.HeaderName, DefaultHeaderName)
		c.Header.Set(name, d.Auth.HeaderPrefix+secret)
	case AuthQuery:
		params := d.Auth.QueryParams
		if len(params) == 0 {
			params = []string{DefaultQueryParam}
		}
		for _, p := range params {
			c.Query.Set(p, secret)
		}
		if d.Auth.Profile != "" {
			c.Query.Set(values.StringsCoalesce(d.Auth.ProfileParam, DefaultProfileParam), d.Auth.Profile)
		}
	}

	if d.Transport == TransportStdio && d.SecretRef != "" {
		c.Env = append(c.Env, d.SecretRef+"="+secret)
	}
	return c
}

// ApplyURL returns the endpoint with the query credentials embedded.
func (c *Credentials) ApplyURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "invalid endpoint")
	}
	if len(c.Query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range c.Query {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPClient returns a client that adds the header credentials to every request.
func (c *Credentials) HTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if len(c.Header) == 0 {
		return base
	}
	clone := *base
	clone.Transport = &headerTransport{
		base:   base.Transport,
		header: c.Header,
	}
	return &clone
}

type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.header {
		r.Header[k] = v
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
