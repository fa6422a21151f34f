// Package identity talks to the external identity authority that issued the
// bearer tokens carried in gateway sessions.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultTimeout bounds a single validation call when none is configured.
	DefaultTimeout = 5 * time.Second

	validatePath = "/auth"
	maxBodyBytes = 64 << 10
)

var (
	// ErrUnavailable wraps transport failures, including timeouts.
	ErrUnavailable = errors.New("identity authority unavailable")
	// ErrRejected is returned when the authority answers with a non-2xx status.
	ErrRejected = errors.New("identity authority rejected token")
	// ErrMalformed is returned when the response body is not exactly an identity.
	ErrMalformed = errors.New("malformed identity response")
)

// Identity is the minimal profile the authority returns for a valid token.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
}

// Client validates bearer tokens against the authority's validation endpoint.
// It is immutable after construction and safe for concurrent use.
type Client struct {
	endpoint string
	base     http.RoundTripper
	timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the round tripper that carries validation calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// WithTimeout sets the deadline applied to each validation call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a client for the authority at baseURL, which must be an
// absolute http or https URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint: strings.TrimSuffix(u.String(), "/") + validatePath,
		base:     http.DefaultTransport,
		timeout:  DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ParseBaseURL checks that raw is an absolute http(s) URL without query or fragment.
func ParseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("identity authority URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid identity authority URL: %w", err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("identity authority URL must be an absolute http(s) URL, got %q", raw)
	}

	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("identity authority URL must not carry a query or fragment, got %q", raw)
	}

	return u, nil
}

// Endpoint returns the full validation URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Validate asks the authority who token belongs to. There are no retries: any
// transport error, non-2xx status or schema mismatch is returned as an error
// wrapping ErrUnavailable, ErrRejected or ErrMalformed.
func (c *Client) Validate(ctx context.Context, token string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.base,
		},
		// a redirect would replay the bearer token somewhere we didn't configure
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformed, maxBodyBytes)
	}

	return ParseIdentity(body)
}

// identityFields maps each required key, matched case-sensitively, to the
// Identity field it fills.
var identityFields = map[string]func(*Identity) *string{
	"id":        func(i *Identity) *string { return &i.ID },
	"email":     func(i *Identity) *string { return &i.Email },
	"firstName": func(i *Identity) *string { return &i.FirstName },
}

// ParseIdentity strictly decodes an identity document: it must be a single
// object holding exactly the keys id, email and firstName, each once and each
// a string. Key case is significant and no trailing data is allowed.
func ParseIdentity(body []byte) (*Identity, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("%w: identity is not an object", ErrMalformed)
	}

	var ident Identity
	seen := make(map[string]bool, len(identityFields))

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrMalformed, tok)
		}

		field, known := identityFields[key]
		if !known {
			return nil, fmt.Errorf("%w: unknown field %q", ErrMalformed, key)
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrMalformed, key)
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		var value *string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrMalformed, key, err)
		}
		if value == nil {
			return nil, fmt.Errorf("%w: field %q is null", ErrMalformed, key)
		}
		*field(&ident) = *value
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, fmt.Errorf("%w: unterminated identity object", ErrMalformed)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after identity", ErrMalformed)
	}

	for _, key := range []string{"id", "email", "firstName"} {
		if !seen[key] {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformed, key)
		}
	}

	return &ident, nil
}
