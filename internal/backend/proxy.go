// Package backend forwards authenticated requests to the application backend,
// carrying the session's bearer token and nothing else from the session.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiongate/internal/telemetry"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by the transport when a request reaches it without a bearer token.
var ErrNoToken = errors.New("no bearer token for backend request")

// TokenSource reads the bearer token from an inbound request's session.
type TokenSource interface {
	GetUserToken(header http.Header) (string, bool)
}

type contextKey string

const tokenContextKey contextKey = "bearer_token"

// Proxy is a reverse proxy to the backend that replaces the inbound
// credentials with "Authorization: Bearer <token>", where token is exactly the
// value held in the session.
type Proxy struct {
	target *url.URL
	tokens TokenSource
	rp     *httputil.ReverseProxy
}

// Option configures a Proxy.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the round tripper used to reach the backend.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
	}
}

// NewProxy creates a proxy to target, an absolute http(s) base URL.
func NewProxy(target string, tokens TokenSource, opts ...Option) (*Proxy, error) {
	if tokens == nil {
		return nil, errors.New("token source is required")
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("backend URL must be an absolute http(s) URL, got %q", target)
	}

	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	p := &Proxy{target: u, tokens: tokens}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      &bearerTransport{base: o.transport},
		ModifyResponse: stripSetCookie,
		ErrorHandler:   proxyError,
	}

	return p, nil
}

// ServeHTTP forwards the request, or answers 401 when the session has no token.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := p.tokens.GetUserToken(r.Header)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	telemetry.GetMetrics().ProxiedRequestsTotal.Add(r.Context(), 1)

	ctx := context.WithValue(r.Context(), tokenContextKey, token)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	pr.SetXForwarded()

	// the session artifact and any client-supplied credential stay on this side
	pr.Out.Header.Del("Cookie")
	pr.Out.Header.Del("Authorization")
}

// bearerTransport sets the Authorization header from the token placed in the
// request context by ServeHTTP.
type bearerTransport struct {
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, _ := req.Context().Value(tokenContextKey).(string)
	if token == "" {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, ErrNoToken
	}

	rt := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   t.base,
	}
	return rt.RoundTrip(req)
}

// stripSetCookie stops the backend from setting cookies on the gateway's origin,
// where it could overwrite or shadow the session cookie.
func stripSetCookie(resp *http.Response) error {
	resp.Header.Del("Set-Cookie")
	return nil
}

func proxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	zerolog.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("Backend request failed")
	http.Error(w, "bad gateway", http.StatusBadGateway)
}
