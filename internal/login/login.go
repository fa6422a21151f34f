package login

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiongate/internal/identity"
	"github.com/wolfeidau/sessiongate/internal/session"
	"github.com/wolfeidau/sessiongate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrEmptyToken is returned when asked to commit a session without a token.
var ErrEmptyToken = errors.New("user token must not be empty")

// Authority validates bearer tokens and returns the identity they belong to.
type Authority interface {
	Validate(ctx context.Context, token string) (*identity.Identity, error)
}

// Config holds the redirect targets used by the session flows.
type Config struct {
	// LoginRedirect is where AuthenticateUser sends the client by default.
	LoginRedirect string
	// LogoutRedirect is where Logout sends the client by default, and where a
	// failed validation on a non-GET request lands.
	LogoutRedirect string
}

// Gateway owns the bearer token stored in the session and every flow that
// reads, commits or destroys it. It holds no mutable state.
type Gateway struct {
	store          *session.Store
	authority      Authority
	loginRedirect  string
	logoutRedirect string
}

// NewGateway creates a gateway over store that validates tokens with authority.
func NewGateway(store *session.Store, authority Authority, cfg Config) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}

	if authority == nil {
		return nil, errors.New("identity authority is required")
	}

	g := &Gateway{
		store:          store,
		authority:      authority,
		loginRedirect:  SafeRedirect(cfg.LoginRedirect, "/"),
		logoutRedirect: SafeRedirect(cfg.LogoutRedirect, "/"),
	}

	return g, nil
}

// Request is the part of an inbound request the gateway looks at.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// RequestFrom adapts a net/http request.
func RequestFrom(r *http.Request) Request {
	return Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header,
	}
}

// GetUserToken returns the bearer token held in the request's session, if any.
// It never calls the identity authority.
func (g *Gateway) GetUserToken(header http.Header) (string, bool) {
	rec := g.store.Read(header)
	return rec.UserToken, rec.HasToken()
}

// CommitUserToken returns the directive that stores token in a fresh session,
// replacing whatever session the client held before.
func (g *Gateway) CommitUserToken(token string) (session.Directive, error) {
	if token == "" {
		return session.Directive{}, ErrEmptyToken
	}

	d, err := g.store.Commit(session.Record{UserToken: token})
	if err != nil {
		return session.Directive{}, err
	}

	telemetry.GetMetrics().SessionsCommittedTotal.Add(context.Background(), 1)

	return d, nil
}

// DestroySession returns the directive that clears the session.
func (g *Gateway) DestroySession() session.Directive {
	return g.destroy("destroy")
}

func (g *Gateway) destroy(cause string) session.Directive {
	telemetry.GetMetrics().SessionsDestroyedTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("cause", cause)))

	return g.store.Destroy()
}

// SafeRedirect returns target when it is a local absolute path, and fallback otherwise.
// Scheme-relative ("//host") and backslash forms are rejected because browsers
// treat them as cross-origin.
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}

	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		log.Debug().Str("target", target).Msg("Ignoring unsafe redirect target")
		return fallback
	}

	return target
}
