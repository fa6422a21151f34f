package login

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiongate/internal/identity"
)

type contextKey string

const identityContextKey contextKey = "identity"

// WithUser returns a copy of ctx carrying ident.
func WithUser(ctx context.Context, ident *identity.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, ident)
}

// UserFromContext returns the identity resolved by OptionalUser or RequireUser.
// It reports false for anonymous requests.
func UserFromContext(ctx context.Context) (*identity.Identity, bool) {
	ident, ok := ctx.Value(identityContextKey).(*identity.Identity)
	return ident, ok && ident != nil
}

// OptionalUser resolves the request's identity and stores it in the request
// context before calling next. Anonymous requests pass through without one.
// When validation fails the logout directive is written instead and next is
// not called.
func (g *Gateway) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.GetOptionalUser(r.Context(), RequestFrom(r))
		if !proceed(w, res) {
			return
		}

		ctx := r.Context()
		if res.Outcome == Resolved {
			ctx = WithUser(ctx, res.Identity)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser is like OptionalUser but turns anonymous requests away: with a
// redirect to redirectURL, or with 401 when redirectURL is empty.
func (g *Gateway) RequireUser(redirectURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := g.GetOptionalUser(r.Context(), RequestFrom(r))
			if !proceed(w, res) {
				return
			}

			if res.Outcome == Anonymous {
				zerolog.Ctx(r.Context()).Debug().Str("path", r.URL.Path).Msg("No session, turning request away")
				if redirectURL == "" {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, redirectURL, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), res.Identity)))
		})
	}
}

// proceed writes whatever a non-continuing result requires and reports whether
// the request should carry on to the next handler.
func proceed(w http.ResponseWriter, res Result) bool {
	switch res.Outcome {
	case ValidationFailed:
		res.Directive.Apply(w)
		return false
	case Canceled:
		// the client is gone; there is nobody to send a directive to
		return false
	default:
		return true
	}
}
