package login

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiongate/internal/identity"
	"github.com/wolfeidau/sessiongate/internal/session"
	"github.com/wolfeidau/sessiongate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies the result of resolving a request's identity.
type Outcome int

const (
	// Anonymous means the request carried no usable session token.
	Anonymous Outcome = iota
	// Resolved means the authority confirmed the token and returned an identity.
	Resolved
	// ValidationFailed means the token could not be confirmed; the session
	// must be torn down with Result.Directive.
	ValidationFailed
	// Canceled means the inbound request went away while the authority call
	// was in flight. Nothing should be written.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Anonymous:
		return "anonymous"
	case Resolved:
		return "resolved"
	case ValidationFailed:
		return "validation_failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of GetOptionalUser.
type Result struct {
	Outcome Outcome

	// Identity is set when Outcome is Resolved.
	Identity *identity.Identity

	// Directive is the logout directive when Outcome is ValidationFailed.
	Directive session.Directive

	// Err is the underlying cause for ValidationFailed and Canceled.
	Err error
}

// GetOptionalUser resolves the identity behind the request's session.
//
// Without a token it returns Anonymous and makes no network call. With a
// token it asks the authority; any failure to confirm the token, whether the
// authority is down, says no, or answers with the wrong shape, produces
// ValidationFailed together with the logout directive.
func (g *Gateway) GetOptionalUser(ctx context.Context, req Request) Result {
	token, ok := g.GetUserToken(req.Header)
	if !ok {
		return g.record(ctx, Result{Outcome: Anonymous})
	}

	logger := zerolog.Ctx(ctx)

	started := time.Now()
	ident, err := g.authority.Validate(ctx, token)
	telemetry.GetMetrics().AuthorityDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		if ctx.Err() != nil {
			logger.Debug().Err(ctx.Err()).Msg("Request ended during identity validation")
			return g.record(ctx, Result{Outcome: Canceled, Err: ctx.Err()})
		}

		target := g.failureRedirect(req)
		logger.Info().Err(err).Str("redirect", target).Msg("Identity validation failed, forcing logout")

		return g.record(ctx, Result{
			Outcome:   ValidationFailed,
			Directive: g.destroy("validation_failed").Redirect(target),
			Err:       err,
		})
	}

	logger.Debug().Str("user_id", ident.ID).Msg("Identity resolved")

	return g.record(ctx, Result{Outcome: Resolved, Identity: ident})
}

// failureRedirect sends safe (GET/HEAD) requests back where they came from so
// the page reloads anonymously; anything else goes to the logout target.
func (g *Gateway) failureRedirect(req Request) string {
	if req.URL == nil || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return g.logoutRedirect
	}

	return SafeRedirect(req.URL.RequestURI(), g.logoutRedirect)
}

func (g *Gateway) record(ctx context.Context, res Result) Result {
	telemetry.GetMetrics().ResolutionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", res.Outcome.String())))
	return res
}
