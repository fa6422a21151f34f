package login

import (
	"github.com/wolfeidau/sessiongate/internal/session"
)

// AuthenticateUser establishes a session for a token that the authority has just
// issued and redirects to redirectTo, or to the login redirect when redirectTo
// is empty or not a local path.
//
// The token is not re-validated here; the exchange that produced it already did.
func (g *Gateway) AuthenticateUser(token, redirectTo string) (session.Directive, error) {
	d, err := g.CommitUserToken(token)
	if err != nil {
		return session.Directive{}, err
	}

	return d.Redirect(SafeRedirect(redirectTo, g.loginRedirect)), nil
}

// Logout clears the session and redirects to redirectTo, or to the logout
// redirect when redirectTo is empty or not a local path. It succeeds whether
// or not a session exists.
func (g *Gateway) Logout(redirectTo string) session.Directive {
	return g.destroy("logout").Redirect(SafeRedirect(redirectTo, g.logoutRedirect))
}
