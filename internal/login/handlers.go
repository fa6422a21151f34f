package login

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpmiddleware "github.com/wolfeidau/sessiongate/internal/http"
	"github.com/wolfeidau/sessiongate/internal/identity"
)

const maxFormBytes = 16 << 10

// userResponse mirrors what a page loader needs: the user, or null.
type userResponse struct {
	User *identity.Identity `json:"user"`
}

// sessionRequest is the JSON form of POST /auth/session.
type sessionRequest struct {
	AccessToken string `json:"access_token"`
	RedirectTo  string `json:"redirect_to"`
}

// UserHandler serves GET /auth/user: {"user": {...}} for a validated session,
// {"user": null} without one, and the logout redirect when validation fails.
func (g *Gateway) UserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := g.GetOptionalUser(r.Context(), RequestFrom(r))
		if !proceed(w, res) {
			return
		}

		writeJSON(w, http.StatusOK, userResponse{User: res.Identity})
	}
}

// SessionHandler serves POST /auth/session. It takes an access token freshly
// issued by the identity authority (form field or JSON "access_token") and
// commits it into a new session, then redirects.
func (g *Gateway) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		req, err := decodeSessionRequest(w, r)
		if err != nil {
			logger.Warn().Err(err).Msg("Invalid session request")
			http.Error(w, "invalid session request", http.StatusBadRequest)
			return
		}

		d, err := g.AuthenticateUser(req.AccessToken, req.RedirectTo)
		if err != nil {
			if errors.Is(err, ErrEmptyToken) {
				http.Error(w, "access_token is required", http.StatusBadRequest)
				return
			}
			logger.Error().Err(err).Msg("Failed to create session")
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		logger.Info().
			Str("client_ip", httpmiddleware.ClientIPFromContext(r.Context())).
			Str("redirect", d.Location).
			Msg("User session established")

		d.Apply(w)
	}
}

// LogoutHandler serves POST /logout, honouring an optional redirect_to field.
func (g *Gateway) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

		// a malformed body still logs the user out, just to the default target
		redirectTo := ""
		if err := r.ParseForm(); err == nil {
			redirectTo = r.PostForm.Get("redirect_to")
		}

		_, hadSession := g.GetUserToken(r.Header)
		d := g.Logout(redirectTo)

		zerolog.Ctx(r.Context()).Info().
			Str("client_ip", httpmiddleware.ClientIPFromContext(r.Context())).
			Bool("had_session", hadSession).
			Msg("User logged out")

		d.Apply(w)
	}
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (*sessionRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	return &sessionRequest{
		AccessToken: r.PostForm.Get("access_token"),
		RedirectTo:  r.PostForm.Get("redirect_to"),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
