package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sessiongate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultCookieName matches the cookie name used by most cookie-session libraries.
const DefaultCookieName = "__session"

// CookieOptions controls the attributes of the session cookie. The cookie is
// always HttpOnly so client-side script can neither read nor replace it.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// Store reads session records from inbound request headers and produces the
// directives that commit or clear them on the way out. It holds no per-request
// state and is safe for concurrent use.
type Store struct {
	codec  *Codec
	cookie CookieOptions
}

// NewStore creates a store over codec. Empty cookie options fall back to
// DefaultCookieName, path "/" and SameSite=Lax.
func NewStore(codec *Codec, cookie CookieOptions) (*Store, error) {
	if codec == nil {
		return nil, errors.New("session codec is required")
	}

	if cookie.Name == "" {
		cookie.Name = DefaultCookieName
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}

	return &Store{codec: codec, cookie: cookie}, nil
}

// CookieName returns the name of the cookie carrying the artifact.
func (s *Store) CookieName() string {
	return s.cookie.Name
}

// Read decodes the session carried by the request headers.
//
// A missing, tampered or expired artifact all produce an empty Record; callers
// can't tell them apart. When the client sends several cookies with the
// session name (a stale one scoped to another path or domain), the first that
// decodes wins.
func (s *Store) Read(header http.Header) Record {
	// http.Request does the lenient Cookie header parsing for us
	cookies := (&http.Request{Header: header}).CookiesNamed(s.cookie.Name)
	if len(cookies) == 0 {
		return Record{}
	}

	var err error
	for _, cookie := range cookies {
		var rec Record
		if rec, err = s.codec.Decode(cookie.Value); err == nil {
			return rec
		}
	}

	reason := "invalid"
	if errors.Is(err, ErrExpiredArtifact) {
		reason = "expired"
	}
	log.Debug().Err(err).Str("reason", reason).Int("candidates", len(cookies)).Msg("Discarding session artifact")
	telemetry.GetMetrics().ArtifactsRejectedTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
	return Record{}
}

// Commit encodes rec and returns the directive that stores it on the client.
func (s *Store) Commit(rec Record) (Directive, error) {
	artifact, err := s.codec.Encode(rec)
	if err != nil {
		return Directive{}, err
	}

	ttl := s.codec.TTL()
	cookie := s.newCookie(artifact)
	cookie.MaxAge = int(ttl.Seconds())
	cookie.Expires = s.codec.now().Add(ttl)

	return Directive{Cookie: cookie}, nil
}

// Destroy returns the directive that expires any artifact already held by the
// client. It is valid whether or not a session exists.
func (s *Store) Destroy() Directive {
	cookie := s.newCookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)

	return Directive{Cookie: cookie}
}

func (s *Store) newCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookie.Name,
		Value:    value,
		Path:     s.cookie.Path,
		Domain:   s.cookie.Domain,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: s.cookie.SameSite,
	}
}
