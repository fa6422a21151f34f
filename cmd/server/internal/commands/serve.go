package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiongate/internal/backend"
	"github.com/wolfeidau/sessiongate/internal/client"
	"github.com/wolfeidau/sessiongate/internal/identity"
	"github.com/wolfeidau/sessiongate/internal/logger"
	"github.com/wolfeidau/sessiongate/internal/login"
	"github.com/wolfeidau/sessiongate/internal/server"
	"github.com/wolfeidau/sessiongate/internal/session"
	"github.com/wolfeidau/sessiongate/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"127.0.0.1:8080" env:"SESSIONGATE_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"SESSIONGATE_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"SESSIONGATE_TLS_KEY"`

	// CORS and CSRF configuration
	CORSOrigins    []string `help:"allowed CORS origins for /api requests" env:"SESSIONGATE_CORS_ORIGINS"`
	TrustedOrigins []string `help:"origins allowed to make cross-origin POSTs to the session routes" env:"SESSIONGATE_TRUSTED_ORIGINS"`

	// Redirect targets, both same-origin paths
	LoginRedirect  string `help:"where to send the browser after a session is established" default:"/" env:"SESSIONGATE_LOGIN_REDIRECT"`
	LogoutRedirect string `help:"where to send the browser after logout or a failed validation" default:"/" env:"SESSIONGATE_LOGOUT_REDIRECT"`

	// Backend configuration
	BackendURL string `help:"base URL of the application backend proxied under /api" default:"" env:"SESSIONGATE_BACKEND_URL"`

	// Telemetry configuration
	Tracing          bool    `help:"enable tracing" default:"false" env:"SESSIONGATE_TRACING"`
	TraceSampleRatio float64 `help:"fraction of root traces sampled" default:"1" env:"SESSIONGATE_TRACE_SAMPLE_RATIO"`

	Session   SessionFlags   `embed:"" prefix:"session-"`
	Authority AuthorityFlags `embed:"" prefix:"authority-"`
}

// SessionFlags configures the session cookie and the artifact inside it.
type SessionFlags struct {
	// Secrets are never split on a separator. The env var holds exactly one
	// secret; rotate by repeating the flag or listing secrets in the config file.
	Secrets    []string      `help:"session signing secret, repeat for rotation (newest first; the first signs and all verify)" env:"SESSIONGATE_SESSION_SECRETS" sep:"none"`
	TTL        time.Duration `help:"session lifetime" default:"168h" env:"SESSIONGATE_SESSION_TTL"`
	CookieName string        `help:"session cookie name" default:"__session" env:"SESSIONGATE_SESSION_COOKIE_NAME"`
	Domain     string        `help:"session cookie domain" default:"" env:"SESSIONGATE_SESSION_COOKIE_DOMAIN"`
	Insecure   bool          `help:"drop the Secure attribute from the session cookie (plain HTTP development only)" default:"false" env:"SESSIONGATE_SESSION_INSECURE"`
}

func (s *SessionFlags) Validate() error {
	if len(s.Secrets) == 0 {
		return errors.New("at least one session secret is required (--session-secrets or SESSIONGATE_SESSION_SECRETS)")
	}
	for i, secret := range s.Secrets {
		if len(secret) < session.MinSecretLength {
			return fmt.Errorf("session secret %d must be at least %d bytes", i, session.MinSecretLength)
		}
	}
	if s.TTL < time.Second {
		return fmt.Errorf("session TTL must be at least 1s, got %s", s.TTL)
	}
	if s.CookieName == "" {
		return errors.New("session cookie name must not be empty")
	}
	return nil
}

func (s *SessionFlags) secrets() [][]byte {
	out := make([][]byte, 0, len(s.Secrets))
	for _, secret := range s.Secrets {
		out = append(out, []byte(secret))
	}
	return out
}

// AuthorityFlags configures the identity authority client.
type AuthorityFlags struct {
	URL     string        `help:"identity authority base URL" default:"" env:"SESSIONGATE_AUTHORITY_URL"`
	Timeout time.Duration `help:"deadline for a single token validation call" default:"5s" env:"SESSIONGATE_AUTHORITY_TIMEOUT"`
}

func (a *AuthorityFlags) Validate() error {
	if a.URL == "" {
		return errors.New("identity authority URL is required (--authority-url or SESSIONGATE_AUTHORITY_URL)")
	}
	if _, err := identity.ParseBaseURL(a.URL); err != nil {
		return err
	}
	if a.Timeout <= 0 {
		return errors.New("authority timeout must be positive")
	}
	return nil
}

func (c *ServeCmd) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("failed to validate session flags: %w", err)
	}
	if err := c.Authority.Validate(); err != nil {
		return fmt.Errorf("failed to validate authority flags: %w", err)
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1, got %v", c.TraceSampleRatio)
	}
	if c.LoginRedirect != login.SafeRedirect(c.LoginRedirect, "") {
		return fmt.Errorf("login redirect must be a same-origin path, got %q", c.LoginRedirect)
	}
	if c.LogoutRedirect != login.SafeRedirect(c.LogoutRedirect, "") {
		return fmt.Errorf("logout redirect must be a same-origin path, got %q", c.LogoutRedirect)
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting session gateway")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "sessiongate",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	handler, err := c.newHandler(log)
	if err != nil {
		return err
	}

	if c.Cert != "" {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
	} else if !c.Session.Insecure {
		log.Warn().Msg("Serving plain HTTP with Secure session cookies; a TLS-terminating proxy must sit in front")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, log, configureHTTPServer(c.Listen, handler), c.Cert, c.Key)
}

// newHandler builds the session components from the flags and assembles the
// HTTP handler around them.
func (c *ServeCmd) newHandler(log zerolog.Logger) (http.Handler, error) {
	codec, err := session.NewCodec(c.Session.secrets(), c.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session codec: %w", err)
	}

	store, err := session.NewStore(codec, session.CookieOptions{
		Name:   c.Session.CookieName,
		Domain: c.Session.Domain,
		Secure: !c.Session.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	authority, err := identity.NewClient(c.Authority.URL,
		identity.WithTimeout(c.Authority.Timeout),
		identity.WithTransport(c.transport()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	gw, err := login.NewGateway(store, authority, login.Config{
		LoginRedirect:  c.LoginRedirect,
		LogoutRedirect: c.LogoutRedirect,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session gateway: %w", err)
	}

	log.Info().
		Str("authority", authority.Endpoint()).
		Dur("authority_timeout", c.Authority.Timeout).
		Str("cookie", store.CookieName()).
		Dur("session_ttl", codec.TTL()).
		Int("secrets", len(c.Session.Secrets)).
		Msg("Session gateway initialized")

	var proxy http.Handler
	if c.BackendURL != "" {
		p, err := backend.NewProxy(c.BackendURL, gw, backend.WithTransport(c.transport()))
		if err != nil {
			return nil, fmt.Errorf("failed to create backend proxy: %w", err)
		}
		proxy = p
		log.Info().Str("backend", c.BackendURL).Str("prefix", server.APIPrefix).Msg("Backend proxy registered")
	}

	return server.NewHandler(server.Config{
		Gateway:        gw,
		Logger:         log,
		Backend:        proxy,
		CORSOrigins:    c.CORSOrigins,
		TrustedOrigins: c.TrustedOrigins,
		Instrument:     c.Tracing,
	})
}

// transport returns the round tripper for outbound calls, instrumented when
// tracing is enabled.
func (c *ServeCmd) transport() http.RoundTripper {
	cfg := client.DefaultConfig()
	cfg.Tracing = c.Tracing
	return client.NewTransport(cfg)
}

// serve runs srv until ctx is done, then drains connections.
func serve(ctx context.Context, log zerolog.Logger, srv *http.Server, cert, key string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("tls", cert != "").Msg("Starting HTTP server")
		if cert != "" {
			errCh <- srv.ListenAndServeTLS(cert, key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
