package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/sessiongate/internal/http"
	"github.com/wolfeidau/sessiongate/internal/login"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIPrefix is where the backend proxy is mounted.
const APIPrefix = "/api"

// Config holds everything the gateway handler is assembled from.
type Config struct {
	Gateway *login.Gateway
	Logger  zerolog.Logger

	// Backend serves authenticated /api requests with the prefix stripped.
	// /api is not mounted when it is nil.
	Backend http.Handler

	// CORSOrigins enables credentialed CORS for /api from these origins.
	CORSOrigins []string

	// TrustedOrigins may make cross-origin POSTs to the session routes.
	TrustedOrigins []string

	// Instrument wraps the handler with otelhttp.
	Instrument bool
}

// NewHandler returns the gateway's HTTP handler.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}

	protection := csrf.New()
	for _, origin := range cfg.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	r := chi.NewRouter()
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health check endpoint for load balancer
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// HTML routes get CSRF, API routes get CORS
	r.Group(func(r chi.Router) {
		r.Use(protection.Handler)
		r.Use(httpmiddleware.ClientIPMiddleware())

		r.Get("/auth/user", cfg.Gateway.UserHandler())
		r.Post("/auth/session", cfg.Gateway.SessionHandler())
		r.Post("/logout", cfg.Gateway.LogoutHandler())
	})

	if cfg.Backend != nil {
		api := cfg.Gateway.RequireUser("")(http.StripPrefix(APIPrefix, cfg.Backend))
		if len(cfg.CORSOrigins) > 0 {
			api = withCORS(cfg.CORSOrigins, api)
		}
		r.Handle(APIPrefix+"/*", api)
	}

	var handler http.Handler = gzhttp.GzipHandler(r)
	if cfg.Instrument {
		handler = otelhttp.NewHandler(handler, "sessiongate",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + routeName(r.URL.Path)
			}),
		)
	}

	return handler, nil
}

// routeName keeps span names low cardinality by collapsing proxied paths.
func routeName(path string) string {
	if path == APIPrefix || strings.HasPrefix(path, APIPrefix+"/") {
		return APIPrefix + "/*"
	}
	return path
}

// withCORS adds credentialed CORS support to the proxied API.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost,
			http.MethodPut, http.MethodPatch, http.MethodDelete,
		},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return c.Handler(h)
}
