package client

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds common outbound client configuration
type Config struct {
	// Tracing wraps the transport with otelhttp so outbound calls carry the
	// inbound trace context.
	Tracing bool

	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewTransport returns the round tripper used for calls to the identity
// authority and the backend. It adds no caching and no retries.
func NewTransport(cfg Config) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		base.IdleConnTimeout = cfg.IdleConnTimeout
	}

	if cfg.Tracing {
		return otelhttp.NewTransport(base)
	}
	return base
}
