package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/sessiongate"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session artifact metrics
	SessionsCommittedTotal metric.Int64Counter
	SessionsDestroyedTotal metric.Int64Counter
	ArtifactsRejectedTotal metric.Int64Counter

	// Identity resolution metrics
	ResolutionsTotal  metric.Int64Counter
	AuthorityDuration metric.Float64Histogram

	// Downstream forwarding metrics
	ProxiedRequestsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments created before InitTelemetry runs are bound to the global
// delegating provider, so they start exporting once a real provider is set.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCommittedTotal, _ = meter.Int64Counter(
		"sessiongate.session.committed",
		metric.WithDescription("Total number of session artifacts issued"),
		metric.WithUnit("{session}"),
	)

	m.SessionsDestroyedTotal, _ = meter.Int64Counter(
		"sessiongate.session.destroyed",
		metric.WithDescription("Total number of session artifacts cleared, by cause"),
		metric.WithUnit("{session}"),
	)

	m.ArtifactsRejectedTotal, _ = meter.Int64Counter(
		"sessiongate.session.artifacts_rejected",
		metric.WithDescription("Total number of inbound session artifacts that failed verification or had expired"),
		metric.WithUnit("{artifact}"),
	)

	m.ResolutionsTotal, _ = meter.Int64Counter(
		"sessiongate.identity.resolutions",
		metric.WithDescription("Total number of identity resolutions, by outcome"),
		metric.WithUnit("{resolution}"),
	)

	m.AuthorityDuration, _ = meter.Float64Histogram(
		"sessiongate.identity.authority_duration",
		metric.WithDescription("Duration of identity authority validation calls"),
		metric.WithUnit("ms"),
	)

	m.ProxiedRequestsTotal, _ = meter.Int64Counter(
		"sessiongate.backend.proxied",
		metric.WithDescription("Total number of requests forwarded to the backend with a bearer token"),
		metric.WithUnit("{request}"),
	)

	return m
}
