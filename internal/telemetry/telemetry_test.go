package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitTelemetry_RejectsSampleRatio(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		shutdown, err := InitTelemetry(context.Background(), Config{ServiceName: "sessiongate", SampleRatio: ratio})
		require.ErrorContains(t, err, "sample ratio")
		require.Nil(t, shutdown)
	}
}

func TestGetMetrics_Singleton(t *testing.T) {
	m := GetMetrics()
	require.Same(t, m, GetMetrics())

	require.NotNil(t, m.SessionsCommittedTotal)
	require.NotNil(t, m.SessionsDestroyedTotal)
	require.NotNil(t, m.ArtifactsRejectedTotal)
	require.NotNil(t, m.ResolutionsTotal)
	require.NotNil(t, m.AuthorityDuration)
	require.NotNil(t, m.ProxiedRequestsTotal)
}

func TestGetMetrics_ExportsThroughGlobalProvider(t *testing.T) {
	ctx := context.Background()

	// instruments created before the provider is installed still report to it
	m := GetMetrics()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	m.ResolutionsTotal.Add(ctx, 2, metric.WithAttributes(attribute.String("outcome", "resolved")))
	m.SessionsCommittedTotal.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != meterName {
			continue
		}
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}

	require.Equal(t, int64(2), sums["sessiongate.identity.resolutions"])
	require.Equal(t, int64(1), sums["sessiongate.session.committed"])
}
