package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown meter provider: %v", err)
		}
	})
	m, err := NewMetrics(provider.Meter(MeterName))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumBySource(t *testing.T, m *metricdata.Metrics) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum type")
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		src, _ := dp.Attributes.Value("source")
		out[src.AsString()] += dp.Value
	}
	return out
}

func TestMetricsRecordDrain(t *testing.T) {
	mt, reader := setupMetrics(t)
	m := NewModel(WithMetrics(mt))

	degraded := rec(3, 1, SourceApplication, "")
	degraded.Source = SourceApplication
	degraded.Degraded = true
	m.Drain(Batch{Records: []*Record{regRecord(1, 0x5), rec(2, 1, "CreateFile", "Success"), degraded}})
	m.Drain(Batch{KCBs: []KCB{{Handle: 0x5, Name: "k"}}})

	rm := collect(t, reader)
	records := findMetric(rm, "psfmonitor.records")
	require.NotNil(t, records)
	assert.Equal(t, map[string]int64{SourceKernel: 1, "PSF": 1, SourceApplication: 1}, sumBySource(t, records))

	for name, want := range map[string]int64{
		"psfmonitor.records.degraded": 1,
		"psfmonitor.kcbs":             1,
		"psfmonitor.kcbs.backfilled":  1,
	} {
		got := findMetric(rm, name)
		require.NotNil(t, got, name)
		sum := got.Data.(metricdata.Sum[int64])
		require.Len(t, sum.DataPoints, 1, name)
		assert.Equal(t, want, sum.DataPoints[0].Value, name)
	}
}

func TestMetricsObserveModel(t *testing.T) {
	mt, reader := setupMetrics(t)
	m := NewModel()
	require.NoError(t, mt.ObserveModel(m))
	defer mt.Close()

	m.Drain(Batch{Records: []*Record{rec(1, 1, "CreateFile", "Success"), rec(2, 2, "CreateFile", "Success")}})
	m.SetProcessFilter(1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"psfmonitor.model.captured": 2,
		"psfmonitor.model.visible":  1,
		"psfmonitor.model.kcbs":     0,
	} {
		got := findMetric(rm, name)
		require.NotNil(t, got, name)
		g, ok := got.Data.(metricdata.Gauge[int64])
		require.True(t, ok, name)
		require.Len(t, g.DataPoints, 1)
		assert.Equal(t, want, g.DataPoints[0].Value, name)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var mt *Metrics
	mt.recordDrain([]*Record{{}}, DrainResult{KCBsAccepted: 1})
	mt.recordFault()
	assert.NoError(t, mt.Close())
}
