package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/config"
	"github.com/tekert/psfmonitor/monitor"
)

func TestMetricRows(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := monitor.NewMetrics(provider.Meter(monitor.MeterName))
	require.NoError(t, err)
	model := monitor.NewModel(monitor.WithMetrics(metrics))
	require.NoError(t, metrics.ObserveModel(model))
	defer metrics.Close()

	model.Drain(monitor.Batch{Records: []*monitor.Record{
		liveRecord(1, "CreateFile", "Success"),
		liveRecord(2, "CopyFile", "Success"),
	}})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	rows := metricRows(rm)

	got := make(map[string]int64, len(rows))
	for _, r := range rows {
		got[r.name] = r.value
	}
	assert.Equal(t, int64(2), got["psfmonitor.records{source=Microsoft-Windows-PSFTraceFixup}"])
	assert.Equal(t, int64(2), got["psfmonitor.model.captured"])
	assert.Equal(t, int64(2), got["psfmonitor.model.visible"])
	assert.IsNonDecreasing(t, names(rows))
}

func names(rows []metricRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.name
	}
	return out
}

func TestPrintStats(t *testing.T) {
	cfg := config.Default()
	cfg.Collectors.Live = false
	cfg.Collectors.Application = false
	cfg.Collectors.System = false
	eng, kernel := newEngine(cfg, nil)

	var buf bytes.Buffer
	printStats(&buf, eng, kernel, sdkmetric.NewManualReader())
	out := buf.String()
	assert.Contains(t, out, "0 of 0 Events  Kernel KCBs=0")
	assert.Contains(t, out, collect.KernelName)
	assert.Contains(t, out, collect.StatusStopped)
	assert.Contains(t, out, "Kernel records decoded:")
}
