package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/monitor"
)

// printStats writes the collector and metric totals of the session.
func printStats(out io.Writer, eng *monitor.Engine, kernel *collect.KernelCollector, reader sdkmetric.Reader) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "\n%s\n", eng.Model().Snapshot().Counters)
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintln(w, "Collector\tStatus\tSent\tStalled\tQueued")
	for _, s := range eng.Statuses() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", s.Name, s.Status, s.Sent, s.Stalled, s.Queued)
	}
	if kernel != nil {
		fmt.Fprintf(w, "\nKernel records decoded:\t%d\n", kernel.Decoded())
		fmt.Fprintf(w, "Kernel records degraded:\t%d\n", kernel.Degraded())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		fmt.Fprintf(w, "\nCould not collect metrics: %v\n", err)
		return
	}
	rows := metricRows(rm)
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\n", r.name, r.value)
	}
}

type metricRow struct {
	name  string
	value int64
}

// metricRows flattens int64 sums and gauges into "name{attrs}" rows sorted
// by name.
func metricRows(rm metricdata.ResourceMetrics) []metricRow {
	var rows []metricRow
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					rows = append(rows, metricRow{rowName(m.Name, dp.Attributes), dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					rows = append(rows, metricRow{rowName(m.Name, dp.Attributes), dp.Value})
				}
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows
}

func rowName(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	parts := make([]string, 0, attrs.Len())
	for _, kv := range attrs.ToSlice() {
		parts = append(parts, string(kv.Key)+"="+kv.Value.Emit())
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}
