package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the monitor metrics.
const MeterName = "psfmonitor"

// Metrics records drain activity. A nil *Metrics records nothing.
type Metrics struct {
	records   metric.Int64Counter
	degraded  metric.Int64Counter
	kcbs      metric.Int64Counter
	backfills metric.Int64Counter
	faults    metric.Int64Counter
	meter     metric.Meter
	reg       metric.Registration
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error
	if m.records, err = meter.Int64Counter("psfmonitor.records",
		metric.WithDescription("Records drained into the model"),
	); err != nil {
		return nil, err
	}
	if m.degraded, err = meter.Int64Counter("psfmonitor.records.degraded",
		metric.WithDescription("Records emitted with a decode or parse error"),
	); err != nil {
		return nil, err
	}
	if m.kcbs, err = meter.Int64Counter("psfmonitor.kcbs",
		metric.WithDescription("Registry control blocks accepted into the cache"),
	); err != nil {
		return nil, err
	}
	if m.backfills, err = meter.Int64Counter("psfmonitor.kcbs.backfilled",
		metric.WithDescription("Older records resolved by a new control block"),
	); err != nil {
		return nil, err
	}
	if m.faults, err = meter.Int64Counter("psfmonitor.drain.faults",
		metric.WithDescription("Drain cycles that failed"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics creates the instruments on the global meter provider.
// Configure the provider with otel.SetMeterProvider before calling it.
func DefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

func (m *Metrics) recordDrain(records []*Record, res DrainResult) {
	if m == nil {
		return
	}
	ctx := context.Background()
	perSource := make(map[string]int64, 3)
	var degraded int64
	for _, r := range records {
		if r == nil {
			continue
		}
		perSource[r.Source]++
		if r.Degraded {
			degraded++
		}
	}
	for src, n := range perSource {
		m.records.Add(ctx, n, metric.WithAttributes(attribute.String("source", src)))
	}
	if degraded > 0 {
		m.degraded.Add(ctx, degraded)
	}
	if res.KCBsAccepted > 0 {
		m.kcbs.Add(ctx, int64(res.KCBsAccepted))
	}
	if res.Backfilled > 0 {
		m.backfills.Add(ctx, int64(res.Backfilled))
	}
}

func (m *Metrics) recordFault() {
	if m == nil {
		return
	}
	m.faults.Add(context.Background(), 1)
}

// ObserveModel reports the counters of model as gauges on every collection.
func (m *Metrics) ObserveModel(model *Model) error {
	captured, err := m.meter.Int64ObservableGauge("psfmonitor.model.captured",
		metric.WithDescription("Records in the authoritative sequence"))
	if err != nil {
		return err
	}
	visible, err := m.meter.Int64ObservableGauge("psfmonitor.model.visible",
		metric.WithDescription("Records in the filtered view"))
	if err != nil {
		return err
	}
	cached, err := m.meter.Int64ObservableGauge("psfmonitor.model.kcbs",
		metric.WithDescription("Entries in the control block cache"))
	if err != nil {
		return err
	}
	reg, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		c := model.Snapshot().Counters
		o.ObserveInt64(captured, int64(c.Captured))
		o.ObserveInt64(visible, int64(c.Visible))
		o.ObserveInt64(cached, int64(c.ControlBlocks))
		return nil
	}, captured, visible, cached)
	if err != nil {
		return err
	}
	m.reg = reg
	return nil
}

// Close unregisters the model gauges.
func (m *Metrics) Close() error {
	if m == nil || m.reg == nil {
		return nil
	}
	return m.reg.Unregister()
}
