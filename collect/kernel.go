package collect

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tekert/psfmonitor/monitor"
)

// DetailMode selects how FileIO and DiskIO detail records are capped.
type DetailMode string

const (
	// DetailTarget emits detail only for the active filter pid.
	DetailTarget DetailMode = "target"
	// DetailDebug emits detail for every admitted pid until the model holds
	// DetailCeiling records.
	DetailDebug DetailMode = "debug"
)

// DefaultDetailCeiling is the captured count above which debug mode stops
// emitting detail records.
const DefaultDetailCeiling = 10000

// KernelCollector name and status strings.
const (
	KernelName = monitor.SourceKernel

	StatusListening = "Listening"
	StatusNonKernel = "NonKernel"
	StatusStopped   = "Stopped"
)

// KernelSource delivers kernel events to fn until ctx is done or fn returns
// an error. It returns ErrSourceUnavailable when the session cannot be
// enabled.
type KernelSource interface {
	Run(ctx context.Context, fn func(KernelEvent) error) error
}

// KernelOptions configures a KernelCollector.
type KernelOptions struct {
	// StrictDecode makes an undecodable recognized event fatal for the
	// collector. Otherwise a degraded record is emitted.
	StrictDecode  bool
	DetailMode    DetailMode
	DetailCeiling int
}

// DefaultKernelOptions returns strict decoding with target detail.
func DefaultKernelOptions() KernelOptions {
	return KernelOptions{
		StrictDecode:  true,
		DetailMode:    DetailTarget,
		DetailCeiling: DefaultDetailCeiling,
	}
}

// Validate checks the detail mode.
func (o KernelOptions) Validate() error {
	switch o.DetailMode {
	case DetailTarget, DetailDebug:
	default:
		return fmt.Errorf("%w: detail mode %q", monitor.ErrInvalidConfig, o.DetailMode)
	}
	if o.DetailCeiling < 0 {
		return fmt.Errorf("%w: negative detail ceiling", monitor.ErrInvalidConfig)
	}
	return nil
}

// KernelCollector turns kernel trace events into records and registry
// control blocks.
type KernelCollector struct {
	shared *monitor.Shared
	src    KernelSource
	opts   KernelOptions

	dec    *KernelDecoder
	index  uint64
	status atomic.Value // string

	decoded  atomic.Uint64
	degraded atomic.Uint64
}

// NewKernelCollector creates a collector over src. A nil src uses the
// platform kernel session.
func NewKernelCollector(shared *monitor.Shared, src KernelSource, opts KernelOptions) *KernelCollector {
	if src == nil {
		src = NewKernelSource()
	}
	if opts.DetailMode == "" {
		opts.DetailMode = DetailTarget
	}
	if opts.DetailCeiling == 0 {
		opts.DetailCeiling = DefaultDetailCeiling
	}
	c := &KernelCollector{shared: shared, src: src, opts: opts}
	c.status.Store(StatusStopped)
	return c
}

func (c *KernelCollector) Name() string { return KernelName }

func (c *KernelCollector) Status() string { return c.status.Load().(string) }

// EmitsControlBlocks marks the collector as the control block source.
func (c *KernelCollector) EmitsControlBlocks() bool { return true }

// Decoded returns the number of records emitted since creation.
func (c *KernelCollector) Decoded() uint64 { return c.decoded.Load() }

// Degraded returns the number of degraded records emitted.
func (c *KernelCollector) Degraded() uint64 { return c.degraded.Load() }

// Run starts a kernel session and blocks until ctx is done. The file table
// starts empty on every run; the record index keeps counting.
func (c *KernelCollector) Run(ctx context.Context, sink monitor.Sink) error {
	c.dec = NewKernelDecoder()
	c.status.Store(StatusListening)
	err := c.src.Run(ctx, func(ev KernelEvent) error {
		return c.handle(ctx, sink, ev)
	})
	switch {
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrUnsupported):
		c.status.Store(StatusNonKernel)
		collog.Warn().Err(err).Msg("kernel session not available, continuing without it")
	case errors.Is(err, ErrStopped):
		c.status.Store(StatusStopped)
		return nil
	default:
		c.status.Store(StatusStopped)
	}
	return err
}

func (c *KernelCollector) handle(ctx context.Context, sink monitor.Sink, ev KernelEvent) error {
	if c.shared.Stopped() {
		return ErrStopped
	}
	pid := ev.PID()
	if pid == c.shared.SelfPID() {
		return nil
	}
	group, op := ev.Group(), ev.Opcode()
	switch group {
	case "Thread":
		return nil
	case "Process":
		if op == "Start" || op == "DCStart" {
			c.trackProcess(ev)
		}
	case "FileIO":
		c.dec.Track(ev)
	}

	name := group + "/" + op
	detail, ok := c.dec.Handles(name)
	if !ok {
		return nil
	}
	if !c.shared.Admits(pid) {
		return nil
	}
	if detail && !c.detailAllowed(pid) {
		return nil
	}

	rec, kcb, err := c.dec.Decode(ev)
	if err != nil {
		if c.opts.StrictDecode {
			return err
		}
		collog.SampledWarnWithErrSig("kernel-decode:"+name, err).
			Str("event", name).
			Msg("emitting degraded kernel record")
		rec = c.degradedRecord(name, ev, err)
		c.degraded.Add(1)
	}
	if kcb != nil {
		return sink.EmitKCB(ctx, *kcb)
	}
	c.index++
	rec.Index = c.index
	rec.ProcessName = c.shared.ProcessName(rec.PID)
	c.decoded.Add(1)
	return sink.Emit(ctx, rec)
}

// detailAllowed applies the volume cap.
func (c *KernelCollector) detailAllowed(pid uint32) bool {
	if c.opts.DetailMode == DetailDebug {
		return c.shared.Captured() < c.opts.DetailCeiling
	}
	return int(pid) == c.shared.FilterPID()
}

func (c *KernelCollector) trackProcess(ev KernelEvent) {
	pid, err := ev.Uint("ProcessID")
	if err != nil {
		return
	}
	if image, err := ev.String("ImageFileName"); err == nil {
		c.shared.SetProcessName(uint32(pid), image)
	}
}

func (c *KernelCollector) degradedRecord(name string, ev KernelEvent, err error) *monitor.Record {
	return &monitor.Record{
		Timestamp: ev.Time(),
		PID:       ev.PID(),
		TID:       ev.TID(),
		Source:    monitor.SourceKernel,
		Name:      name,
		Outputs:   monitor.Fields{kv("DecodeError", err.Error())},
		Degraded:  true,
	}
}
