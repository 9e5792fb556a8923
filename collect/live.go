package collect

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tekert/psfmonitor/monitor"
)

// The PSF trace fixup provider.
const (
	LiveProviderName = "Microsoft-Windows-PSFTraceFixup"
	LiveProviderGUID = "{7c1d7c1c-544b-5179-2801-3929f0017802}"
)

// LiveSessionPrefix starts the name of every live session.
const LiveSessionPrefix = "PsfMonitor-"

// LiveEvent is one provider event as delivered by a LiveSource.
type LiveEvent interface {
	PID() uint32
	TID() uint32
	Time() time.Time
	// Provider is the provider name reported by the event.
	Provider() string
	String(name string) (string, error)
	Int(name string) (int64, error)
}

// LiveSource delivers provider events to fn until ctx is done or fn fails.
type LiveSource interface {
	Run(ctx context.Context, session string, fn func(LiveEvent) error) error
}

// LiveCollector turns PSF trace fixup events into records and adds every
// pid it sees to the shared allow-list.
type LiveCollector struct {
	shared  *monitor.Shared
	src     LiveSource
	session string

	index  uint64
	status atomic.Value // string
}

// NewLiveCollector creates a collector with a session name unique to this
// run. A nil src uses the platform session.
func NewLiveCollector(shared *monitor.Shared, src LiveSource) *LiveCollector {
	if src == nil {
		src = NewLiveSource()
	}
	c := &LiveCollector{
		shared:  shared,
		src:     src,
		session: LiveSessionPrefix + uuid.NewString(),
	}
	c.status.Store(StatusStopped)
	return c
}

func (c *LiveCollector) Name() string { return LiveProviderName }

func (c *LiveCollector) Status() string { return c.status.Load().(string) }

// Session returns the trace session name.
func (c *LiveCollector) Session() string { return c.session }

func (c *LiveCollector) Run(ctx context.Context, sink monitor.Sink) error {
	c.status.Store(StatusListening)
	err := c.src.Run(ctx, c.session, func(ev LiveEvent) error {
		if c.shared.Stopped() {
			return ErrStopped
		}
		return sink.Emit(ctx, c.record(ev))
	})
	c.status.Store(noTraceStatus(err))
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

// noTraceStatus reports whether the provider was enabled and whether the
// session was processed to the end.
func noTraceStatus(err error) string {
	enabled := !errors.Is(err, ErrSourceUnavailable) && !errors.Is(err, ErrUnsupported)
	processed := err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped)
	return "NoTrace enable=" + strconv.FormatBool(enabled) + " process=" + strconv.FormatBool(processed)
}

func (c *LiveCollector) record(ev LiveEvent) *monitor.Record {
	opt := func(name string) (string, bool) {
		s, err := ev.String(name)
		return s, err == nil
	}
	operation, _ := opt("Operation")
	inputs, hasIn := opt("Inputs")
	result, hasRes := opt("Result")
	outputs, hasOut := opt("Outputs")
	caller, _ := opt("Caller")
	if !hasIn && !hasRes && !hasOut {
		outputs, _ = opt("Message")
	}

	pid := ev.PID()
	c.shared.AddTarget(pid)
	name := c.shared.ProcessName(pid)
	if name == "" {
		name = processImageName(pid)
		c.shared.SetProcessName(pid, name)
	}

	src := ev.Provider()
	if src == "" {
		src = LiveProviderName
	}
	c.index++
	r := &monitor.Record{
		Index:       c.index,
		Timestamp:   ev.Time(),
		PID:         pid,
		TID:         ev.TID(),
		ProcessName: name,
		Source:      src,
		Name:        operation,
		Inputs:      textFields(inputs),
		Result:      result,
		Outputs:     textFields(outputs),
		Caller:      caller,
	}
	r.Start, r.End = liveSpan(ev)
	return r
}

// liveSpan anchors the Start/End tick counts (100ns) at the event time,
// which is taken as the end of the call.
func liveSpan(ev LiveEvent) (start, end time.Time) {
	s, err1 := ev.Int("Start")
	e, err2 := ev.Int("End")
	if err1 != nil || err2 != nil || e < s || (s == 0 && e == 0) {
		return time.Time{}, time.Time{}
	}
	end = ev.Time()
	return end.Add(-time.Duration(e-s) * 100), end
}

// textFields keeps provider text as one unnamed field. The provider
// already formats its blocks as Name=\tValue lines.
func textFields(s string) monitor.Fields {
	if s == "" {
		return nil
	}
	return monitor.Fields{{Value: s}}
}
