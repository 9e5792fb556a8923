package collect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tekert/psfmonitor/eventlog"
	"github.com/tekert/psfmonitor/monitor"
)

// DefaultPollInterval is how often a LogTailer reads new entries.
const DefaultPollInterval = time.Second

// DefaultLogBatch bounds the entries read per Next call.
const DefaultLogBatch = 256

// FormatterUnavailable heads the outputs of degraded log records.
const FormatterUnavailable = "Formatter not available. Details:"

// OpenFunc opens an event log reader.
type OpenFunc func(channel, query string) (eventlog.Reader, error)

// LogTailOptions configures a LogTailer.
type LogTailOptions struct {
	PollInterval time.Duration
	Batch        int
	// Open defaults to eventlog.Open.
	Open OpenFunc
}

// LogTailer turns new entries of one event log channel into records.
type LogTailer struct {
	shared  *monitor.Shared
	channel string
	opts    LogTailOptions

	index  uint64
	status atomic.Value // string
}

// NewLogTailer creates a tailer for channel, e.g. eventlog.Application.
func NewLogTailer(shared *monitor.Shared, channel string, opts LogTailOptions) *LogTailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultLogBatch
	}
	if opts.Open == nil {
		opts.Open = eventlog.Open
	}
	t := &LogTailer{shared: shared, channel: channel, opts: opts}
	t.status.Store(StatusStopped)
	return t
}

func (t *LogTailer) Name() string { return t.channel }

func (t *LogTailer) Status() string { return t.status.Load().(string) }

func (t *LogTailer) unavailable(err error) {
	t.status.Store("Unavailable: " + err.Error())
}

// Run reads only entries written after it starts.
func (t *LogTailer) Run(ctx context.Context, sink monitor.Sink) error {
	r, err := t.opts.Open(t.channel, eventlog.DefaultQuery)
	if err != nil {
		t.unavailable(err)
		if errors.Is(err, eventlog.ErrUnsupported) {
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return fmt.Errorf("%w: open %s log: %v", ErrSourceUnavailable, t.channel, err)
	}
	defer r.Close()

	if err := r.SeekEnd(); err != nil {
		t.unavailable(err)
		return fmt.Errorf("%w: seek %s log: %v", ErrSourceUnavailable, t.channel, err)
	}
	t.status.Store(StatusListening)

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.shared.Done():
			return nil
		case <-ticker.C:
		}
		if err := t.poll(ctx, r, sink); err != nil {
			return err
		}
	}
}

// poll emits everything after the bookmark. Read errors are retried on the
// next poll; only a failed emit ends the tailer.
func (t *LogTailer) poll(ctx context.Context, r eventlog.Reader, sink monitor.Sink) error {
	for !t.shared.Stopped() {
		entries, err := r.Next(t.opts.Batch)
		for i := range entries {
			if err := sink.Emit(ctx, t.record(&entries[i])); err != nil {
				return err
			}
		}
		if err != nil {
			t.unavailable(err)
			collog.SampledWarnWithErrSig("logtail:"+t.channel, err).
				Str("log", t.channel).
				Msg("event log read failed, retrying")
			return nil
		}
		t.status.Store(StatusListening)
		if len(entries) < t.opts.Batch {
			return nil
		}
	}
	return nil
}

func (t *LogTailer) record(e *eventlog.Entry) *monitor.Record {
	t.index++
	r := &monitor.Record{
		Index:       t.index,
		Timestamp:   e.Time,
		PID:         e.PID,
		TID:         e.TID,
		ProcessName: t.shared.ProcessName(e.PID),
		Source:      t.channel,
		Name:        t.channel,
		Inputs: monitor.Fields{
			kv("EventID", strconv.FormatUint(uint64(e.EventID), 10)),
			kv("Provider", e.Provider),
		},
		Result: eventlog.LevelName(e.Level),
	}
	if e.FormatErr == nil {
		r.Outputs = textFields(e.Message)
		return r
	}
	r.Degraded = true
	r.Outputs = make(monitor.Fields, 0, len(e.Values)+1)
	r.Outputs = append(r.Outputs, monitor.Field{Value: FormatterUnavailable})
	for _, v := range e.Values {
		r.Outputs = append(r.Outputs, monitor.Field{Value: "  " + v})
	}
	return r
}
