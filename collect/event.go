package collect

import (
	"errors"
	"strconv"
	"time"

	"github.com/tekert/psfmonitor/internal/hexf"
	"github.com/tekert/psfmonitor/monitor"
)

// KernelEvent is one kernel trace event as delivered by a KernelSource.
// Property names are the canonical ones used by the layouts (ProcessID,
// FileKey, KeyHandle...); adapters translate the native payload names.
type KernelEvent interface {
	// Group is the event class, e.g. "Process", "FileIO", "Registry".
	Group() string
	// Opcode is the operation, e.g. "Start", "Read", "KCBCreate".
	Opcode() string
	PID() uint32
	TID() uint32
	Time() time.Time

	String(name string) (string, error)
	Uint(name string) (uint64, error)
	Float(name string) (float64, error)
}

// fieldReader renders properties of one event and keeps the first error.
type fieldReader struct {
	ev    KernelEvent
	event string
	err   error
}

func (r *fieldReader) fail(prop string, err error) {
	if r.err == nil {
		r.err = &monitor.DecodeError{Event: r.event, Field: prop, Err: err}
	}
}

func (r *fieldReader) str(prop string) string {
	s, err := r.ev.String(prop)
	if err != nil {
		r.fail(prop, err)
	}
	return s
}

// optStr returns "" for a missing property.
func (r *fieldReader) optStr(prop string) string {
	s, err := r.ev.String(prop)
	if err != nil && !errors.Is(err, ErrNoProperty) {
		r.fail(prop, err)
	}
	return s
}

func (r *fieldReader) uint(prop string) uint64 {
	v, err := r.ev.Uint(prop)
	if err != nil {
		r.fail(prop, err)
	}
	return v
}

func (r *fieldReader) optUint(prop string) (uint64, bool) {
	v, err := r.ev.Uint(prop)
	if err != nil {
		if !errors.Is(err, ErrNoProperty) {
			r.fail(prop, err)
		}
		return 0, false
	}
	return v, true
}

func (r *fieldReader) hex(prop string) string { return hexf.U(r.uint(prop)) }

func (r *fieldReader) hex32(prop string) string { return hexf.U(uint32(r.uint(prop))) }

func (r *fieldReader) dec(prop string) string { return strconv.FormatUint(r.uint(prop), 10) }

// optMillis renders a float millisecond property, "" when missing.
func (r *fieldReader) optMillis(prop string) string {
	v, err := r.ev.Float(prop)
	if err != nil {
		if !errors.Is(err, ErrNoProperty) {
			r.fail(prop, err)
		}
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
