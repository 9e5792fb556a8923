package monitor

import (
	"strconv"
	"strings"
	"time"
)

// Event sources that are not a live provider name.
const (
	SourceKernel      = "Kernel"
	SourceApplication = "Application"
	SourceSystem      = "System"
)

// Field is one "Name=\tValue" line of a record's inputs or outputs.
// A field with an empty Name renders its Value alone.
type Field struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

// Fields is an ordered key/value block.
type Fields []Field

// Get returns the value of the first field called name.
func (fs Fields) Get(name string) (string, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// String renders the block with "\n" between lines.
func (fs Fields) String() string {
	return string(fs.appendText(nil, HandleRef{}))
}

func (fs Fields) appendText(dst []byte, ref HandleRef) []byte {
	for i, f := range fs {
		if i > 0 {
			dst = append(dst, '\n')
		}
		if f.Name != "" {
			dst = append(dst, f.Name...)
			dst = append(dst, '=', '\t')
		}
		dst = append(dst, f.Value...)
		if ref.Valid && ref.Field == i && ref.Resolved != "" {
			dst = append(dst, " ("...)
			dst = append(dst, ref.Resolved...)
			dst = append(dst, ')')
		}
	}
	return dst
}

// HandleRef is a structured reference from one input field to a kernel
// object handle whose name may be learned later (registry control blocks).
// The resolved name is rendered once, after the referencing field's value.
type HandleRef struct {
	Valid    bool   `json:"-"`
	Field    int    `json:"field"` // index into Record.Inputs
	Handle   uint64 `json:"handle"`
	Resolved string `json:"resolved,omitempty"`
}

// NewHandleRef references handle from input field index field.
func NewHandleRef(field int, handle uint64) HandleRef {
	return HandleRef{Valid: true, Field: field, Handle: handle}
}

// Unresolved reports whether the reference still waits for a name.
func (h HandleRef) Unresolved() bool { return h.Valid && h.Resolved == "" }

// Record is one normalized captured event. Everything but the view state is
// fixed when a collector emits it; the model owns the view state.
type Record struct {
	Index       uint64    `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PID         uint32    `json:"pid"`
	TID         uint32    `json:"tid"`
	ProcessName string    `json:"processName,omitempty"`
	Source      string    `json:"source"`
	Name        string    `json:"name"`
	Inputs      Fields    `json:"inputs,omitempty"`
	Result      string    `json:"result,omitempty"`
	Outputs     Fields    `json:"outputs,omitempty"`
	Caller      string    `json:"caller,omitempty"`
	Key         HandleRef `json:"key"`
	// Degraded is set when the source could not decode the event fully and
	// the record carries a raw dump instead.
	Degraded bool `json:"degraded,omitempty"`

	// Set by the model when the record is drained. Seq increases by one per
	// drained record and is never reused, not even after Clear.
	Seq      uint64      `json:"seq"`
	Category Category    `json:"category"`
	Class    ResultClass `json:"class"`

	HiddenByResult   bool `json:"-"`
	HiddenByCategory bool `json:"-"`
	HiddenByPause    bool `json:"-"`
	HiddenByPID      bool `json:"-"`
	Highlighted      bool `json:"highlighted,omitempty"`
	CurrentMatch     bool `json:"currentMatch,omitempty"`
}

// Hidden is the OR of the four hidden flags.
func (r *Record) Hidden() bool {
	return r.HiddenByResult || r.HiddenByCategory || r.HiddenByPause || r.HiddenByPID
}

// Duration is End-Start, zero when the source did not report timing.
func (r *Record) Duration() time.Duration {
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start)
}

// DisplayProcessName falls back to "unknown(pid)".
func (r *Record) DisplayProcessName() string {
	if r.ProcessName != "" {
		return r.ProcessName
	}
	return "unknown(" + strconv.FormatUint(uint64(r.PID), 10) + ")"
}

// InputsText renders the inputs with the resolved handle annotation.
func (r *Record) InputsText() string {
	return string(r.Inputs.appendText(nil, r.Key))
}

// OutputsText renders the outputs.
func (r *Record) OutputsText() string {
	return r.Outputs.String()
}

// Resolve sets the handle name if the record references handle and is not
// resolved yet. It reports whether the record changed.
func (r *Record) Resolve(handle uint64, name string) bool {
	if !r.Key.Unresolved() || r.Key.Handle != handle || name == "" {
		return false
	}
	r.Key.Resolved = name
	return true
}

// matches reports whether any searchable field contains upper, which must
// already be upper case.
func (r *Record) matches(upper string) bool {
	if strings.Contains(strconv.FormatUint(uint64(r.PID), 10), upper) {
		return true
	}
	for _, s := range [...]string{
		r.DisplayProcessName(),
		r.Name,
		r.InputsText(),
		r.Result,
		r.OutputsText(),
		r.Caller,
	} {
		if strings.Contains(strings.ToUpper(s), upper) {
			return true
		}
	}
	return false
}
