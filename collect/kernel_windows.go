//go:build windows

package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tekert/goetw/etw"
)

// kernelFlags are the NT Kernel Logger groups the collector decodes.
var kernelFlags = []etw.KernelNtFlag{
	etw.Process,
	etw.ImageLoad,
	etw.FileIo,
	etw.FileIoInit,
	etw.DiskIo,
	etw.DiskIoInit,
	etw.DiskFileIo,
	etw.Registry,
}

// Kernel event classes by the first 32 bits of their provider guid.
var kernelGroups = map[uint32]string{
	0x3d6fa8d0: "Process",
	0x3d6fa8d1: "Thread",
	0x2cb15d1d: "Image",
	0x90cbdc39: "FileIO",
	0x3d6fa8d4: "DiskIO",
	0xae53722e: "Registry",
}

var kernelOpcodes = map[string]map[uint8]string{
	"Process": {1: "Start", 2: "Stop", 3: "DCStart", 4: "DCEnd"},
	"Thread":  {1: "Start", 2: "Stop", 3: "DCStart", 4: "DCEnd"},
	"Image":   {10: "Load", 2: "Unload", 3: "DCStart", 4: "DCEnd"},
	"FileIO": {
		0: "Name", 32: "FileCreate", 35: "FileDelete", 36: "FileRundown",
		64: "Create", 65: "Cleanup", 66: "Close", 67: "Read", 68: "Write",
		69: "SetInfo", 70: "Delete", 71: "Rename", 72: "DirEnum", 73: "Flush",
		74: "QueryInfo", 75: "FSControl", 76: "OperationEnd", 77: "DirNotify",
	},
	"DiskIO": {10: "Read", 11: "Write", 12: "ReadInit", 13: "WriteInit", 14: "FlushBuffers", 15: "FlushInit"},
	"Registry": {
		10: "Create", 11: "Open", 12: "Delete", 13: "Query", 14: "SetValue",
		15: "DeleteValue", 16: "QueryValue", 17: "EnumerateKey",
		18: "EnumerateValueKey", 19: "QueryMultipleValue", 20: "SetInformation",
		21: "Flush", 22: "KCBCreate", 23: "KCBDelete", 24: "KCBRundownBegin",
		25: "KCBRundownEnd", 26: "Virtualize", 27: "Close",
	},
}

// Native MOF property names of the canonical names used by the layouts.
var kernelAliases = map[string]string{
	"ProcessID":     "ProcessId",
	"ParentID":      "ParentId",
	"SessionID":     "SessionId",
	"ApplicationID": "ApplicationId",
}

// etwKernelSource runs an NT Kernel Logger session.
type etwKernelSource struct{}

// NewKernelSource returns the NT Kernel Logger source.
func NewKernelSource() KernelSource { return etwKernelSource{} }

func (etwKernelSource) Run(ctx context.Context, fn func(KernelEvent) error) error {
	s := etw.NewKernelRealTimeSession(kernelFlags...)
	if err := s.Start(); err != nil {
		return fmt.Errorf("%w: kernel session: %v", ErrSourceUnavailable, err)
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		runErr error
	)
	fail := func(err error) {
		once.Do(func() {
			runErr = err
			cancel()
		})
	}

	c := etw.NewConsumer(ctx).FromSessions(s)
	c.EventPreparedCallback = func(h *etw.EventRecordHelper) error {
		// records are built here; nothing goes to the events channel
		h.Skip()
		if ctx.Err() != nil {
			return nil
		}
		ev, ok := newETWKernelEvent(h)
		if !ok {
			return nil
		}
		if err := fn(ev); err != nil {
			fail(err)
		}
		return nil
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("%w: kernel consumer: %v", ErrSourceUnavailable, err)
	}
	<-ctx.Done()
	if err := c.Stop(); err != nil {
		collog.Debug().Err(err).Msg("kernel consumer stop")
	}
	if lost := c.LostEvents.Load(); lost > 0 {
		collog.Info().Uint64("lost", lost).Msg("kernel session lost events")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

type etwKernelEvent struct {
	h      *etw.EventRecordHelper
	group  string
	opcode string
}

func newETWKernelEvent(h *etw.EventRecordHelper) (*etwKernelEvent, bool) {
	hdr := &h.EventRec.EventHeader
	group, ok := kernelGroups[hdr.ProviderId.Data1]
	if !ok {
		return nil, false
	}
	op, ok := kernelOpcodes[group][hdr.EventDescriptor.Opcode]
	if !ok {
		return nil, false
	}
	return &etwKernelEvent{h: h, group: group, opcode: op}, true
}

func (e *etwKernelEvent) Group() string   { return e.group }
func (e *etwKernelEvent) Opcode() string  { return e.opcode }
func (e *etwKernelEvent) PID() uint32     { return e.h.EventRec.EventHeader.ProcessId }
func (e *etwKernelEvent) TID() uint32     { return e.h.EventRec.EventHeader.ThreadId }
func (e *etwKernelEvent) Time() time.Time { return e.h.Timestamp() }

// native maps a canonical property name to the MOF one for this event.
func (e *etwKernelEvent) native(name string) string {
	switch {
	case name == "FileName" && e.group == "FileIO" && e.opcode == "Create":
		return "OpenPath"
	case name == "FileKey" && e.group == "DiskIO":
		return "FileObject"
	case name == "FileKey" && e.group == "FileIO":
		switch e.opcode {
		case "Name", "FileCreate", "FileDelete", "FileRundown":
			return "FileObject"
		}
	}
	if n, ok := kernelAliases[name]; ok {
		return n
	}
	return name
}

func (e *etwKernelEvent) String(name string) (string, error) {
	s, err := e.h.GetPropertyString(e.native(name))
	return s, propErr(err)
}

func (e *etwKernelEvent) Uint(name string) (uint64, error) {
	if name == "CreateDisposition" && e.group == "FileIO" {
		v, err := e.h.GetPropertyUint("CreateOptions")
		return v >> 24, propErr(err)
	}
	v, err := e.h.GetPropertyUint(e.native(name))
	if err != nil && name == "NtStatus" {
		v, err = e.h.GetPropertyUint("NTStatus")
	}
	return v, propErr(err)
}

func (e *etwKernelEvent) Float(name string) (float64, error) {
	v, err := e.h.GetPropertyFloat(e.native(name))
	return v, propErr(err)
}

// propErr folds the library's missing property error into ErrNoProperty.
func propErr(err error) error {
	if err != nil && errors.Is(err, etw.ErrUnknownProperty) {
		return fmt.Errorf("%w: %v", ErrNoProperty, err)
	}
	return err
}
