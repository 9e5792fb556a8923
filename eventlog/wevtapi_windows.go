//go:build windows

package eventlog

import (
	"errors"
	"strconv"
	"time"
	"unsafe"

	"github.com/tekert/psfmonitor/internal/hexf"
	"github.com/tekert/psfmonitor/internal/utf16f"
	"golang.org/x/sys/windows"
)

// Exports from wevtapi.dll
var (
	modwevtapi = windows.NewLazySystemDLL("wevtapi.dll")

	procEvtQuery                 = modwevtapi.NewProc("EvtQuery")
	procEvtSeek                  = modwevtapi.NewProc("EvtSeek")
	procEvtNext                  = modwevtapi.NewProc("EvtNext")
	procEvtCreateBookmark        = modwevtapi.NewProc("EvtCreateBookmark")
	procEvtUpdateBookmark        = modwevtapi.NewProc("EvtUpdateBookmark")
	procEvtCreateRenderContext   = modwevtapi.NewProc("EvtCreateRenderContext")
	procEvtRender                = modwevtapi.NewProc("EvtRender")
	procEvtFormatMessage         = modwevtapi.NewProc("EvtFormatMessage")
	procEvtOpenPublisherMetadata = modwevtapi.NewProc("EvtOpenPublisherMetadata")
	procEvtClose                 = modwevtapi.NewProc("EvtClose")
)

type evtHandle uintptr

const (
	evtQueryChannelPath         = 0x1
	evtQueryForwardDirection    = 0x100
	evtQueryReverseDirection    = 0x200
	evtQueryTolerateQueryErrors = 0x1000

	evtSeekRelativeToBookmark = 0x4

	evtRenderEventValues = 0

	evtRenderContextSystem = 1
	evtRenderContextUser   = 2

	evtFormatMessageEvent = 1
)

// EVT_SYSTEM_PROPERTY_ID values used by the reader.
const (
	evtSystemProviderName  = 0
	evtSystemEventID       = 2
	evtSystemLevel         = 4
	evtSystemTimeCreated   = 8
	evtSystemEventRecordID = 9
	evtSystemProcessID     = 12
	evtSystemThreadID      = 13
)

const (
	errorInsufficientBuffer            = windows.Errno(122)
	errorNoMoreItems                   = windows.Errno(259)
	errorEvtUnresolvedValueInsert      = windows.Errno(15029)
	errorEvtUnresolvedParameterInsert  = windows.Errno(15030)
	errorEvtMaxInsertsReached          = windows.Errno(15031)
	errorEvtPublisherMetadataNotFound  = windows.Errno(15002)
	errorEvtQueryResultStale           = windows.Errno(15011)
	errorEvtQueryResultInvalidPosition = windows.Errno(15012)
)

// EVT_VARIANT_TYPE
const (
	evtVarTypeNull       = 0
	evtVarTypeString     = 1
	evtVarTypeAnsiString = 2
	evtVarTypeSByte      = 3
	evtVarTypeByte       = 4
	evtVarTypeInt16      = 5
	evtVarTypeUInt16     = 6
	evtVarTypeInt32      = 7
	evtVarTypeUInt32     = 8
	evtVarTypeInt64      = 9
	evtVarTypeUInt64     = 10
	evtVarTypeSingle     = 11
	evtVarTypeDouble     = 12
	evtVarTypeBoolean    = 13
	evtVarTypeBinary     = 14
	evtVarTypeGuid       = 15
	evtVarTypeSizeT      = 16
	evtVarTypeFileTime   = 17
	evtVarTypeSysTime    = 18
	evtVarTypeSid        = 19
	evtVarTypeHexInt32   = 20
	evtVarTypeHexInt64   = 21

	evtVarTypeArray = 0x80
	evtVarTypeMask  = 0x7f
)

// evtVariant is EVT_VARIANT.
type evtVariant struct {
	value uint64 // union
	count uint32
	typ   uint32
}

func evtQuery(path, query string, flags uint32) (evtHandle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	q, err := windows.UTF16PtrFromString(query)
	if err != nil {
		return 0, err
	}
	r, _, e := procEvtQuery.Call(0, uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(q)), uintptr(flags))
	if r == 0 {
		return 0, e
	}
	return evtHandle(r), nil
}

func evtSeek(rs evtHandle, position int64, bookmark evtHandle, flags uint32) error {
	r, _, e := procEvtSeek.Call(uintptr(rs), uintptr(position), uintptr(bookmark), 0, uintptr(flags))
	if r == 0 {
		return e
	}
	return nil
}

// evtNext fills events and returns how many were read; 0 at the end.
func evtNext(rs evtHandle, events []evtHandle, timeout uint32) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	var returned uint32
	r, _, e := procEvtNext.Call(uintptr(rs), uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])), uintptr(timeout), 0,
		uintptr(unsafe.Pointer(&returned)))
	if r == 0 {
		if errors.Is(e, errorNoMoreItems) {
			return 0, nil
		}
		return 0, e
	}
	return int(returned), nil
}

func evtCreateBookmark() (evtHandle, error) {
	r, _, e := procEvtCreateBookmark.Call(0)
	if r == 0 {
		return 0, e
	}
	return evtHandle(r), nil
}

func evtUpdateBookmark(bookmark, event evtHandle) error {
	r, _, e := procEvtUpdateBookmark.Call(uintptr(bookmark), uintptr(event))
	if r == 0 {
		return e
	}
	return nil
}

func evtCreateRenderContext(flags uint32) (evtHandle, error) {
	r, _, e := procEvtCreateRenderContext.Call(0, 0, uintptr(flags))
	if r == 0 {
		return 0, e
	}
	return evtHandle(r), nil
}

// evtRenderValues renders event values with ctx into buf, growing it as
// needed. The variants point into buf and are valid until the next call.
func evtRenderValues(ctx, event evtHandle, buf *[]uint64) ([]evtVariant, error) {
	for {
		var used, count uint32
		b := *buf
		r, _, e := procEvtRender.Call(uintptr(ctx), uintptr(event), evtRenderEventValues,
			uintptr(len(b)*8), uintptr(unsafe.Pointer(&b[0])),
			uintptr(unsafe.Pointer(&used)), uintptr(unsafe.Pointer(&count)))
		if r != 0 {
			return unsafe.Slice((*evtVariant)(unsafe.Pointer(&b[0])), count), nil
		}
		if !errors.Is(e, errorInsufficientBuffer) {
			return nil, e
		}
		*buf = make([]uint64, (used+7)/8)
	}
}

// evtFormatEvent formats the event description. Descriptions with inserts
// that could not be resolved are returned as they are.
func evtFormatEvent(publisher, event evtHandle, buf *[]uint16) (string, error) {
	for {
		var used uint32
		b := *buf
		r, _, e := procEvtFormatMessage.Call(uintptr(publisher), uintptr(event), 0, 0, 0,
			evtFormatMessageEvent, uintptr(len(b)), uintptr(unsafe.Pointer(&b[0])),
			uintptr(unsafe.Pointer(&used)))
		if r != 0 {
			return utf16f.String(b[:used]), nil
		}
		switch {
		case errors.Is(e, errorInsufficientBuffer):
			*buf = make([]uint16, used)
			continue
		case errors.Is(e, errorEvtUnresolvedValueInsert),
			errors.Is(e, errorEvtUnresolvedParameterInsert),
			errors.Is(e, errorEvtMaxInsertsReached):
			if used > 0 && int(used) <= len(b) {
				return utf16f.String(b[:used]), nil
			}
		}
		return "", e
	}
}

func evtOpenPublisherMetadata(name string) (evtHandle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	r, _, e := procEvtOpenPublisherMetadata.Call(0, uintptr(unsafe.Pointer(p)), 0, 0, 0)
	if r == 0 {
		return 0, e
	}
	return evtHandle(r), nil
}

func evtClose(h evtHandle) {
	if h != 0 {
		procEvtClose.Call(uintptr(h))
	}
}

func (v *evtVariant) ptr() unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&v.value))
}

func (v *evtVariant) uint() uint64 {
	switch v.typ {
	case evtVarTypeByte, evtVarTypeSByte:
		return v.value & 0xff
	case evtVarTypeUInt16, evtVarTypeInt16:
		return v.value & 0xffff
	case evtVarTypeUInt32, evtVarTypeInt32, evtVarTypeHexInt32, evtVarTypeBoolean:
		return v.value & 0xffffffff
	}
	return v.value
}

func (v *evtVariant) time() time.Time {
	switch v.typ {
	case evtVarTypeFileTime:
		ft := windows.Filetime{LowDateTime: uint32(v.value), HighDateTime: uint32(v.value >> 32)}
		return time.Unix(0, ft.Nanoseconds())
	case evtVarTypeSysTime:
		st := (*windows.Systemtime)(v.ptr())
		return time.Date(int(st.Year), time.Month(st.Month), int(st.Day),
			int(st.Hour), int(st.Minute), int(st.Second),
			int(st.Milliseconds)*int(time.Millisecond), time.UTC)
	}
	return time.Time{}
}

// String renders the variant as the raw property text shown in degraded
// records.
func (v *evtVariant) String() string {
	if v.typ&evtVarTypeArray != 0 {
		return "[" + strconv.FormatUint(uint64(v.count), 10) + " values]"
	}
	switch v.typ & evtVarTypeMask {
	case evtVarTypeNull:
		return ""
	case evtVarTypeString:
		if v.value == 0 {
			return ""
		}
		return utf16PtrString((*uint16)(v.ptr()))
	case evtVarTypeAnsiString:
		if v.value == 0 {
			return ""
		}
		return windows.BytePtrToString((*byte)(v.ptr()))
	case evtVarTypeSByte:
		return strconv.FormatInt(int64(int8(v.value)), 10)
	case evtVarTypeInt16:
		return strconv.FormatInt(int64(int16(v.value)), 10)
	case evtVarTypeInt32:
		return strconv.FormatInt(int64(int32(v.value)), 10)
	case evtVarTypeInt64:
		return strconv.FormatInt(int64(v.value), 10)
	case evtVarTypeByte, evtVarTypeUInt16, evtVarTypeUInt32, evtVarTypeUInt64, evtVarTypeSizeT:
		return strconv.FormatUint(v.uint(), 10)
	case evtVarTypeSingle:
		return strconv.FormatFloat(float64(*(*float32)(unsafe.Pointer(&v.value))), 'g', -1, 32)
	case evtVarTypeDouble:
		return strconv.FormatFloat(*(*float64)(unsafe.Pointer(&v.value)), 'g', -1, 64)
	case evtVarTypeBoolean:
		return strconv.FormatBool(v.uint() != 0)
	case evtVarTypeBinary:
		if v.value == 0 {
			return ""
		}
		return hexf.Bytes(unsafe.Slice((*byte)(v.ptr()), v.count))
	case evtVarTypeGuid:
		if v.value == 0 {
			return ""
		}
		return (*windows.GUID)(v.ptr()).String()
	case evtVarTypeFileTime, evtVarTypeSysTime:
		return v.time().UTC().Format(time.RFC3339Nano)
	case evtVarTypeSid:
		if v.value == 0 {
			return ""
		}
		return (*windows.SID)(v.ptr()).String()
	case evtVarTypeHexInt32, evtVarTypeHexInt64:
		return hexf.U(v.uint())
	}
	return "<type " + strconv.Itoa(int(v.typ)) + ">"
}

func utf16PtrString(p *uint16) string {
	n := 0
	for ptr := unsafe.Pointer(p); *(*uint16)(ptr) != 0; n++ {
		ptr = unsafe.Add(ptr, 2)
	}
	return utf16f.String(unsafe.Slice(p, n))
}
