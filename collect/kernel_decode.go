package collect

import (
	"github.com/tekert/psfmonitor/internal/hexf"
	"github.com/tekert/psfmonitor/monitor"
)

// DefaultFileTableSize bounds the file key to name table of a decoder.
const DefaultFileTableSize = 1 << 16

type kernelHandler struct {
	// detail records are expensive to format and subject to the volume cap.
	detail bool
	kcb    bool
	decode func(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, key monitor.HandleRef)
}

var kernelHandlers = map[string]kernelHandler{
	"Process/Start": {decode: decodeProcessStart},
	"Process/Stop":  {decode: decodeProcessStop},
	"Image/Load":    {decode: decodeImageLoad},

	"FileIO/Query":        {detail: true, decode: decodeFileQuery},
	"FileIO/QueryInfo":    {detail: true, decode: decodeFileQuery},
	"FileIO/Create":       {detail: true, decode: decodeFileCreate},
	"FileIO/FileCreate":   {detail: true, decode: decodeFileFileCreate},
	"FileIO/Read":         {detail: true, decode: decodeFileRead},
	"FileIO/Write":        {detail: true, decode: decodeFileWrite},
	"FileIO/Close":        {detail: true, decode: decodeFileSimple},
	"FileIO/Cleanup":      {detail: true, decode: decodeFileSimple},
	"FileIO/Flush":        {detail: true, decode: decodeFileSimple},
	"FileIO/OperationEnd": {detail: true, decode: decodeFileOpEnd},
	"FileIO/DirEnum":      {detail: true, decode: decodeFileDirEnum},
	"FileIO/SetInfo":      {detail: true, decode: decodeFileInfo},
	"FileIO/Rename":       {detail: true, decode: decodeFileInfo},
	"FileIO/Delete":       {detail: true, decode: decodeFileDelete},
	"FileIO/FileDelete":   {detail: true, decode: decodeFileDelete},

	"DiskIO/Read":  {detail: true, decode: decodeDisk},
	"DiskIO/Write": {detail: true, decode: decodeDisk},

	"Registry/KCBCreate":     {kcb: true},
	"Registry/KCBDelete":     {kcb: true},
	"Registry/KCBRundownEnd": {kcb: true},

	"Registry/EnumerateValueKey": {detail: true, decode: decodeRegistryEnumValue},
}

// Registry operations rendered with the common registry layout.
var registryOps = []string{
	"Create", "Open", "Delete", "Query", "SetValue", "DeleteValue",
	"QueryValue", "EnumerateKey", "QueryMultipleValue", "SetInformation",
	"Flush", "Virtualize", "Close",
}

func init() {
	for _, op := range registryOps {
		kernelHandlers["Registry/"+op] = kernelHandler{detail: true, decode: decodeRegistry}
	}
}

// KernelDecoder turns kernel events into records. It remembers file names
// by file key because most FileIO and DiskIO events only carry the key.
// A decoder is not safe for concurrent use.
type KernelDecoder struct {
	files    map[uint64]string
	filesCap int
}

// NewKernelDecoder creates a decoder with an empty file table.
func NewKernelDecoder() *KernelDecoder {
	return &KernelDecoder{
		files:    make(map[uint64]string, 1024),
		filesCap: DefaultFileTableSize,
	}
}

// Handles reports whether the qualified event name produces output, and
// whether that output is detail subject to the volume cap.
func (d *KernelDecoder) Handles(name string) (detail, ok bool) {
	h, ok := kernelHandlers[name]
	return h.detail, ok
}

// Track updates the file table from FileIO name events. It must see every
// FileIO event, including those that are never emitted.
func (d *KernelDecoder) Track(ev KernelEvent) {
	if ev.Group() != "FileIO" {
		return
	}
	switch ev.Opcode() {
	case "Name", "FileCreate", "FileRundown":
		key, err := ev.Uint("FileKey")
		if err != nil {
			return
		}
		if name, err := ev.String("FileName"); err == nil {
			d.remember(key, name)
		}
	case "Create":
		obj, err := ev.Uint("FileObject")
		if err != nil {
			return
		}
		if name, err := ev.String("FileName"); err == nil {
			d.remember(obj, name)
		}
	case "FileDelete":
		if key, err := ev.Uint("FileKey"); err == nil {
			delete(d.files, key)
		}
	}
}

func (d *KernelDecoder) remember(key uint64, name string) {
	if name == "" {
		return
	}
	if _, ok := d.files[key]; !ok && len(d.files) >= d.filesCap {
		return
	}
	d.files[key] = name
}

// FileName returns the remembered name of a file key or file object.
func (d *KernelDecoder) FileName(key uint64) string { return d.files[key] }

// Decode renders ev. For control block events only kcb is set.
func (d *KernelDecoder) Decode(ev KernelEvent) (rec *monitor.Record, kcb *monitor.KCB, err error) {
	name := ev.Group() + "/" + ev.Opcode()
	h, ok := kernelHandlers[name]
	if !ok {
		return nil, nil, nil
	}
	r := &fieldReader{ev: ev, event: name}
	if h.kcb {
		k := monitor.KCB{Handle: r.uint("KeyHandle"), Name: r.optStr("KeyName")}
		if r.err != nil {
			return nil, nil, r.err
		}
		return nil, &k, nil
	}
	in, out, key := h.decode(d, r)
	if r.err != nil {
		return nil, nil, r.err
	}
	pid := ev.PID()
	if ev.Group() == "Process" {
		// the header pid of a start event is the parent's
		if v, ok := r.optUint("ProcessID"); ok {
			pid = uint32(v)
		}
	}
	rec = &monitor.Record{
		Timestamp: ev.Time(),
		PID:       pid,
		TID:       ev.TID(),
		Source:    monitor.SourceKernel,
		Name:      name,
		Inputs:    in,
		Outputs:   out,
		Key:       key,
	}
	return rec, nil, nil
}

// fileName prefers the payload name and falls back to the file table.
func (d *KernelDecoder) fileName(r *fieldReader, prop string) string {
	if s := r.optStr(prop); s != "" {
		return s
	}
	if key, ok := r.optUint("FileKey"); ok {
		if s := d.files[key]; s != "" {
			return s
		}
	}
	if obj, ok := r.optUint("FileObject"); ok {
		return d.files[obj]
	}
	return ""
}

func kv(name, value string) monitor.Field { return monitor.Field{Name: name, Value: value} }

func decodeProcessStart(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	flags := uint32(r.uint("Flags"))
	in = monitor.Fields{
		kv("ImageFileName", r.str("ImageFileName")),
		kv("SessionID", r.dec("SessionID")),
		kv("Flags", FormatProcessFlags(flags)),
	}
	if flags&processFlagPackageFullName != 0 {
		in = append(in, kv("PackageFullName", r.optStr("PackageFullName")))
	}
	if appID := r.optStr("ApplicationID"); appID != "" {
		in = append(in, kv("ApplicationID", appID))
	}
	in = append(in,
		kv("ParentID", r.dec("ParentID")),
		kv("CommandLine", r.optStr("CommandLine")),
	)
	out = monitor.Fields{
		kv("ProcessID", r.dec("ProcessID")),
		kv("UniqueProcessKey", r.hex("UniqueProcessKey")),
	}
	return
}

func decodeProcessStop(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("ImageFileName", r.str("ImageFileName")),
		kv("SessionID", r.dec("SessionID")),
		kv("UniqueProcessKey", r.hex("UniqueProcessKey")),
		kv("CommandLine", r.optStr("CommandLine")),
	}
	out = monitor.Fields{kv("ExitStatus", r.hex32("ExitStatus"))}
	return
}

func decodeImageLoad(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{kv("FileName", r.str("FileName"))}
	return
}

func decodeFileQuery(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("FileName", d.fileName(r, "FileName")),
		kv("FileKey", r.hex("FileKey")),
		kv("ExtraInfo", r.hex("ExtraInfo")),
	}
	out = monitor.Fields{
		kv("FileObject", r.hex("FileObject")),
		kv("IrpPtr", r.hex("IrpPtr")),
	}
	return
}

func decodeFileCreate(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("FileName", r.str("FileName")),
		kv("CreateOptions", FormatCreateOptions(uint32(r.uint("CreateOptions")))),
		kv("CreateDisposition", FormatCreateDisposition(uint32(r.uint("CreateDisposition")))),
		kv("FileAttributes", r.hex32("FileAttributes")),
		kv("ShareAccess", r.hex32("ShareAccess")),
	}
	out = monitor.Fields{
		kv("FileObject", r.hex("FileObject")),
		kv("IrpPtr", r.hex("IrpPtr")),
	}
	return
}

func decodeFileFileCreate(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{kv("FileName", r.str("FileName"))}
	out = monitor.Fields{kv("FileKey", r.hex("FileKey"))}
	return
}

func decodeFileRead(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("IrpPtr", r.hex("IrpPtr")),
		kv("FileKey", r.hex("FileKey")),
		kv("IoFlags", r.hex32("IoFlags")),
		kv("Offset", r.hex("Offset")),
		kv("IoSize", r.hex32("IoSize")),
	}
	out = monitor.Fields{kv("FileObject", r.hex("FileObject"))}
	return
}

func decodeFileWrite(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("FileName", d.fileName(r, "FileName")),
		kv("IrpPtr", r.hex("IrpPtr")),
		kv("FileObject", r.hex("FileObject")),
		kv("FileKey", r.hex("FileKey")),
		kv("IoFlags", r.hex32("IoFlags")),
		kv("Offset", r.hex("Offset")),
		kv("IoSize", r.hex32("IoSize")),
	}
	return
}

// decodeFileSimple covers Close, Cleanup and Flush.
func decodeFileSimple(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	name := d.fileName(r, "FileName")
	in = monitor.Fields{
		kv("IrpPtr", r.hex("IrpPtr")),
		kv("FileObject", r.hex("FileObject")),
		kv("FileKey", r.hex("FileKey")),
	}
	if r.event == "FileIO/Flush" {
		in = append(in, kv("FileName", name))
	} else {
		in = append(monitor.Fields{kv("FileName", name)}, in...)
	}
	return
}

func decodeFileOpEnd(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{kv("IrpPtr", r.hex("IrpPtr"))}
	out = monitor.Fields{
		kv("NtStatus", r.hex32("NtStatus")),
		kv("ExtraInfo", r.hex("ExtraInfo")),
	}
	return
}

func decodeFileDirEnum(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("DirectoryName", d.fileName(r, "DirectoryName")),
		kv("IrpPtr", r.hex("IrpPtr")),
		kv("FileObject", r.hex("FileObject")),
		kv("FileKey", r.hex("FileKey")),
	}
	out = monitor.Fields{
		kv("FileName", r.optStr("FileName")),
		kv("FileIndex", r.hex32("FileIndex")),
		kv("Length", r.hex32("Length")),
		kv("InfoClass", r.hex32("InfoClass")),
	}
	return
}

// decodeFileInfo covers SetInfo and Rename.
func decodeFileInfo(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("IrpPtr", r.hex("IrpPtr")),
		kv("FileObject", r.hex("FileObject")),
		kv("FileKey", r.hex("FileKey")),
		kv("ExtraInfo", r.hex("ExtraInfo")),
		kv("InfoClass", r.hex32("InfoClass")),
		kv("FileName", d.fileName(r, "FileName")),
	}
	return
}

func decodeFileDelete(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	in = monitor.Fields{
		kv("FileKey", r.hex("FileKey")),
		kv("FileName", d.fileName(r, "FileName")),
	}
	return
}

func decodeDisk(d *KernelDecoder, r *fieldReader) (in, out monitor.Fields, _ monitor.HandleRef) {
	irpFlags := uint32(r.uint("IrpFlags"))
	prio, ok := r.optUint("Priority")
	if !ok {
		prio = uint64(IOPriorityOf(irpFlags))
	}
	in = monitor.Fields{
		kv("DiskNumber", r.dec("DiskNumber")),
		kv("IrpFlags", FormatIrpFlags(irpFlags)),
		kv("Priority", FormatIOPriority(uint32(prio))),
		kv("TransferSize", r.hex32("TransferSize")),
		kv("ByteOffset", r.hex("ByteOffset")),
		kv("Irp", r.hex("Irp")),
		kv("FileKey", r.hex("FileKey")),
		kv("FileName", d.fileName(r, "FileName")),
	}
	out = monitor.Fields{
		kv("ElapsedTimeMS", r.optMillis("ElapsedTimeMSec")),
		kv("DiskServiceTimeMS", r.optMillis("DiskServiceTimeMSec")),
	}
	return
}

func decodeRegistryEnumValue(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, key monitor.HandleRef) {
	handle := r.uint("KeyHandle")
	name := r.optStr("KeyName")
	in = monitor.Fields{
		kv("KeyHandle", hexf.U(handle)),
		kv("KeyName", name),
		kv("Index", r.hex32("Index")),
	}
	out = monitor.Fields{
		kv("Status", r.hex32("Status")),
		kv("ValueName", r.optStr("ValueName")),
		kv("ElapsedTimeMS", r.optMillis("ElapsedTimeMSec")),
	}
	return in, out, keyRef(handle, name)
}

func decodeRegistry(_ *KernelDecoder, r *fieldReader) (in, out monitor.Fields, key monitor.HandleRef) {
	handle := r.uint("KeyHandle")
	name := r.optStr("KeyName")
	in = monitor.Fields{
		kv("KeyHandle", hexf.U(handle)),
		kv("KeyName", name),
		kv("ValueName", r.optStr("ValueName")),
	}
	out = monitor.Fields{kv("Status", r.hex32("Status"))}
	return in, out, keyRef(handle, name)
}

// keyRef references the control block of handle when the event did not
// carry the key name itself.
func keyRef(handle uint64, name string) monitor.HandleRef {
	if name != "" {
		return monitor.HandleRef{}
	}
	return monitor.NewHandleRef(0, handle)
}
