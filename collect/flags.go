package collect

import "github.com/tekert/psfmonitor/internal/hexf"

type flagName struct {
	bit  uint32
	name string
}

var processFlagNames = []flagName{
	{0x2, "WOW64"},
	{0x4, "PROTECTED"},
	{0x1, "PACKAGEFULLNAME"},
}

const processFlagPackageFullName = 0x1

// The kernel reports the attribute half of the create options word with the
// FILE_ATTRIBUTE_* names.
var createOptionNames = []flagName{
	{0x00020, "FILE_ATTRIBUTE_ARCHIVE"},
	{0x00800, "FILE_ATTRIBUTE_COMPRESSED"},
	{0x00040, "FILE_ATTRIBUTE_DEVICE"},
	{0x00010, "FILE_ATTRIBUTE_DIRECTORY"},
	{0x04000, "FILE_ATTRIBUTE_ENCRYPTED"},
	{0x00002, "FILE_ATTRIBUTE_HIDDEN"},
	{0x08000, "FILE_ATTRIBUTE_INTEGRITY_STREAM"},
	{0x00080, "FILE_ATTRIBUTE_NORMAL"},
	{0x02000, "FILE_ATTRIBUTE_NOT_CONTENT_INDEXED"},
	{0x20000, "FILE_ATTRIBUTE_NO_SCRUB_DATA"},
	{0x01000, "FILE_ATTRIBUTE_OFFLINE"},
	{0x00001, "FILE_ATTRIBUTE_READONLY"},
	{0x00400, "FILE_ATTRIBUTE_REPARSE_POINT"},
	{0x00200, "FILE_ATTRIBUTE_SPARSE_FILE"},
	{0x00004, "FILE_ATTRIBUTE_SYSTEM"},
	{0x00100, "FILE_ATTRIBUTE_TEMPORARY"},
	{0x10000, "FILE_ATTRIBUTE_VIRTUAL"},
}

var irpFlagNames = []flagName{
	{0x00008, "AssociatedIrp"},
	{0x00010, "BufferedIO"},
	{0x00400, "Close"},
	{0x00080, "Create"},
	{0x00020, "DeallocateBuffer"},
	{0x00800, "DeferIOCompletion"},
	{0x02000, "HoldDeviceQueue"},
	{0x00040, "InputOperation"},
	{0x00002, "MountCompletion"},
	{0x00001, "Nocache"},
	{0x01000, "ObQueryName"},
	{0x00002, "PagingIo"},
	{0xe0000, "PriorityMask"},
	{0x00100, "Read"},
	{0x00004, "SynchronousApi"},
	{0x00040, "SynchronousPagingIO"},
	{0x00200, "Write"},
}

var createDispositionNames = []string{
	0: "SUPERSEDE",
	1: "OPEN_EXISTING",
	2: "CREATE_NEW",
	3: "OPEN_ALWAYS",
	4: "TRUNCATE_EXISTING",
	5: "CREATE_ALWAYS",
}

var ioPriorityNames = []string{
	0: "NOTSET",
	1: "VERYLOW",
	2: "LOW",
	3: "NORMAL",
	4: "HIGH",
	5: "CRITICAL",
	6: "RESERVED0",
	7: "RESERVED1",
	8: "MAX",
}

// formatFlags renders "0x<hex> ( A | B )", or "( NONE )" for zero.
func formatFlags(v uint32, names []flagName) string {
	if v == 0 {
		return "( NONE )"
	}
	b := make([]byte, 0, 64)
	b = hexf.AppendUint(b, uint64(v))
	b = append(b, " ( "...)
	first := true
	for _, f := range names {
		if v&f.bit == 0 {
			continue
		}
		if !first {
			b = append(b, " | "...)
		}
		b = append(b, f.name...)
		first = false
	}
	if first {
		return string(append(b, ')')) // no known bit
	}
	return string(append(b, " )"...))
}

// formatEnum renders "0x<hex> ( NAME )" or "0x<hex> ( unknown )".
func formatEnum(v uint32, names []string) string {
	name := "unknown"
	if int(v) < len(names) && names[v] != "" {
		name = names[v]
	}
	b := make([]byte, 0, 32)
	b = hexf.AppendUint(b, uint64(v))
	b = append(b, " ( "...)
	b = append(b, name...)
	return string(append(b, " )"...))
}

// FormatProcessFlags renders Process/Start flags.
func FormatProcessFlags(v uint32) string { return formatFlags(v, processFlagNames) }

// FormatCreateOptions renders the low 24 bits of FileIO/Create options.
func FormatCreateOptions(v uint32) string { return formatFlags(v&0xffffff, createOptionNames) }

// FormatCreateDisposition renders a FileIO/Create disposition.
func FormatCreateDisposition(v uint32) string { return formatEnum(v, createDispositionNames) }

// FormatIrpFlags renders DiskIO IRP flags.
func FormatIrpFlags(v uint32) string { return formatFlags(v, irpFlagNames) }

// FormatIOPriority renders a DiskIO priority.
func FormatIOPriority(v uint32) string { return formatEnum(v, ioPriorityNames) }

// IOPriorityOf extracts the priority encoded in IRP flags.
func IOPriorityOf(irpFlags uint32) uint32 { return (irpFlags >> 17) & 0x7 }
