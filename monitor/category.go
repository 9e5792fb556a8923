package monitor

import (
	"fmt"
	"strings"
)

// Category is the filter bucket of an event name.
type Category uint8

const (
	CategoryOther Category = iota
	CategoryProcess
	CategoryFile
	CategoryRegistry
	CategoryNTFile
	CategoryNTRegistry
	CategoryDLL
	CategoryKernelProcess
	CategoryKernelImageLoad
	CategoryKernelFile
	CategoryKernelDisk
	CategoryKernelRegistry
	CategoryApplicationLog
	CategorySystemLog

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryOther:           "Other",
	CategoryProcess:         "Process",
	CategoryFile:            "File",
	CategoryRegistry:        "Registry",
	CategoryNTFile:          "NTFile",
	CategoryNTRegistry:      "NTRegistry",
	CategoryDLL:             "DLL",
	CategoryKernelProcess:   "KernelProcess",
	CategoryKernelImageLoad: "KernelImageLoad",
	CategoryKernelFile:      "KernelFile",
	CategoryKernelDisk:      "KernelDisk",
	CategoryKernelRegistry:  "KernelRegistry",
	CategoryApplicationLog:  "ApplicationLog",
	CategorySystemLog:       "SystemLog",
}

func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Categories lists every category in display order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := CategoryProcess; c < numCategories; c++ {
		out = append(out, c)
	}
	return append(out, CategoryOther)
}

// ParseCategory is case-insensitive.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if strings.EqualFold(name, s) {
			return Category(c), nil
		}
	}
	return CategoryOther, fmt.Errorf("%w: unknown category %q", ErrInvalidConfig, s)
}

var categoryByName = func() map[string]Category {
	groups := map[Category][]string{
		CategoryProcess: {"CreateProcess", "CreateProcessAsUser"},
		CategoryFile: {
			"CreateFile", "CreateFile2", "CopyFile", "CopyFile2", "CopyFileEx",
			"CreateHardLink", "CreateSymbolicLink", "DeleteFile", "MoveFile",
			"MoveFileEx", "ReplaceFile", "FindFirstFile", "FindFirstFileEx",
			"FindNextFile", "FindClose", "CreateDirectory", "CreateDirectoryEx",
			"RemoveDirectory", "SetCurrentDirectory", "GetCurrentDirectory",
			"GetFileAttributes", "SetFileAttributes", "GetFileAttributesEx",
		},
		CategoryRegistry: {
			"RegCreateKey", "RegCreateKeyEx", "RegOpenKey", "RegOpenKeyEx",
			"RegGetValue", "RegQueryValue", "RegQueryValueEx", "RegSetKeyValue",
			"RegSetValue", "RegSetValueEx", "RegDeleteKey", "RegDeleteKeyEx",
			"RegDeleteKeyValue", "RegDeleteValue", "RegDeleteTree", "RegCopyTree",
			"RegEnumKey", "RegEnumKeyEx", "RegEnumValue",
		},
		CategoryNTFile: {
			"NtCreateFile", "NtOpenFile", "NtCreateDirectoryObject",
			"NtOpenDirectoryObject", "NtQueryDirectoryObject",
			"NtOpenSymbolicLinkObject", "NtQuerySymbolicLinkObject",
		},
		CategoryNTRegistry: {
			"NtCreateKey", "NtOpenKey", "NtOpenKeyEx", "NtSetValueKey", "NtQueryValueKey",
		},
		CategoryDLL: {
			"AddDllDirectory", "LoadLibrary", "LoadLibraryEx", "LoadModule",
			"LoadPackagedLibrary", "RemoveDllDirectory", "SetDefaultDllDirectories",
			"SetDllDirectory",
		},
		CategoryKernelProcess:   {"Process/Start", "Process/Stop"},
		CategoryKernelImageLoad: {"Image/Load"},
		CategoryKernelFile: {
			"FileIO/Query", "FileIO/QueryInfo", "FileIO/Create", "FileIO/FileCreate",
			"FileIO/Read", "FileIO/Write", "FileIO/Close", "FileIO/Cleanup",
			"FileIO/OperationEnd", "FileIO/DirEnum", "FileIO/SetInfo",
			"FileIO/Rename", "FileIO/Delete", "FileIO/FileDelete", "FileIO/Flush",
		},
		CategoryKernelDisk: {"DiskIO/Read", "DiskIO/Write"},
		CategoryKernelRegistry: {
			"Registry/Open", "Registry/Query", "Registry/QueryValue",
			"Registry/SetInformation", "Registry/Close", "Registry/Create",
			"Registry/SetValue", "Registry/EnumerateKey", "Registry/Delete",
			"Registry/DeleteValue", "Registry/EnumerateValueKey",
		},
		CategoryApplicationLog: {SourceApplication},
		CategorySystemLog:      {SourceSystem},
	}
	m := make(map[string]Category, 128)
	for c, names := range groups {
		for _, n := range names {
			m[n] = c
		}
	}
	return m
}()

// CategoryOf maps an event name to its bucket. Names are matched exactly;
// anything unknown is CategoryOther.
func CategoryOf(eventName string) Category {
	if c, ok := categoryByName[eventName]; ok {
		return c
	}
	return CategoryOther
}

// CategorySet is a set of categories.
type CategorySet uint32

// AllCategories contains every category.
const AllCategories CategorySet = 1<<numCategories - 1

// Has reports membership.
func (s CategorySet) Has(c Category) bool { return s&(1<<c) != 0 }

// With returns s plus c.
func (s CategorySet) With(c Category) CategorySet { return s | 1<<c }

// Without returns s minus c.
func (s CategorySet) Without(c Category) CategorySet { return s &^ (1 << c) }
