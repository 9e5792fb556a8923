// Package eventlog reads new entries from a Windows event log channel.
//
// A Reader keeps a bookmark: SeekEnd places it after the newest entry and
// every Next call returns the entries written after it, moving the bookmark
// past each returned entry.
package eventlog

import (
	"errors"
	"strconv"
	"time"
)

// DefaultQuery selects every entry with a level.
const DefaultQuery = "*[System/Level>0]"

// Channels read by the log tailers.
const (
	Application = "Application"
	System      = "System"
)

var (
	// ErrUnsupported is returned by Open on platforms without an event log.
	ErrUnsupported = errors.New("event log not supported on this platform")
	// ErrClosed is returned by a Reader after Close.
	ErrClosed = errors.New("event log reader closed")
)

// Entry is one event log entry.
type Entry struct {
	RecordID uint64
	EventID  uint32
	Provider string
	Level    uint8
	PID      uint32
	TID      uint32
	Time     time.Time

	// Message is the formatted description. FormatErr is set instead when
	// the provider's message could not be formatted; Values then carries the
	// raw property values.
	Message   string
	FormatErr error
	Values    []string
}

// Reader reads entries after a bookmark.
type Reader interface {
	// SeekEnd moves the bookmark after the newest entry.
	SeekEnd() error
	// Next returns up to max entries after the bookmark in log order.
	Next(max int) ([]Entry, error)
	Close() error
}

// LevelName is the display name of an event level.
func LevelName(level uint8) string {
	switch level {
	case 1:
		return "Critical"
	case 2:
		return "Error"
	case 3:
		return "Warning"
	case 4:
		return "Information"
	}
	return "Level " + strconv.Itoa(int(level))
}
