package collect

import (
	"errors"

	"github.com/tekert/psfmonitor/monitor"
)

var (
	// ErrUnsupported is returned by sources that need Windows.
	ErrUnsupported = monitor.ErrUnsupported
	// ErrSourceUnavailable is returned when a session cannot be enabled,
	// usually for lack of elevation. The engine keeps running without it.
	ErrSourceUnavailable = monitor.ErrSourceUnavailable
	// ErrStopped is returned by sources closed while starting.
	ErrStopped = errors.New("collector stopped")
	// ErrNoProperty is wrapped by event adapters when a payload property is
	// missing or cannot be read.
	ErrNoProperty = errors.New("property not found")
)
