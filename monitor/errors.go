package monitor

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrSourceUnavailable = errors.New("event source unavailable")
	ErrUnsupported       = errors.New("event source not supported on this platform")
	ErrDrainFault        = errors.New("drain fault")
	ErrModelFault        = errors.New("model update fault")
	ErrUnknownCollector  = errors.New("unknown collector")
)

// DecodeError reports a recognized event whose payload could not be decoded.
type DecodeError struct {
	Event string // qualified event name, e.g. "FileIO/Read"
	Field string // payload property, if known
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s field %s: %v", e.Event, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
