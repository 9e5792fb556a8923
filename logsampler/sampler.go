/*
Package logsampler decides which log lines on hot paths are worth writing.

Collectors can fail the same way thousands of times per second (a log entry
whose formatter is missing, an endpoint that stays full). Every failure is
counted, but only the first one and then one per backoff window reaches the
writer, together with the number of lines suppressed since the last one.
*/
package logsampler

import (
	"time"
)

// BackoffConfig defines the parameters for the exponential backoff strategy.
type BackoffConfig struct {
	InitialInterval time.Duration // Quiet window after the first emitted line.
	MaxInterval     time.Duration // Upper bound for the quiet window.
	Factor          float64       // Window growth per emitted line (e.g. 2.0).
	// ResetInterval is the inactivity after which a key starts over at
	// InitialInterval and is eligible for eviction. Zero disables both.
	ResetInterval time.Duration
}

// DefaultBackoff is the configuration used by the monitor loggers.
var DefaultBackoff = BackoffConfig{
	InitialInterval: 1 * time.Second,
	MaxInterval:     1 * time.Hour,
	Factor:          1.2,
	ResetInterval:   10 * time.Minute,
}

// SummaryReporter receives the suppressed count of keys that go quiet.
// It keeps the sampler independent of any logging library.
type SummaryReporter interface {
	LogSummary(key string, suppressedCount int64)
}

// Clock returns the current time. Tests replace it to step time manually.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sampler decides if a log event should be written.
type Sampler interface {
	// ShouldLog reports whether the event for key should be written and, when
	// it should, how many events were suppressed for key since the last one.
	ShouldLog(key string, err error) (bool, int64)
	// Flush reports a summary of every key with suppressed events.
	Flush()
	// Close flushes one last time and releases the sampler state.
	Close()
}
