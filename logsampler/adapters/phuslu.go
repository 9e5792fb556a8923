// Package adapters connects logsampler to phuslu/log.
package adapters

import (
	"hash/maphash"
	"strconv"
	"sync/atomic"

	"github.com/tekert/psfmonitor/logsampler"

	plog "github.com/phuslu/log"
)

var hashSeed = maphash.MakeSeed()

// Sampler is an alias for the logsampler interface.
type Sampler = logsampler.Sampler

// SummaryReporter writes sampler summaries through a phuslu logger.
type SummaryReporter struct {
	Logger *plog.Logger
}

// LogSummary implements logsampler.SummaryReporter.
func (r *SummaryReporter) LogSummary(key string, suppressedCount int64) {
	r.Logger.Info().
		Str("samplerKey", key).
		Int64("suppressedCount", suppressedCount).
		Msg("log sampler summary")
}

// SampledLogger is a phuslu logger whose Sampled* calls go through a Sampler.
// A nil *plog.Entry is returned when the line is suppressed; phuslu entries
// are nil-safe so call chains need no checks.
type SampledLogger struct {
	*plog.Logger
	Sampler Sampler
}

// NewSampledLogger wraps baseLogger.
func NewSampledLogger(baseLogger *plog.Logger, sampler Sampler) *SampledLogger {
	return &SampledLogger{Logger: baseLogger, Sampler: sampler}
}

// Sampled starts an entry at level if both the level and the sampler allow it.
// With useErrSig the key is extended with a hash of the error text so that
// different errors on the same call site are sampled independently.
func (l *SampledLogger) Sampled(level plog.Level, key string, useErrSig bool, err ...error) *plog.Entry {
	if plog.Level(atomic.LoadUint32((*uint32)(&l.Logger.Level))) > level {
		return nil
	}

	var e error
	if len(err) > 0 {
		e = err[0]
	}
	if useErrSig && e != nil {
		var h maphash.Hash
		h.SetSeed(hashSeed)
		h.WriteString(e.Error())
		var buf [128]byte
		b := append(buf[:0], key...)
		b = append(b, ':')
		b = strconv.AppendUint(b, h.Sum64(), 16)
		key = string(b)
	}

	suppressed := int64(0)
	if l.Sampler != nil {
		var ok bool
		if ok, suppressed = l.Sampler.ShouldLog(key, e); !ok {
			return nil
		}
	}
	entry := l.Logger.WithLevel(level)
	if suppressed > 0 {
		entry = entry.Int64("suppressedCount", suppressed)
	}
	if e != nil {
		entry = entry.Err(e)
	}
	return entry
}

// SampledError starts a sampled Error entry.
func (l *SampledLogger) SampledError(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, false, err...)
}

// SampledErrorWithErrSig is SampledError keyed by the error text too.
func (l *SampledLogger) SampledErrorWithErrSig(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, true, err...)
}

// SampledWarn starts a sampled Warn entry.
func (l *SampledLogger) SampledWarn(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, false, err...)
}

// SampledWarnWithErrSig is SampledWarn keyed by the error text too.
func (l *SampledLogger) SampledWarnWithErrSig(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, true, err...)
}

// SampledDebug starts a sampled Debug entry.
func (l *SampledLogger) SampledDebug(key string) *plog.Entry {
	return l.Sampled(plog.DebugLevel, key, false)
}
