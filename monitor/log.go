package monitor

import (
	"os"

	"github.com/tekert/psfmonitor/logsampler"
	phusluadapter "github.com/tekert/psfmonitor/logsampler/adapters"

	plog "github.com/phuslu/log"
)

// LoggerName defines the name of a logger for configuration.
type LoggerName string

// Available logger names. Use these as keys when configuring log levels.
const (
	EngineLogger    LoggerName = "engine"
	CollectorLogger LoggerName = "collector"
	DefaultLogger   LoggerName = "default"
)

// SampledLogger is a phuslu logger with sampled hot path helpers.
type SampledLogger = phusluadapter.SampledLogger

// LoggerManager owns the package loggers and the hot path sampler.
type LoggerManager struct {
	writer  plog.Writer
	sampler logsampler.Sampler
	loggers map[LoggerName]*plog.Logger
}

var (
	loggerManager *LoggerManager
	collog        *SampledLogger // collector and endpoint hot paths
	englog        *plog.Logger   // engine lifecycle
	log           *plog.Logger
)

func init() {
	loggerManager = NewLoggerManager()
	collog = phusluadapter.NewSampledLogger(
		loggerManager.loggers[CollectorLogger],
		loggerManager.sampler,
	)
	englog = loggerManager.loggers[EngineLogger]
	log = loggerManager.loggers[DefaultLogger]
}

// NewLoggerManager creates loggers writing to stderr.
func NewLoggerManager() *LoggerManager {
	writer := &plog.IOWriter{Writer: os.Stderr}

	lm := &LoggerManager{
		writer:  writer,
		loggers: make(map[LoggerName]*plog.Logger),
	}
	lm.loggers[CollectorLogger] = &plog.Logger{
		Level:   plog.WarnLevel,
		Writer:  writer,
		Context: plog.NewContext(nil).Str("component", string(CollectorLogger)).Value(),
	}
	lm.loggers[EngineLogger] = &plog.Logger{
		Level:   plog.InfoLevel,
		Writer:  writer,
		Context: plog.NewContext(nil).Str("component", string(EngineLogger)).Value(),
	}
	lm.loggers[DefaultLogger] = &plog.Logger{
		Level:   plog.InfoLevel,
		Writer:  writer,
		Context: plog.NewContext(nil).Str("component", string(DefaultLogger)).Value(),
	}

	reporter := &phusluadapter.SummaryReporter{Logger: lm.loggers[DefaultLogger]}
	lm.sampler = logsampler.NewEventDrivenSampler(logsampler.DefaultBackoff, reporter)
	return lm
}

// SetBaseContext changes the base context for all loggers.
func (lm *LoggerManager) SetBaseContext(ctx []byte) {
	for name, logger := range lm.loggers {
		logger.Context = plog.NewContext(ctx).Str("component", string(name)).Value()
	}
}

// SetSampler replaces the hot path sampler and closes the previous one.
func (lm *LoggerManager) SetSampler(sampler logsampler.Sampler) {
	if lm.sampler != nil {
		lm.sampler.Close()
	}
	lm.sampler = sampler
	if collog != nil {
		collog.Sampler = sampler
	}
}

// SetWriter changes the writer for all loggers.
func (lm *LoggerManager) SetWriter(writer plog.Writer) {
	lm.writer = writer
	for _, logger := range lm.loggers {
		logger.Writer = writer
	}
}

// SetLogLevels sets the level of the named loggers.
func (lm *LoggerManager) SetLogLevels(levels map[LoggerName]plog.Level) {
	for name, level := range levels {
		if logger, ok := lm.loggers[name]; ok {
			logger.SetLevel(level)
		}
	}
}

// Logger returns the named logger or nil.
func (lm *LoggerManager) Logger(name LoggerName) *plog.Logger { return lm.loggers[name] }

// Sampler returns the hot path sampler.
func (lm *LoggerManager) Sampler() logsampler.Sampler { return lm.sampler }

// CollectorLog is the sampled logger collectors in other packages share with
// the endpoints.
func CollectorLog() *SampledLogger { return collog }

func SetSampler(s logsampler.Sampler) { loggerManager.SetSampler(s) }

// SetLogLevels sets the level of the named loggers.
func SetLogLevels(levels map[LoggerName]plog.Level) { loggerManager.SetLogLevels(levels) }

// SetLogLevelsAll sets every logger to level.
func SetLogLevelsAll(level plog.Level) {
	levels := make(map[LoggerName]plog.Level, len(loggerManager.loggers))
	for name := range loggerManager.loggers {
		levels[name] = level
	}
	SetLogLevels(levels)
}

func SetLogDebugLevel() { SetLogLevelsAll(plog.DebugLevel) }
func SetLogInfoLevel()  { SetLogLevelsAll(plog.InfoLevel) }
func SetLogWarnLevel()  { SetLogLevelsAll(plog.WarnLevel) }
func SetLogErrorLevel() { SetLogLevelsAll(plog.ErrorLevel) }
func SetLogTraceLevel() { SetLogLevelsAll(plog.TraceLevel) }

// DisableLogging silences every logger.
func DisableLogging() { SetLogLevelsAll(99) }

// SetLogWriter sets the writer of every logger.
func SetLogWriter(writer plog.Writer) { loggerManager.SetWriter(writer) }

// SetLogBaseContext sets the base context of every logger.
func SetLogBaseContext(ctx []byte) { loggerManager.SetBaseContext(ctx) }

// GetLogManager returns the package logger manager.
func GetLogManager() *LoggerManager { return loggerManager }
