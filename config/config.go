// Package config loads psfmonitor settings from a YAML or JSON file and
// PSFMON_ environment variables, in that order, over the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	plog "github.com/phuslu/log"
	"gopkg.in/yaml.v3"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/logsampler"
	"github.com/tekert/psfmonitor/monitor"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PSFMON_"

// Output modes of the command line tool.
const (
	OutputTUI  = "tui"
	OutputJSON = "json"
)

// Duration reads "1s" style strings from YAML, JSON and the environment.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", monitor.ErrInvalidConfig, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the complete tool configuration.
type Config struct {
	Collectors Collectors `yaml:"collectors" json:"collectors" envPrefix:"COLLECTORS_"`
	Filter     Filter     `yaml:"filter" json:"filter" envPrefix:"FILTER_"`
	Engine     Engine     `yaml:"engine" json:"engine" envPrefix:"ENGINE_"`
	Log        Log        `yaml:"log" json:"log" envPrefix:"LOG_"`
	// Output is "tui" or "json" (JSON lines on stdout).
	Output string `yaml:"output" json:"output" env:"OUTPUT"`
}

// Collectors enables and tunes the event sources.
type Collectors struct {
	Live        bool `yaml:"live" json:"live" env:"LIVE"`
	Kernel      bool `yaml:"kernel" json:"kernel" env:"KERNEL"`
	Application bool `yaml:"application" json:"application" env:"APPLICATION"`
	System      bool `yaml:"system" json:"system" env:"SYSTEM"`

	PollInterval  Duration `yaml:"pollInterval" json:"pollInterval" env:"POLL_INTERVAL"`
	StrictDecode  bool     `yaml:"strictDecode" json:"strictDecode" env:"STRICT_DECODE"`
	DetailMode    string   `yaml:"detailMode" json:"detailMode" env:"DETAIL_MODE"`
	DetailCeiling int      `yaml:"detailCeiling" json:"detailCeiling" env:"DETAIL_CEILING"`
}

// Filter holds the initial view toggles.
type Filter struct {
	HideResults    []string `yaml:"hideResults" json:"hideResults" env:"HIDE_RESULTS" envSeparator:","`
	HideCategories []string `yaml:"hideCategories" json:"hideCategories" env:"HIDE_CATEGORIES" envSeparator:","`
	PID            int      `yaml:"pid" json:"pid" env:"PID"`
	// AutoTarget adopts the pid of the first live record when PID is unset.
	AutoTarget bool `yaml:"autoTarget" json:"autoTarget" env:"AUTO_TARGET"`
	// Targets seeds the kernel allow-list.
	Targets []uint32 `yaml:"targets" json:"targets" env:"TARGETS" envSeparator:","`
}

// Engine sizes the queues and the drain loop.
type Engine struct {
	EndpointCapacity     int      `yaml:"endpointCapacity" json:"endpointCapacity" env:"ENDPOINT_CAPACITY"`
	ControlBlockCapacity int      `yaml:"controlBlockCapacity" json:"controlBlockCapacity" env:"CONTROL_BLOCK_CAPACITY"`
	DrainInterval        Duration `yaml:"drainInterval" json:"drainInterval" env:"DRAIN_INTERVAL"`
	MaxBatch             int      `yaml:"maxBatch" json:"maxBatch" env:"MAX_BATCH"`
}

// Log sets logger levels: trace, debug, info, warn, error or off.
type Log struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// Levels overrides Level per logger name (engine, collector, default).
	Levels map[string]string `yaml:"levels" json:"levels" env:"LEVELS" envSeparator:"," envKeyValSeparator:":"`

	// Sampler limits repeated hot path warnings: "backoff" (per key,
	// exponential) or "rate" (one line in every SampleRate, counted across
	// keys and restarted every SampleWindow).
	Sampler      string   `yaml:"sampler" json:"sampler" env:"SAMPLER"`
	SampleRate   int      `yaml:"sampleRate" json:"sampleRate" env:"SAMPLE_RATE"`
	SampleWindow Duration `yaml:"sampleWindow" json:"sampleWindow" env:"SAMPLE_WINDOW"`
}

// Log samplers.
const (
	SamplerBackoff = "backoff"
	SamplerRate    = "rate"
)

// Default enables every collector with strict decoding and target detail.
func Default() Config {
	return Config{
		Collectors: Collectors{
			Live:          true,
			Kernel:        true,
			Application:   true,
			System:        true,
			PollInterval:  Duration(collect.DefaultPollInterval),
			StrictDecode:  true,
			DetailMode:    string(collect.DetailTarget),
			DetailCeiling: collect.DefaultDetailCeiling,
		},
		Filter: Filter{
			PID:        monitor.NoPID,
			AutoTarget: true,
		},
		Engine: Engine{
			EndpointCapacity:     monitor.DefaultEndpointCapacity,
			ControlBlockCapacity: monitor.DefaultControlBlockCapacity,
			DrainInterval:        Duration(monitor.DefaultDrainInterval),
			MaxBatch:             monitor.DefaultMaxBatch,
		},
		Log: Log{
			Level:        "warn",
			Sampler:      SamplerBackoff,
			SampleRate:   10,
			SampleWindow: Duration(time.Second),
		},
		Output: OutputTUI,
	}
}

// Load reads path (skipped when empty), applies the environment and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(data, filepath.Ext(path)); err != nil {
			return cfg, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("%w: environment: %v", monitor.ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes data over the defaults; ext selects the format (".yaml",
// ".yml" or ".json").
func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()
	if err := cfg.decode(data, ext); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("%w: parse yaml: %v", monitor.ErrInvalidConfig, err)
		}
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("%w: parse json: %v", monitor.ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config file extension %q", monitor.ErrInvalidConfig, ext)
	}
	return nil
}

// Validate reports every bad value at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.FilterConfig(); err != nil {
		errs = append(errs, err)
	}
	if err := c.KernelOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevels(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Sampler {
	case SamplerBackoff:
	case SamplerRate:
		if c.Log.SampleRate < 1 || c.Log.SampleWindow <= 0 {
			errs = append(errs, fmt.Errorf("%w: rate sampler needs a positive rate and window", monitor.ErrInvalidConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: log sampler %q", monitor.ErrInvalidConfig, c.Log.Sampler))
	}
	switch c.Output {
	case OutputTUI, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("%w: output %q", monitor.ErrInvalidConfig, c.Output))
	}
	if c.Collectors.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll interval must be positive", monitor.ErrInvalidConfig))
	}
	if c.Engine.EndpointCapacity < 0 || c.Engine.ControlBlockCapacity < 0 || c.Engine.MaxBatch < 0 {
		errs = append(errs, fmt.Errorf("%w: negative engine size", monitor.ErrInvalidConfig))
	}
	if c.Filter.PID < monitor.NoPID {
		errs = append(errs, fmt.Errorf("%w: pid %d", monitor.ErrInvalidConfig, c.Filter.PID))
	}
	return errors.Join(errs...)
}

// FilterConfig converts the filter section.
func (c Config) FilterConfig() (monitor.FilterConfig, error) {
	fc := monitor.DefaultFilterConfig()
	for _, s := range c.Filter.HideResults {
		rc, err := monitor.ParseResultClass(strings.TrimSpace(s))
		if err != nil {
			return fc, err
		}
		fc.ShowResults = fc.ShowResults.Without(rc)
	}
	for _, s := range c.Filter.HideCategories {
		cat, err := monitor.ParseCategory(strings.TrimSpace(s))
		if err != nil {
			return fc, err
		}
		fc.ShowCategories = fc.ShowCategories.Without(cat)
	}
	fc.PID = c.Filter.PID
	return fc, nil
}

// EngineOptions converts the engine section. The filter must be valid.
func (c Config) EngineOptions() monitor.EngineOptions {
	fc, _ := c.FilterConfig()
	opts := monitor.EngineOptions{
		EndpointCapacity:     c.Engine.EndpointCapacity,
		ControlBlockCapacity: c.Engine.ControlBlockCapacity,
		DrainInterval:        time.Duration(c.Engine.DrainInterval),
		MaxBatch:             c.Engine.MaxBatch,
		Filter:               &fc,
	}
	if c.Filter.AutoTarget && c.Collectors.Live {
		opts.AutoTargetSource = collect.LiveProviderName
	}
	return opts
}

// KernelOptions converts the kernel collector settings.
func (c Config) KernelOptions() collect.KernelOptions {
	return collect.KernelOptions{
		StrictDecode:  c.Collectors.StrictDecode,
		DetailMode:    collect.DetailMode(c.Collectors.DetailMode),
		DetailCeiling: c.Collectors.DetailCeiling,
	}
}

// LogTailOptions converts the event log settings.
func (c Config) LogTailOptions() collect.LogTailOptions {
	return collect.LogTailOptions{PollInterval: time.Duration(c.Collectors.PollInterval)}
}

// LogLevels resolves the level of every named logger.
func (c Config) LogLevels() (map[monitor.LoggerName]plog.Level, error) {
	base, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	levels := map[monitor.LoggerName]plog.Level{
		monitor.EngineLogger:    base,
		monitor.CollectorLogger: base,
		monitor.DefaultLogger:   base,
	}
	for name, s := range c.Log.Levels {
		n := monitor.LoggerName(strings.ToLower(name))
		if _, ok := levels[n]; !ok {
			return nil, fmt.Errorf("%w: unknown logger %q", monitor.ErrInvalidConfig, name)
		}
		if levels[n], err = parseLevel(s); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

// LogSampler returns the sampler to install, nil to keep the default
// backoff sampler.
func (c Config) LogSampler() logsampler.Sampler {
	if c.Log.Sampler != SamplerRate {
		return nil
	}
	return logsampler.NewRateSampler(c.Log.SampleRate, time.Duration(c.Log.SampleWindow))
}

func parseLevel(s string) (plog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return plog.TraceLevel, nil
	case "debug":
		return plog.DebugLevel, nil
	case "info", "":
		return plog.InfoLevel, nil
	case "warn", "warning":
		return plog.WarnLevel, nil
	case "error":
		return plog.ErrorLevel, nil
	case "off", "none":
		return 99, nil
	}
	return 0, fmt.Errorf("%w: log level %q", monitor.ErrInvalidConfig, s)
}
