package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	plog "github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/monitor"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	fc, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.Equal(t, monitor.DefaultFilterConfig(), fc)

	opts := cfg.EngineOptions()
	assert.Equal(t, collect.LiveProviderName, opts.AutoTargetSource)
	assert.Equal(t, monitor.DefaultDrainInterval, opts.DrainInterval)
	assert.Equal(t, collect.DefaultKernelOptions(), cfg.KernelOptions())
	assert.Equal(t, collect.DefaultPollInterval, cfg.LogTailOptions().PollInterval)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
collectors:
  kernel: false
  pollInterval: 250ms
  detailMode: debug
  detailCeiling: 500
filter:
  hideResults: [success, Indeterminate]
  hideCategories: [KernelDisk]
  pid: 4242
  targets: [4242, 17]
log:
  level: debug
  levels:
    engine: error
output: json
`)
	cfg, err := Parse(data, ".yml")
	require.NoError(t, err)

	assert.False(t, cfg.Collectors.Kernel)
	assert.True(t, cfg.Collectors.Live, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.LogTailOptions().PollInterval)
	assert.Equal(t, collect.DetailDebug, cfg.KernelOptions().DetailMode)
	assert.Equal(t, []uint32{4242, 17}, cfg.Filter.Targets)
	assert.Equal(t, OutputJSON, cfg.Output)

	fc, err := cfg.FilterConfig()
	require.NoError(t, err)
	assert.False(t, fc.ShowResults.Has(monitor.ResultSuccess))
	assert.False(t, fc.ShowResults.Has(monitor.ResultIndeterminate))
	assert.True(t, fc.ShowResults.Has(monitor.ResultFailure))
	assert.False(t, fc.ShowCategories.Has(monitor.CategoryKernelDisk))
	assert.True(t, fc.ShowCategories.Has(monitor.CategoryKernelFile))
	assert.Equal(t, 4242, fc.PID)

	levels, err := cfg.LogLevels()
	require.NoError(t, err)
	assert.Equal(t, plog.ErrorLevel, levels[monitor.EngineLogger])
	assert.Equal(t, plog.DebugLevel, levels[monitor.CollectorLogger])
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"collectors":{"strictDecode":false},"engine":{"maxBatch":64,"drainInterval":"50ms"}}`)
	cfg, err := Parse(data, ".json")
	require.NoError(t, err)
	assert.False(t, cfg.KernelOptions().StrictDecode)

	opts := cfg.EngineOptions()
	assert.Equal(t, 64, opts.MaxBatch)
	assert.Equal(t, 50*time.Millisecond, opts.DrainInterval)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"extension", `output: tui`, ".toml"},
		{"result class", `filter: {hideResults: [Maybe]}`, ".yaml"},
		{"category", `filter: {hideCategories: [Network]}`, ".yaml"},
		{"detail mode", `collectors: {detailMode: all}`, ".yaml"},
		{"output", `output: html`, ".yaml"},
		{"duration", `collectors: {pollInterval: soon}`, ".yaml"},
		{"poll interval", `collectors: {pollInterval: 0s}`, ".yaml"},
		{"log level", `log: {level: loud}`, ".yaml"},
		{"logger", `log: {levels: {network: info}}`, ".yaml"},
		{"pid", `filter: {pid: -7}`, ".yaml"},
		{"sampler", `log: {sampler: random}`, ".yaml"},
		{"sample rate", `log: {sampler: rate, sampleRate: 0}`, ".yaml"},
		{"syntax", `{"output":`, ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.ext)
			assert.ErrorIs(t, err, monitor.ErrInvalidConfig)
		})
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "psfmonitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output: json\nfilter: {pid: 10}\n"), 0o600))

	t.Setenv("PSFMON_FILTER_PID", "20")
	t.Setenv("PSFMON_FILTER_HIDE_CATEGORIES", "KernelFile,KernelDisk")
	t.Setenv("PSFMON_COLLECTORS_SYSTEM", "false")
	t.Setenv("PSFMON_ENGINE_DRAIN_INTERVAL", "20ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, cfg.Output)
	assert.Equal(t, 20, cfg.Filter.PID)
	assert.False(t, cfg.Collectors.System)
	assert.Equal(t, 20*time.Millisecond, time.Duration(cfg.Engine.DrainInterval))
	assert.Equal(t, []string{"KernelFile", "KernelDisk"}, cfg.Filter.HideCategories)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAutoTargetNeedsLive(t *testing.T) {
	cfg := Default()
	cfg.Collectors.Live = false
	assert.Empty(t, cfg.EngineOptions().AutoTargetSource)
}

func TestLogSampler(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.LogSampler())

	cfg, err := Parse([]byte("log: {sampler: rate, sampleRate: 2, sampleWindow: 1h}"), ".yaml")
	require.NoError(t, err)
	s := cfg.LogSampler()
	require.NotNil(t, s)
	ok1, _ := s.ShouldLog("a", nil)
	ok2, _ := s.ShouldLog("b", nil)
	ok3, _ := s.ShouldLog("c", nil)
	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}
