package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/config"
	"github.com/tekert/psfmonitor/monitor"
)

func TestLoadConfigFlagsOverride(t *testing.T) {
	cfg, opts, err := loadConfig([]string{"-output", "json", "-pid", "42", "-no-kernel", "-strict=false", "-no-stats"})
	require.NoError(t, err)
	assert.Equal(t, config.OutputJSON, cfg.Output)
	assert.Equal(t, 42, cfg.Filter.PID)
	assert.False(t, cfg.Collectors.Kernel)
	assert.True(t, cfg.Collectors.Live)
	assert.False(t, cfg.Collectors.StrictDecode)
	assert.True(t, opts.noStats)
}

func TestLoadConfigUnsetFlagsKeepEnvironment(t *testing.T) {
	t.Setenv("PSFMON_COLLECTORS_STRICT_DECODE", "false")
	cfg, _, err := loadConfig(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Collectors.StrictDecode)
	assert.Equal(t, monitor.NoPID, cfg.Filter.PID)
}

func TestLoadConfigRejects(t *testing.T) {
	_, _, err := loadConfig([]string{"-detail", "everything"})
	assert.ErrorIs(t, err, monitor.ErrInvalidConfig)

	_, _, err = loadConfig([]string{"-help"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestNewEngineRegistersEnabledCollectors(t *testing.T) {
	cfg := config.Default()
	cfg.Collectors.System = false
	cfg.Filter.Targets = []uint32{7}

	eng, kernel := newEngine(cfg, nil)
	require.NotNil(t, kernel)

	var names []string
	for _, s := range eng.Statuses() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{collect.LiveProviderName, collect.KernelName, "Application"}, names)
	assert.Equal(t, []uint32{7}, eng.Shared().Targets())
}
