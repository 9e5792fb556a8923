// Command psfmonitor captures PSF trace fixup calls, kernel activity of the
// fixed-up processes and new event log entries into one filtered view.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	plog "github.com/phuslu/log"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tekert/psfmonitor/collect"
	"github.com/tekert/psfmonitor/config"
	"github.com/tekert/psfmonitor/eventlog"
	"github.com/tekert/psfmonitor/monitor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logFile    string
	noStats    bool
}

func run() error {
	cfg, opts, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	closeLog, err := setupLogging(cfg, opts)
	if err != nil {
		return err
	}
	defer closeLog()

	// Metrics stay in process; the reader feeds the exit statistics.
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer provider.Shutdown(context.Background())

	metrics, err := monitor.DefaultMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, kernel := newEngine(cfg, metrics)
	if err := metrics.ObserveModel(eng.Model()); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer metrics.Close()

	switch cfg.Output {
	case config.OutputJSON:
		err = runHeadless(ctx, eng, os.Stdout)
	default:
		err = runTUI(ctx, eng)
	}

	if !opts.noStats {
		printStats(os.Stderr, eng, kernel, reader)
	}
	return err
}

// loadConfig reads the config file, the environment and then the flags,
// each overriding the previous.
func loadConfig(args []string) (config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("psfmonitor", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to a .yaml or .json config file.")
	fs.StringVar(&opts.logFile, "log-file", "", "Write logs to this file (default: stderr, or a temp file in tui mode).")
	fs.BoolVar(&opts.noStats, "no-stats", false, "Do not print the statistics table at exit.")
	output := fs.String("output", "", "Output mode: 'tui' or 'json'.")
	pid := fs.Int("pid", monitor.NoPID, "Show only this process id.")
	detail := fs.String("detail", "", "Kernel FileIO/DiskIO detail: 'target' or 'debug'.")
	strict := fs.Bool("strict", true, "Stop the kernel collector on an undecodable event.")
	noKernel := fs.Bool("no-kernel", false, "Disable the kernel collector.")
	noLive := fs.Bool("no-live", false, "Disable the PSF trace fixup collector.")
	noLogs := fs.Bool("no-eventlog", false, "Disable the Application and System log tailers.")
	level := fs.String("log-level", "", "Log level: trace, debug, info, warn, error or off.")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Monitors PSF trace fixup calls with kernel and event log context.")
		fmt.Fprintf(fs.Output(), "Settings load from -config, then %s* variables, then flags.\n\nOptions:\n", config.EnvPrefix)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, opts, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output = *output
		case "pid":
			cfg.Filter.PID = *pid
		case "detail":
			cfg.Collectors.DetailMode = *detail
		case "strict":
			cfg.Collectors.StrictDecode = *strict
		case "no-kernel":
			cfg.Collectors.Kernel = !*noKernel
		case "no-live":
			cfg.Collectors.Live = !*noLive
		case "no-eventlog":
			cfg.Collectors.Application = !*noLogs
			cfg.Collectors.System = !*noLogs
		case "log-level":
			cfg.Log.Level = *level
		}
	})
	return cfg, opts, cfg.Validate()
}

func setupLogging(cfg config.Config, opts options) (func(), error) {
	levels, err := cfg.LogLevels()
	if err != nil {
		return nil, err
	}
	monitor.SetLogLevels(levels)
	if s := cfg.LogSampler(); s != nil {
		monitor.GetLogManager().SetSampler(s)
	}

	path := opts.logFile
	if path == "" && cfg.Output == config.OutputTUI {
		path = filepath.Join(os.TempDir(), "psfmonitor.log")
	}
	if path == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	monitor.SetLogWriter(&plog.IOWriter{Writer: f})
	return func() {
		monitor.SetLogWriter(&plog.IOWriter{Writer: os.Stderr})
		f.Close()
	}, nil
}

// newEngine registers the enabled collectors. The live collector goes first
// so its pids reach the allow-list before kernel events are gated.
func newEngine(cfg config.Config, metrics *monitor.Metrics) (*monitor.Engine, *collect.KernelCollector) {
	shared := monitor.NewShared()
	shared.SetTargets(cfg.Filter.Targets...)

	opts := cfg.EngineOptions()
	opts.Metrics = metrics
	eng := monitor.NewEngine(shared, opts)

	if cfg.Collectors.Live {
		eng.Add(collect.NewLiveCollector(shared, nil))
	}
	var kernel *collect.KernelCollector
	if cfg.Collectors.Kernel {
		kernel = collect.NewKernelCollector(shared, nil, cfg.KernelOptions())
		eng.Add(kernel)
	}
	if cfg.Collectors.Application {
		eng.Add(collect.NewLogTailer(shared, eventlog.Application, cfg.LogTailOptions()))
	}
	if cfg.Collectors.System {
		eng.Add(collect.NewLogTailer(shared, eventlog.System, cfg.LogTailOptions()))
	}
	return eng, kernel
}
