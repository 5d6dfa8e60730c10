// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/gpu-tools/instrcount/internal/activation"
	"github.com/gpu-tools/instrcount/internal/config"
	"github.com/gpu-tools/instrcount/internal/counter"
	"github.com/gpu-tools/instrcount/internal/device/gpu"
	_ "github.com/gpu-tools/instrcount/internal/device/gpu/nvidia"
	"github.com/gpu-tools/instrcount/internal/dump"
	"github.com/gpu-tools/instrcount/internal/engine/replay"
	"github.com/gpu-tools/instrcount/internal/exporter/prometheus"
	"github.com/gpu-tools/instrcount/internal/exporter/stdout"
	"github.com/gpu-tools/instrcount/internal/instrument"
	"github.com/gpu-tools/instrcount/internal/interceptor"
	"github.com/gpu-tools/instrcount/internal/logger"
	"github.com/gpu-tools/instrcount/internal/server"
	"github.com/gpu-tools/instrcount/internal/service"
	"github.com/gpu-tools/instrcount/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		return 1
	}

	logger := logger.New(logger.EffectiveLevel(cfg.Log.Level, cfg.Counting.Verbose), cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	inventories := discoverGPUs(logger, cfg)
	defer shutdownInventories(logger, inventories)

	services, err := createServices(logger, cfg, inventories)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		return 1
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		return 1
	}

	logger.Info("Starting instrcount")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("instrcount terminated with an error", "error", err)
		return 1
	}
	logger.Info("Graceful shutdown completed")
	return 0
}

func parseArgsAndConfig(args []string) (*config.Config, error) {
	const appName = "instrcount"
	app := kingpin.New(appName, "Counts the dynamic instructions executed by GPU kernel launches.")
	app.Version(version.Info().String())

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	overlays := app.Flag("config.overlay", "YAML merged over the configuration; may be repeated").Strings()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(args))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		logger.Info("Loading configuration file", "path", *configFile)
		loaded, err := config.FromFile(*configFile)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		cfg = loaded
	}

	if len(*overlays) > 0 {
		merged, err := (&config.Builder{}).Use(cfg).Merge(*overlays...).Build()
		if err != nil {
			logger.Error("Error merging configuration overlays", "error", err.Error())
			return nil, err
		}
		cfg = merged
	}

	config.ApplyEnv(cfg, os.LookupEnv, logger)

	// command line flags override config file and environment
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	if cfg.Trace.File == "" {
		err := fmt.Errorf("--%s is required", config.TraceFileFlag)
		logger.Error("No launch trace given", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("instrcount version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func discoverGPUs(logger *slog.Logger, cfg *config.Config) []gpu.Inventory {
	if !ptr.Deref(cfg.GPU.Discover, false) {
		return nil
	}

	inventories := gpu.DiscoverAll(logger)
	if len(inventories) == 0 {
		logger.Info("No GPUs discovered")
	}
	for _, inv := range inventories {
		for _, d := range inv.Devices() {
			logger.Info("GPU",
				"vendor", inv.Vendor(),
				"index", d.Index,
				"name", d.Name,
				"uuid", d.UUID,
				"arch", d.Arch(),
				"driver", inv.DriverVersion())
		}
	}
	return inventories
}

func shutdownInventories(logger *slog.Logger, inventories []gpu.Inventory) {
	for _, inv := range inventories {
		if err := inv.Shutdown(); err != nil {
			logger.Warn("failed to shut down GPU inventory", "vendor", inv.Vendor(), "error", err)
		}
	}
}

func createServices(logger *slog.Logger, cfg *config.Config, inventories []gpu.Inventory) ([]service.Service, error) {
	logger.Debug("Creating all services")

	trace, err := replay.FromFile(cfg.Trace.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	eng := replay.NewEngine(trace)
	dev := replay.NewDevice(eng, logger)

	c := cfg.Counting
	shared := counter.NewShared()
	aggregator := counter.NewAggregator()

	mode := activation.Gated
	if ptr.Deref(c.ActiveFromStart, true) {
		mode = activation.Eager
	}
	policy := activation.NewPolicy(mode,
		activation.WithLogger(logger),
		activation.WithOrdinalRange(uint64(c.StartGridNum), uint64(c.EndGridNum)),
	)

	instrOpts := []instrument.OptionFn{
		instrument.WithLogger(logger),
		instrument.WithSelector(instrument.IntervalSelector{Begin: c.InstrBegin, End: c.InstrEnd}),
		instrument.WithWarpLevel(ptr.Deref(c.CountWarpLevel, true)),
		instrument.WithExcludePredOff(ptr.Deref(c.ExcludePredOff, false)),
		instrument.WithMangledNames(ptr.Deref(c.MangledNames, true)),
	}
	if ptr.Deref(cfg.Dump.Enabled, true) {
		instrOpts = append(instrOpts, instrument.WithDumper(
			dump.NewDumper(eng, dump.WithLogger(logger), dump.WithDir(cfg.Dump.Dir)),
		))
	}
	instrumenter := instrument.NewInstrumenter(eng, shared.Region(), instrOpts...)

	var (
		reporters []interceptor.Reporter
		services  []service.Service
	)
	if ptr.Deref(cfg.Exporter.Stdout.Enabled, true) {
		stdoutOpts := []stdout.OptionFn{
			stdout.WithLogger(logger),
			stdout.WithOutput(os.Stdout),
		}
		if ptr.Deref(cfg.Exporter.Stdout.Summary, false) {
			stdoutOpts = append(stdoutOpts, stdout.WithSummary(aggregator))
		}
		exp := stdout.NewExporter(stdoutOpts...)
		reporters = append(reporters, exp)
		services = append(services, exp)
	}

	ic := interceptor.New(eng, dev, interceptor.State{
		Counter:      shared,
		Aggregator:   aggregator,
		Instrumenter: instrumenter,
		Policy:       policy,
	},
		interceptor.WithLogger(logger),
		interceptor.WithReporters(reporters...),
		interceptor.WithMangledNames(ptr.Deref(c.MangledNames, true)),
	)
	services = append(services, ic)

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		apiServer := server.NewAPIServer(
			server.WithLogger(logger),
			server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
		)
		collectors := prometheus.CreateCollectors(aggregator, instrumenter.Cache(),
			prometheus.WithLogger(logger),
			prometheus.WithGPUInventories(inventories),
		)
		promExporter := prometheus.NewExporter(apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		)
		services = append(services, apiServer, promExporter)
	}

	services = append(services,
		replay.NewRuntime(trace, eng, dev, ic, replay.WithLogger(logger)),
		service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM),
	)
	return services, nil
}
