// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Counting selects what is instrumented and when the counter is live
	Counting struct {
		// instructions with InstrBegin <= index < InstrEnd get a probe
		InstrBegin uint32 `yaml:"instrBegin"`
		InstrEnd   uint32 `yaml:"instrEnd"`

		// launches with StartGridNum <= ordinal < EndGridNum are counted when
		// ActiveFromStart is set
		StartGridNum uint32 `yaml:"startGridNum"`
		EndGridNum   uint32 `yaml:"endGridNum"`

		CountWarpLevel  *bool `yaml:"countWarpLevel"`
		ExcludePredOff  *bool `yaml:"excludePredOff"`
		ActiveFromStart *bool `yaml:"activeFromStart"`
		MangledNames    *bool `yaml:"mangledNames"`

		// Verbose > 0 logs every inspected function and instruction
		Verbose int `yaml:"verbose"`
	}

	// Dump writes the SASS of every instrumented function to Dir
	Dump struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	}

	Trace struct {
		File string `yaml:"file"`
	}

	GPU struct {
		Discover *bool `yaml:"discover"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
	}

	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
		Summary *bool `yaml:"summary"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Counting Counting `yaml:"counting"`
		Dump     Dump     `yaml:"dump"`
		Trace    Trace    `yaml:"trace"`
		GPU      GPU      `yaml:"gpu"`
		Exporter Exporter `yaml:"exporter"`
		Web      Web      `yaml:"web"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	InstrBeginFlag      = "counting.instr-begin"
	InstrEndFlag        = "counting.instr-end"
	StartGridNumFlag    = "counting.start-grid"
	EndGridNumFlag      = "counting.end-grid"
	CountWarpLevelFlag  = "counting.warp-level"
	ExcludePredOffFlag  = "counting.exclude-pred-off"
	ActiveFromStartFlag = "counting.active-from-start"
	MangledNamesFlag    = "counting.mangled-names"
	VerboseFlag         = "counting.verbose"

	DumpEnabledFlag = "dump.sass"
	DumpDirFlag     = "dump.dir"

	TraceFileFlag = "trace.file"

	GPUDiscoverFlag = "gpu.discover"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"
	ExporterStdoutSummaryFlag = "exporter.stdout.summary"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Counting: Counting{
			InstrBegin:      0,
			InstrEnd:        math.MaxUint32,
			StartGridNum:    0,
			EndGridNum:      math.MaxUint32,
			CountWarpLevel:  ptr.To(true),
			ExcludePredOff:  ptr.To(false),
			ActiveFromStart: ptr.To(true),
			MangledNames:    ptr.To(true),
			Verbose:         0,
		},
		Dump: Dump{
			Enabled: ptr.To(true),
			Dir:     ".",
		},
		GPU: GPU{
			Discover: ptr.To(true),
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(true),
				Summary: ptr.To(false),
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(false),
				DebugCollectors: []string{"go"},
			},
		},
		Web: Web{
			ListenAddresses: []string{":28283"},
		},
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		// ignored on purpose
		_ = file.Close()
	}()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file and environment settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// counting
	instrBegin := app.Flag(InstrBeginFlag, "Index of the first instruction instrumented in each function").Default("0").Uint32()
	instrEnd := app.Flag(InstrEndFlag, "Index past the last instruction instrumented in each function").
		Default(strconv.FormatUint(math.MaxUint32, 10)).Uint32()
	startGrid := app.Flag(StartGridNumFlag, "Ordinal of the first kernel launch counted").Default("0").Uint32()
	endGrid := app.Flag(EndGridNumFlag, "Ordinal past the last kernel launch counted").
		Default(strconv.FormatUint(math.MaxUint32, 10)).Uint32()
	warpLevel := app.Flag(CountWarpLevelFlag, "Count warp-level instructions instead of thread-level").Default("true").Bool()
	excludePredOff := app.Flag(ExcludePredOffFlag, "Exclude threads whose guard predicate is false").Default("false").Bool()
	activeFromStart := app.Flag(ActiveFromStartFlag,
		"Count from the first launch; when false counting is driven by cuProfilerStart/cuProfilerStop").Default("true").Bool()
	mangledNames := app.Flag(MangledNamesFlag, "Report mangled kernel names").Default("true").Bool()
	verbose := app.Flag(VerboseFlag, "Verbosity of the instrumentation pass; 0 is quiet").Default("0").Int()

	// dump
	dumpEnabled := app.Flag(DumpEnabledFlag, "Write the SASS of every newly instrumented function to a file; --no-dump.sass disables").Default("true").Bool()
	dumpDir := app.Flag(DumpDirFlag, "Directory receiving SASS dumps").Default(".").String()

	traceFile := app.Flag(TraceFileFlag, "Launch trace to replay").Default("").String()
	gpuDiscover := app.Flag(GPUDiscoverFlag, "Log the GPUs visible through NVML at startup").Default("true").Bool()

	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(":28283").Strings()

	// exporters
	stdoutEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("true").Bool()
	stdoutSummary := app.Flag(ExporterStdoutSummaryFlag, "Print a per-kernel summary table at exit").Default("false").Bool()
	prometheusEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("false").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[InstrBeginFlag] {
			cfg.Counting.InstrBegin = *instrBegin
		}
		if flagsSet[InstrEndFlag] {
			cfg.Counting.InstrEnd = *instrEnd
		}
		if flagsSet[StartGridNumFlag] {
			cfg.Counting.StartGridNum = *startGrid
		}
		if flagsSet[EndGridNumFlag] {
			cfg.Counting.EndGridNum = *endGrid
		}
		if flagsSet[CountWarpLevelFlag] {
			cfg.Counting.CountWarpLevel = warpLevel
		}
		if flagsSet[ExcludePredOffFlag] {
			cfg.Counting.ExcludePredOff = excludePredOff
		}
		if flagsSet[ActiveFromStartFlag] {
			cfg.Counting.ActiveFromStart = activeFromStart
		}
		if flagsSet[MangledNamesFlag] {
			cfg.Counting.MangledNames = mangledNames
		}
		if flagsSet[VerboseFlag] {
			cfg.Counting.Verbose = *verbose
		}

		if flagsSet[DumpEnabledFlag] {
			cfg.Dump.Enabled = dumpEnabled
		}
		if flagsSet[DumpDirFlag] {
			cfg.Dump.Dir = *dumpDir
		}

		if flagsSet[TraceFileFlag] {
			cfg.Trace.File = *traceFile
		}
		if flagsSet[GPUDiscoverFlag] {
			cfg.GPU.Discover = gpuDiscover
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}
		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutEnabled
		}
		if flagsSet[ExporterStdoutSummaryFlag] {
			cfg.Exporter.Stdout.Summary = stdoutSummary
		}
		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Dump.Dir = strings.TrimSpace(c.Dump.Dir)
	c.Trace.File = strings.TrimSpace(c.Trace.File)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}
	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // counting
		if c.Counting.Verbose < 0 {
			errs = append(errs, fmt.Sprintf("invalid verbosity: %d can't be negative", c.Counting.Verbose))
		}
	}
	{ // dump
		if ptr.Deref(c.Dump.Enabled, true) && c.Dump.Dir == "" {
			errs = append(errs, "dump directory cannot be empty when dumps are enabled")
		}
	}
	{ // trace
		if c.Trace.File != "" {
			if err := canReadFile(c.Trace.File); err != nil {
				errs = append(errs, fmt.Sprintf("unreadable trace file. path: %q: %s", c.Trace.File, err.Error()))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
	}
	if ptr.Deref(c.Exporter.Prometheus.Enabled, false) { // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	buf := make([]byte, 8)
	_, err = f.Read(buf)
	return err
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: yaml marshal of this struct is not expected to fail
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{InstrBeginFlag, fmt.Sprintf("%d", c.Counting.InstrBegin)},
		{InstrEndFlag, fmt.Sprintf("%d", c.Counting.InstrEnd)},
		{StartGridNumFlag, fmt.Sprintf("%d", c.Counting.StartGridNum)},
		{EndGridNumFlag, fmt.Sprintf("%d", c.Counting.EndGridNum)},
		{CountWarpLevelFlag, fmt.Sprintf("%v", ptr.Deref(c.Counting.CountWarpLevel, true))},
		{ExcludePredOffFlag, fmt.Sprintf("%v", ptr.Deref(c.Counting.ExcludePredOff, false))},
		{ActiveFromStartFlag, fmt.Sprintf("%v", ptr.Deref(c.Counting.ActiveFromStart, true))},
		{MangledNamesFlag, fmt.Sprintf("%v", ptr.Deref(c.Counting.MangledNames, true))},
		{VerboseFlag, fmt.Sprintf("%d", c.Counting.Verbose)},
		{DumpEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Dump.Enabled, true))},
		{DumpDirFlag, c.Dump.Dir},
		{TraceFileFlag, c.Trace.File},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, true))},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
	}

	sb := strings.Builder{}
	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}
