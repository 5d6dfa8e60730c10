// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"fmt"
	"log/slog"

	"github.com/gpu-tools/instrcount/internal/engine"
)

// Dumper writes a diagnostic listing of a newly instrumented function.
// Failures are handled by the dumper itself.
type Dumper interface {
	Dump(ctx engine.Context, fn engine.Function, instrs []engine.Instruction)
}

type nopDumper struct{}

func (nopDumper) Dump(engine.Context, engine.Function, []engine.Instruction) {}

// Result describes what a call to Instrument did
type Result struct {
	// Kernel is the launched function
	Kernel engine.Function
	// Functions is the related functions of the kernel followed by the kernel
	Functions []engine.Function
	// Instrumented lists the functions seen for the first time by this call
	Instrumented []engine.Function
	// Probes is the number of probes injected by this call
	Probes int
}

// Instrumenter injects counting probes into a kernel and everything it may call
type Instrumenter struct {
	logger   *slog.Logger
	engine   engine.Engine
	cache    *Cache
	selector Selector
	dumper   Dumper
	probe    engine.Probe
	mangled  bool
}

type Opts struct {
	logger         *slog.Logger
	cache          *Cache
	selector       Selector
	dumper         Dumper
	warpLevel      bool
	excludePredOff bool
	mangled        bool
}

// DefaultOpts returns options matching the tool defaults: warp level
// counting of every instruction including predicated-off ones.
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		selector:  SelectAll,
		dumper:    nopDumper{},
		warpLevel: true,
		mangled:   true,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Instrumenter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithCache shares an existing cache instead of creating a new one
func WithCache(c *Cache) OptionFn {
	return func(o *Opts) {
		o.cache = c
	}
}

// WithSelector sets the instruction selection policy
func WithSelector(s Selector) OptionFn {
	return func(o *Opts) {
		o.selector = s
	}
}

// WithDumper sets the diagnostic dumper invoked for newly instrumented functions
func WithDumper(d Dumper) OptionFn {
	return func(o *Opts) {
		o.dumper = d
	}
}

// WithWarpLevel selects warp level (true) or thread level (false) counting
func WithWarpLevel(warpLevel bool) OptionFn {
	return func(o *Opts) {
		o.warpLevel = warpLevel
	}
}

// WithExcludePredOff makes probes ignore threads whose guard predicate is false
func WithExcludePredOff(exclude bool) OptionFn {
	return func(o *Opts) {
		o.excludePredOff = exclude
	}
}

// WithMangledNames selects mangled function names for log output
func WithMangledNames(mangled bool) OptionFn {
	return func(o *Opts) {
		o.mangled = mangled
	}
}

// NewInstrumenter returns an Instrumenter whose probes increment counter
func NewInstrumenter(eng engine.Engine, counter *uint64, applyOpts ...OptionFn) *Instrumenter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	if opts.cache == nil {
		opts.cache = NewCache()
	}

	return &Instrumenter{
		logger:   opts.logger.With("component", "instrumenter"),
		engine:   eng,
		cache:    opts.cache,
		selector: opts.selector,
		dumper:   opts.dumper,
		mangled:  opts.mangled,
		probe: engine.Probe{
			Counter:        counter,
			WarpLevel:      opts.warpLevel,
			ExcludePredOff: opts.excludePredOff,
		},
	}
}

// Cache returns the set of instrumented functions
func (i *Instrumenter) Cache() *Cache {
	return i.cache
}

// Instrument makes sure kernel and every function related to it carry
// counting probes. Each function is instrumented at most once over the
// lifetime of the Instrumenter. Errors from the engine mean it ran out of
// resources and the caller cannot continue.
func (i *Instrumenter) Instrument(ctx engine.Context, kernel engine.Function) (Result, error) {
	related, err := i.engine.RelatedFunctions(ctx, kernel)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get related functions of %s: %w", kernel, err)
	}

	fns := make([]engine.Function, 0, len(related)+1)
	fns = append(fns, related...)
	fns = append(fns, kernel)

	res := Result{Kernel: kernel, Functions: fns}

	for _, fn := range res.Functions {
		if !i.cache.Ensure(fn) {
			continue
		}

		probes, err := i.instrumentFunction(ctx, fn)
		if err != nil {
			return res, err
		}
		res.Instrumented = append(res.Instrumented, fn)
		res.Probes += probes
	}
	return res, nil
}

func (i *Instrumenter) instrumentFunction(ctx engine.Context, fn engine.Function) (int, error) {
	instrs, err := i.engine.Instructions(ctx, fn)
	if err != nil {
		return 0, fmt.Errorf("failed to get instructions of %s: %w", fn, err)
	}

	i.logger.Debug("inspecting function",
		"name", i.engine.FunctionName(ctx, fn, i.mangled),
		"addr", fmt.Sprintf("0x%x", i.engine.FunctionAddr(ctx, fn)),
		"instructions", len(instrs))

	probes := 0
	for _, instr := range instrs {
		if !i.selector.Select(instr) {
			continue
		}
		if err := i.engine.InsertProbe(ctx, fn, instr, i.probe); err != nil {
			return probes, fmt.Errorf("failed to instrument %s at offset 0x%x: %w", fn, instr.Offset, err)
		}
		probes++

		i.logger.Debug("instrumented instruction",
			"index", instr.Index,
			"offset", fmt.Sprintf("0x%08x", instr.Offset),
			"sass", instr.SASS)
	}

	i.dumper.Dump(ctx, fn, instrs)
	return probes, nil
}
