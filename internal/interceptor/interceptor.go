// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/gpu-tools/instrcount/internal/activation"
	"github.com/gpu-tools/instrcount/internal/counter"
	"github.com/gpu-tools/instrcount/internal/engine"
	"github.com/gpu-tools/instrcount/internal/instrument"
	"github.com/gpu-tools/instrcount/internal/launch"
	"github.com/gpu-tools/instrcount/internal/service"
)

// Reporter receives the result of every completed launch and the final total
type Reporter interface {
	Report(r counter.Report)
	Total(total uint64)
}

// State is the mutable state shared by all launches of the process
type State struct {
	Counter      *counter.Shared
	Aggregator   *counter.Aggregator
	Instrumenter *instrument.Instrumenter
	Policy       *activation.Policy
}

// Interceptor coordinates instrumentation and counting around kernel launches.
//
// A launch holds the shared counter lease from its entry to its exit, so
// launches issued concurrently are counted one at a time in lease order.
// A kernel that itself launches a kernel from the host side between entry and
// exit deadlocks; this is not detected.
type Interceptor struct {
	logger    *slog.Logger
	engine    engine.Engine
	device    engine.Device
	state     State
	reporters []Reporter
	mangled   bool
	clock     clock.PassiveClock
	fatal     func(error)

	mu       sync.Mutex
	inflight map[uint64]*inflight

	terminated atomic.Bool
}

type inflight struct {
	lease   *counter.Lease
	ctx     engine.Context
	launch  launch.Launch
	active  bool
	started time.Time
}

var (
	_ launch.Handler      = (*Interceptor)(nil)
	_ service.Initializer = (*Interceptor)(nil)
	_ service.Shutdowner  = (*Interceptor)(nil)
)

type Opts struct {
	logger    *slog.Logger
	reporters []Reporter
	mangled   bool
	clock     clock.PassiveClock
	fatal     func(error)
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:  slog.Default(),
		mangled: true,
		clock:   clock.RealClock{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Interceptor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithReporters sets the reporters notified of every completed launch
func WithReporters(r ...Reporter) OptionFn {
	return func(o *Opts) {
		o.reporters = append(o.reporters, r...)
	}
}

// WithMangledNames selects mangled (true) or demangled kernel names in reports
func WithMangledNames(mangled bool) OptionFn {
	return func(o *Opts) {
		o.mangled = mangled
	}
}

// WithClock sets the clock used to time launches
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithFatalHandler replaces the handler of unrecoverable errors. The default
// handler logs the error and exits the process.
func WithFatalHandler(fn func(error)) OptionFn {
	return func(o *Opts) {
		o.fatal = fn
	}
}

// New returns an Interceptor operating on state
func New(eng engine.Engine, dev engine.Device, state State, applyOpts ...OptionFn) *Interceptor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	logger := opts.logger.With("service", "interceptor")
	fatal := opts.fatal
	if fatal == nil {
		fatal = func(err error) {
			logger.Error("unrecoverable error, aborting", "error", err)
			os.Exit(1)
		}
	}

	return &Interceptor{
		logger:    logger,
		engine:    eng,
		device:    dev,
		state:     state,
		reporters: opts.reporters,
		mangled:   opts.mangled,
		clock:     opts.clock,
		fatal:     fatal,
		inflight:  map[uint64]*inflight{},
	}
}

// Name implements service.Name
func (i *Interceptor) Name() string {
	return "interceptor"
}

// Init implements service.Initializer
func (i *Interceptor) Init() error {
	i.logger.Info("Interceptor ready",
		"activation", i.state.Policy.Mode(),
		"open", i.state.Policy.Open(),
		"mangledNames", i.mangled,
		"reporters", len(i.reporters))
	return nil
}

// Shutdown reports the running total once
func (i *Interceptor) Shutdown() error {
	if !i.terminated.CompareAndSwap(false, true) {
		return nil
	}

	i.mu.Lock()
	pending := len(i.inflight)
	i.mu.Unlock()
	if pending > 0 {
		i.logger.Warn("launches still in flight at termination", "count", pending)
	}

	total := i.state.Aggregator.RunningTotal()
	for _, r := range i.reporters {
		r.Total(total)
	}
	i.logger.Info("Total app instructions", "total", total,
		"launches", i.state.Aggregator.Ordinal(),
		"instrumentedFunctions", i.state.Instrumenter.Cache().Len())
	return nil
}

// OnLaunchEntry prepares a kernel launch: instrument on first sighting,
// decide activation and clear the counter. The counter lease taken here is
// released by the matching OnLaunchExit. A kernel launch that was skipped
// reports false and must not run.
func (i *Interceptor) OnLaunchEntry(_ context.Context, ev launch.Event) bool {
	if !ev.API().IsKernelLaunch() {
		return true
	}

	lease := i.state.Counter.Acquire()

	l, err := launch.Decode(ev.Params)
	if err != nil {
		lease.Release()
		i.logger.Warn("skipping undecodable launch", "api", ev.API(), "call", ev.CallID, "error", err)
		return false
	}

	res, err := i.state.Instrumenter.Instrument(ev.Ctx, l.Function)
	if err != nil {
		lease.Release()
		i.fatal(fmt.Errorf("failed to instrument kernel %s: %w", l.Function, err))
		return false
	}
	if len(res.Instrumented) > 0 {
		i.logger.Debug("instrumented new functions",
			"kernel", l.Function, "functions", len(res.Instrumented), "probes", res.Probes)
	}

	active := i.state.Policy.Evaluate(i.state.Aggregator.Ordinal())
	if err := i.engine.EnableInstrumented(ev.Ctx, l.Function, active); err != nil {
		lease.Release()
		i.fatal(fmt.Errorf("failed to select code of kernel %s: %w", l.Function, err))
		return false
	}

	lease.Reset()

	i.mu.Lock()
	i.inflight[ev.CallID] = &inflight{
		lease:   lease,
		ctx:     ev.Ctx,
		launch:  l,
		active:  active,
		started: i.clock.Now(),
	}
	i.mu.Unlock()
	return true
}

// OnLaunchExit completes a kernel launch: wait for the device, read the
// counter and report. Profiler start/stop calls drive a gated activation
// policy.
func (i *Interceptor) OnLaunchExit(ctx context.Context, ev launch.Event) {
	switch api := ev.API(); {
	case api == launch.APIProfilerStart:
		i.state.Policy.Start()
		return
	case api == launch.APIProfilerStop:
		i.state.Policy.Stop()
		return
	case !api.IsKernelLaunch():
		return
	}

	i.mu.Lock()
	st, ok := i.inflight[ev.CallID]
	delete(i.inflight, ev.CallID)
	i.mu.Unlock()

	if !ok {
		i.logger.Warn("ignoring exit without matching entry", "api", ev.API(), "call", ev.CallID)
		return
	}

	if err := i.device.Synchronize(ctx); err != nil {
		st.lease.Release()
		i.fatal(fmt.Errorf("device synchronization after kernel %s failed: %w", st.launch.Function, err))
		return
	}

	count := st.lease.Read()
	name := i.engine.FunctionName(st.ctx, st.launch.Function, i.mangled)
	r := i.state.Aggregator.Record(name, st.launch.DispatchSize(), count)
	r.Active = st.active
	r.Duration = i.clock.Since(st.started)

	i.logger.Debug("kernel completed",
		"ordinal", r.Ordinal,
		"kernel", r.Kernel,
		"api", st.launch.API,
		"grid", st.launch.Grid,
		"block", st.launch.Block,
		"active", r.Active,
		"instructions", r.Count,
		"duration", r.Duration)

	for _, rep := range i.reporters {
		rep.Report(r)
	}

	st.lease.Release()
}
