// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gpu-tools/instrcount/internal/engine"
	"github.com/gpu-tools/instrcount/internal/launch"
	"github.com/gpu-tools/instrcount/internal/service"
)

// Runtime replays the driver calls of a trace against a launch.Handler.
// Calls of one host thread are issued in order; different threads run
// concurrently.
type Runtime struct {
	logger  *slog.Logger
	trace   *Trace
	engine  *Engine
	device  *Device
	handler launch.Handler
	ctx     engine.Context

	calls    atomic.Uint64
	launched atomic.Uint64
}

var (
	_ service.Initializer = (*Runtime)(nil)
	_ service.Runner      = (*Runtime)(nil)
)

type Opts struct {
	logger *slog.Logger
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Runtime
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// NewRuntime returns a runtime replaying t on eng and dev
func NewRuntime(t *Trace, eng *Engine, dev *Device, h launch.Handler, applyOpts ...OptionFn) *Runtime {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	gpuCtx := engine.Context(t.Context)
	if gpuCtx == 0 {
		gpuCtx = 1
	}

	return &Runtime{
		logger:  opts.logger.With("service", "replay"),
		trace:   t,
		engine:  eng,
		device:  dev,
		handler: h,
		ctx:     gpuCtx,
	}
}

// Name implements service.Name
func (r *Runtime) Name() string {
	return "replay"
}

// Init implements service.Initializer
func (r *Runtime) Init() error {
	r.logger.Info("Loaded trace",
		"functions", len(r.trace.Functions),
		"calls", len(r.trace.Launches),
		"threads", len(r.threads()))
	return nil
}

// Launched returns the number of kernel launches replayed so far
func (r *Runtime) Launched() uint64 {
	return r.launched.Load()
}

// Run replays every call and returns when all threads are done or ctx is
// cancelled
func (r *Runtime) Run(ctx context.Context) error {
	threads := r.threads()
	ids := make([]int, 0, len(threads))
	for id := range threads {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(calls []Launch) {
			defer wg.Done()
			r.replayThread(ctx, id, calls)
		}(threads[id])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		r.logger.Info("replay interrupted", "launched", r.Launched())
		return nil
	}
	r.logger.Info("replay complete", "launched", r.Launched())
	return nil
}

func (r *Runtime) threads() map[int][]Launch {
	threads := map[int][]Launch{}
	for _, l := range r.trace.Launches {
		threads[l.Thread] = append(threads[l.Thread], l)
	}
	return threads
}

func (r *Runtime) replayThread(ctx context.Context, thread int, calls []Launch) {
	for _, l := range calls {
		if ctx.Err() != nil {
			return
		}

		params := l.Params()
		ev := launch.Event{
			CallID: r.calls.Add(1),
			Phase:  launch.PhaseEntry,
			Ctx:    r.ctx,
			Params: params,
		}
		forward := r.handler.OnLaunchEntry(ctx, ev)

		if forward && params.API().IsKernelLaunch() {
			r.device.Submit(Execution{
				Ctx:    r.ctx,
				Kernel: engine.Function(l.Function),
				Grid:   r.grid(params, l),
				Block:  l.Block.Dim3(),
				Count:  l.Count,
				Fault:  l.Fault,
			})
			r.launched.Add(1)
		}

		ev.Phase = launch.PhaseExit
		r.handler.OnLaunchExit(ctx, ev)

		r.logger.Debug("replayed call", "thread", thread, "api", params.API(), "call", ev.CallID, "forwarded", forward)
	}
}

// grid is the geometry the driver runs for params; cuLaunch always runs a
// single block regardless of the trace
func (r *Runtime) grid(params launch.Params, l Launch) launch.Dim3 {
	if decoded, err := launch.Decode(params); err == nil {
		return decoded.Grid
	}
	return l.Grid.Dim3()
}
