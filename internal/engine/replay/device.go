// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gpu-tools/instrcount/internal/engine"
	"github.com/gpu-tools/instrcount/internal/launch"
)

const warpSize = 32

// Execution is a kernel launch handed to the device
type Execution struct {
	Ctx    engine.Context
	Kernel engine.Function
	Grid   launch.Dim3
	Block  launch.Dim3
	// Count replaces the simulated count when not nil
	Count *uint64
	Fault bool
}

// Device runs kernels asynchronously and applies the probes of the code
// selected at launch time.
type Device struct {
	logger *slog.Logger
	engine *Engine

	wg    sync.WaitGroup
	mu    sync.Mutex
	fault error
}

var _ engine.Device = (*Device)(nil)

// NewDevice returns a device executing code owned by eng
func NewDevice(eng *Engine, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		logger: logger.With("component", "replay-device"),
		engine: eng,
	}
}

// Submit starts ex and returns without waiting for it
func (d *Device) Submit(ex Execution) {
	code := d.engine.codeFor(ex.Ctx, ex.Kernel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if ex.Fault {
			d.mu.Lock()
			if d.fault == nil {
				d.fault = fmt.Errorf("%w: kernel %s", engine.ErrDeviceFault, ex.Kernel)
			}
			d.mu.Unlock()
			return
		}
		execute(code, ex)
	}()
}

// Synchronize waits for all submitted kernels. Faults are sticky: once a
// kernel faulted every later call fails.
func (d *Device) Synchronize(_ context.Context) error {
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

func execute(code []activeCode, ex Execution) {
	if ex.Count != nil {
		for _, ac := range code {
			if len(ac.probes) > 0 {
				atomic.AddUint64(ac.probes[0].probe.Counter, *ex.Count)
				return
			}
		}
		return
	}

	threads := ex.Block.Size()
	if threads == 0 {
		threads = warpSize
	}
	fullWarps, tail := threads/warpSize, threads%warpSize
	blocks := ex.Grid.Size()

	for _, ac := range code {
		for _, site := range ac.probes {
			in := ac.function.Instructions[site.index]
			perBlock := fullWarps * warpIncrement(in, site.probe, warpSize)
			if tail > 0 {
				perBlock += warpIncrement(in, site.probe, tail)
			}
			exec := uint64(in.Exec)
			if exec == 0 {
				exec = 1
			}
			if n := blocks * perBlock * exec; n > 0 {
				atomic.AddUint64(site.probe.Counter, n)
			}
		}
	}
}

// warpIncrement is what one probe adds for a single execution by a warp of
// active threads
func warpIncrement(in Instruction, p engine.Probe, active uint64) uint64 {
	n := active
	if p.ExcludePredOff && in.predicated() {
		off := min(uint64(in.PredOffThreads), active)
		n = active - off
	}
	if p.WarpLevel {
		if n > 0 {
			return 1
		}
		return 0
	}
	return n
}
