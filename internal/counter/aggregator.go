// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"maps"
	"sync/atomic"
	"time"
)

// Report is emitted once per completed kernel launch
type Report struct {
	Ordinal      uint64
	Kernel       string
	DispatchSize uint64
	Count        uint64
	RunningTotal uint64
	Active       bool
	Duration     time.Duration
}

// KernelStats accumulates reports of all launches of one kernel name
type KernelStats struct {
	Launches     uint64
	Instructions uint64
	ThreadBlocks uint64
}

// Snapshot is an immutable view of the aggregator taken after a launch completed
type Snapshot struct {
	Launches     uint64
	RunningTotal uint64
	Kernels      map[string]KernelStats
}

// Aggregator holds the kernel ordinal and the running instruction total.
//
// Record must only be called by the lease holder; Snapshot and RunningTotal
// may be called from any goroutine.
type Aggregator struct {
	ordinal uint64
	total   uint64

	snapshot atomic.Pointer[Snapshot]
}

// NewAggregator returns an aggregator with ordinal and total at zero
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.snapshot.Store(&Snapshot{Kernels: map[string]KernelStats{}})
	return a
}

// Ordinal returns the ordinal the next completed launch will receive
func (a *Aggregator) Ordinal() uint64 {
	return a.Snapshot().Launches
}

// RunningTotal returns the sum of all recorded counts
func (a *Aggregator) RunningTotal() uint64 {
	return a.Snapshot().RunningTotal
}

// Snapshot returns the state after the most recent Record
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snapshot.Load()
}

// Record adds count to the running total, assigns the current ordinal to the
// launch and advances the ordinal.
func (a *Aggregator) Record(kernel string, dispatchSize, count uint64) Report {
	a.total += count
	r := Report{
		Ordinal:      a.ordinal,
		Kernel:       kernel,
		DispatchSize: dispatchSize,
		Count:        count,
		RunningTotal: a.total,
	}
	a.ordinal++

	prev := a.snapshot.Load()
	next := &Snapshot{
		Launches:     a.ordinal,
		RunningTotal: a.total,
		Kernels:      maps.Clone(prev.Kernels),
	}
	ks := next.Kernels[kernel]
	ks.Launches++
	ks.Instructions += count
	ks.ThreadBlocks += dispatchSize
	next.Kernels[kernel] = ks
	a.snapshot.Store(next)

	return r
}
