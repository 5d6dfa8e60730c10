// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/gpu-tools/instrcount/internal/counter"
)

// SnapshotProvider returns the latest counting state
type SnapshotProvider interface {
	Snapshot() *counter.Snapshot
}

// FunctionCounter reports how many functions have been instrumented
type FunctionCounter interface {
	Len() int
}

// InstructionCollector exports instruction counts from the aggregator
// snapshot. Collect never blocks the launch path: snapshots are immutable.
type InstructionCollector struct {
	logger    *slog.Logger
	snapshots SnapshotProvider
	functions FunctionCounter

	kernelInstructions *prom.Desc
	kernelLaunches     *prom.Desc
	kernelThreadBlocks *prom.Desc
	appInstructions    *prom.Desc
	appLaunches        *prom.Desc
	instrumented       *prom.Desc
}

var _ prom.Collector = (*InstructionCollector)(nil)

func NewInstructionCollector(s SnapshotProvider, fc FunctionCounter, logger *slog.Logger) *InstructionCollector {
	if logger == nil {
		logger = slog.Default()
	}
	kernel := []string{"kernel"}
	return &InstructionCollector{
		logger:    logger.With("collector", "instructions"),
		snapshots: s,
		functions: fc,

		kernelInstructions: prom.NewDesc(
			prom.BuildFQName(namespace, "kernel", "instructions_total"),
			"Instructions executed by all launches of a kernel",
			kernel, nil),
		kernelLaunches: prom.NewDesc(
			prom.BuildFQName(namespace, "kernel", "launches_total"),
			"Completed launches of a kernel",
			kernel, nil),
		kernelThreadBlocks: prom.NewDesc(
			prom.BuildFQName(namespace, "kernel", "thread_blocks_total"),
			"Thread blocks dispatched by all launches of a kernel",
			kernel, nil),
		appInstructions: prom.NewDesc(
			prom.BuildFQName(namespace, "app", "instructions_total"),
			"Instructions executed by all kernel launches of the application",
			nil, nil),
		appLaunches: prom.NewDesc(
			prom.BuildFQName(namespace, "app", "launches_total"),
			"Completed kernel launches of the application",
			nil, nil),
		instrumented: prom.NewDesc(
			prom.BuildFQName(namespace, "", "instrumented_functions"),
			"Functions carrying counting probes",
			nil, nil),
	}
}

func (c *InstructionCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.kernelInstructions
	ch <- c.kernelLaunches
	ch <- c.kernelThreadBlocks
	ch <- c.appInstructions
	ch <- c.appLaunches
	ch <- c.instrumented
}

func (c *InstructionCollector) Collect(ch chan<- prom.Metric) {
	s := c.snapshots.Snapshot()
	if s == nil {
		c.logger.Debug("no snapshot available")
		return
	}

	// label values must be valid UTF-8; names that collapse together are summed
	kernels := make(map[string]counter.KernelStats, len(s.Kernels))
	for name, stats := range s.Kernels {
		kernel := strings.ToValidUTF8(name, "\uFFFD")
		ks := kernels[kernel]
		ks.Launches += stats.Launches
		ks.Instructions += stats.Instructions
		ks.ThreadBlocks += stats.ThreadBlocks
		kernels[kernel] = ks
	}

	for kernel, stats := range kernels {
		c.send(ch, c.kernelInstructions, prom.CounterValue, float64(stats.Instructions), kernel)
		c.send(ch, c.kernelLaunches, prom.CounterValue, float64(stats.Launches), kernel)
		c.send(ch, c.kernelThreadBlocks, prom.CounterValue, float64(stats.ThreadBlocks), kernel)
	}
	ch <- prom.MustNewConstMetric(c.appInstructions, prom.CounterValue, float64(s.RunningTotal))
	ch <- prom.MustNewConstMetric(c.appLaunches, prom.CounterValue, float64(s.Launches))

	if c.functions != nil {
		ch <- prom.MustNewConstMetric(c.instrumented, prom.GaugeValue, float64(c.functions.Len()))
	}
}

// send drops metrics that cannot be built instead of failing the scrape
func (c *InstructionCollector) send(ch chan<- prom.Metric, desc *prom.Desc, vt prom.ValueType, v float64, labels ...string) {
	m, err := prom.NewConstMetric(desc, vt, v, labels...)
	if err != nil {
		c.logger.Warn("dropping metric", "desc", desc.String(), "labels", labels, "error", err)
		return
	}
	ch <- m
}
