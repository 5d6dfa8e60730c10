// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/gpu-tools/instrcount/internal/device/gpu"
)

// gpuInfoCollector exports one info metric per discovered GPU
type gpuInfoCollector struct {
	inventories []gpu.Inventory
	desc        *prom.Desc
}

// NewGPUInfoCollector creates a collector mapping GPU index to UUID, name and
// SASS architecture
func NewGPUInfoCollector(inventories []gpu.Inventory) prom.Collector {
	return &gpuInfoCollector{
		inventories: inventories,
		desc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "gpu_info"),
			"GPU device information for mapping index to UUID/name",
			[]string{"gpu", "gpu_uuid", "gpu_name", "vendor", "arch", "driver"},
			nil,
		),
	}
}

func (c *gpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *gpuInfoCollector) Collect(ch chan<- prom.Metric) {
	for _, inv := range c.inventories {
		driver := inv.DriverVersion()
		for _, d := range inv.Devices() {
			ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1,
				strconv.Itoa(d.Index),
				d.UUID,
				d.Name,
				string(d.Vendor),
				d.Arch(),
				driver,
			)
		}
	}
}
