// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/gpu-tools/instrcount/internal/device/gpu"
)

func init() {
	gpu.Register(gpu.VendorNVIDIA, func(logger *slog.Logger) (gpu.Inventory, error) {
		return NewInventory(logger), nil
	})
}

// Inventory lists NVIDIA GPUs through NVML
type Inventory struct {
	logger *slog.Logger
	lib    nvmlLib

	mu          sync.RWMutex
	initialized bool
	devices     []gpu.Device
	driver      string
	cuda        string
}

var _ gpu.Inventory = (*Inventory)(nil)

// NewInventory returns an inventory backed by the system NVML library
func NewInventory(logger *slog.Logger) *Inventory {
	return newInventoryWithLib(logger, newRealNvmlLib())
}

func newInventoryWithLib(logger *slog.Logger, lib nvmlLib) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		logger: logger.With("component", "nvml"),
		lib:    lib,
	}
}

func (inv *Inventory) Name() string {
	return "nvidia-inventory"
}

func (inv *Inventory) Vendor() gpu.Vendor {
	return gpu.VendorNVIDIA
}

// Init loads NVML and enumerates devices. Devices whose handle can't be
// obtained are skipped; missing attributes get placeholders.
func (inv *Inventory) Init() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.initialized {
		return nil
	}

	if ret := inv.lib.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %s", inv.lib.ErrorString(ret))
	}

	count, ret := inv.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		_ = inv.lib.Shutdown()
		return fmt.Errorf("failed to get device count: %s", inv.lib.ErrorString(ret))
	}

	if v, ret := inv.lib.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		inv.driver = v
	}
	if v, ret := inv.lib.SystemGetCudaDriverVersion(); ret == nvml.SUCCESS {
		inv.cuda = cudaVersion(v)
	}

	inv.devices = make([]gpu.Device, 0, count)
	for i := range count {
		handle, ret := inv.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			inv.logger.Warn("failed to get device handle", "index", i, "error", inv.lib.ErrorString(ret))
			continue
		}
		inv.devices = append(inv.devices, inv.describe(i, handle))
	}

	inv.initialized = true
	inv.logger.Debug("NVML initialized", "devices", len(inv.devices), "driver", inv.driver, "cuda", inv.cuda)
	return nil
}

func (inv *Inventory) describe(index int, handle nvmlDeviceHandle) gpu.Device {
	d := gpu.Device{Index: index, Vendor: gpu.VendorNVIDIA}

	var ret nvml.Return
	if d.UUID, ret = handle.GetUUID(); ret != nvml.SUCCESS {
		d.UUID = fmt.Sprintf("gpu-%d", index)
	}
	if d.Name, ret = handle.GetName(); ret != nvml.SUCCESS {
		d.Name = "Unknown NVIDIA GPU"
	}
	if major, minor, ret := handle.GetCudaComputeCapability(); ret == nvml.SUCCESS {
		d.ComputeMajor, d.ComputeMinor = major, minor
	}
	if mem, ret := handle.GetMemoryInfo(); ret == nvml.SUCCESS {
		d.MemoryBytes = mem.Total
	}
	return d
}

// Shutdown releases NVML
func (inv *Inventory) Shutdown() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if !inv.initialized {
		return nil
	}
	if ret := inv.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %s", inv.lib.ErrorString(ret))
	}
	inv.devices = nil
	inv.initialized = false
	return nil
}

func (inv *Inventory) Devices() []gpu.Device {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return append([]gpu.Device(nil), inv.devices...)
}

func (inv *Inventory) DriverVersion() string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.driver
}

// CUDAVersion is the highest CUDA version the driver supports, e.g. "12.4"
func (inv *Inventory) CUDAVersion() string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.cuda
}

// cudaVersion formats NVML's encoded version (1000*major + 10*minor)
func cudaVersion(v int) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}
