// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gpu-tools/instrcount/internal/device/gpu"
)

type mockNvmlLib struct {
	mock.Mock
}

func (m *mockNvmlLib) Init() nvml.Return {
	args := m.Called()
	return args.Get(0).(nvml.Return)
}

func (m *mockNvmlLib) Shutdown() nvml.Return {
	args := m.Called()
	return args.Get(0).(nvml.Return)
}

func (m *mockNvmlLib) DeviceGetCount() (int, nvml.Return) {
	args := m.Called()
	return args.Int(0), args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return) {
	args := m.Called(index)
	if h := args.Get(0); h != nil {
		return h.(nvmlDeviceHandle), args.Get(1).(nvml.Return)
	}
	return nil, args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) SystemGetDriverVersion() (string, nvml.Return) {
	args := m.Called()
	return args.String(0), args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) SystemGetCudaDriverVersion() (int, nvml.Return) {
	args := m.Called()
	return args.Int(0), args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) ErrorString(ret nvml.Return) string {
	args := m.Called(ret)
	return args.String(0)
}

type mockDeviceHandle struct {
	mock.Mock
}

func (m *mockDeviceHandle) GetUUID() (string, nvml.Return) {
	args := m.Called()
	return args.String(0), args.Get(1).(nvml.Return)
}

func (m *mockDeviceHandle) GetName() (string, nvml.Return) {
	args := m.Called()
	return args.String(0), args.Get(1).(nvml.Return)
}

func (m *mockDeviceHandle) GetCudaComputeCapability() (int, int, nvml.Return) {
	args := m.Called()
	return args.Int(0), args.Int(1), args.Get(2).(nvml.Return)
}

func (m *mockDeviceHandle) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	args := m.Called()
	return args.Get(0).(nvml.Memory), args.Get(1).(nvml.Return)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func healthyDevice(uuid, name string, major, minor int) *mockDeviceHandle {
	h := &mockDeviceHandle{}
	h.On("GetUUID").Return(uuid, nvml.SUCCESS)
	h.On("GetName").Return(name, nvml.SUCCESS)
	h.On("GetCudaComputeCapability").Return(major, minor, nvml.SUCCESS)
	h.On("GetMemoryInfo").Return(nvml.Memory{Total: 80 << 30}, nvml.SUCCESS)
	return h
}

func TestInventoryInit(t *testing.T) {
	lib := &mockNvmlLib{}
	lib.On("Init").Return(nvml.SUCCESS)
	lib.On("DeviceGetCount").Return(3, nvml.SUCCESS)
	lib.On("SystemGetDriverVersion").Return("550.54.15", nvml.SUCCESS)
	lib.On("SystemGetCudaDriverVersion").Return(12040, nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 0).Return(healthyDevice("GPU-aaa", "NVIDIA A100-SXM4-80GB", 8, 0), nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 1).Return(nil, nvml.ERROR_GPU_IS_LOST)
	lib.On("ErrorString", nvml.ERROR_GPU_IS_LOST).Return("GPU is lost")

	partial := &mockDeviceHandle{}
	partial.On("GetUUID").Return("", nvml.ERROR_NOT_SUPPORTED)
	partial.On("GetName").Return("", nvml.ERROR_NOT_SUPPORTED)
	partial.On("GetCudaComputeCapability").Return(0, 0, nvml.ERROR_NOT_SUPPORTED)
	partial.On("GetMemoryInfo").Return(nvml.Memory{}, nvml.ERROR_NOT_SUPPORTED)
	lib.On("DeviceGetHandleByIndex", 2).Return(partial, nvml.SUCCESS)

	inv := newInventoryWithLib(discard(), lib)
	require.NoError(t, inv.Init())
	require.NoError(t, inv.Init(), "second Init is a no-op")

	devices := inv.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, gpu.Device{
		Index: 0, UUID: "GPU-aaa", Name: "NVIDIA A100-SXM4-80GB", Vendor: gpu.VendorNVIDIA,
		ComputeMajor: 8, ComputeMinor: 0, MemoryBytes: 80 << 30,
	}, devices[0])
	assert.Equal(t, "sm_80", devices[0].Arch())

	assert.Equal(t, 2, devices[1].Index)
	assert.Equal(t, "gpu-2", devices[1].UUID)
	assert.Equal(t, "Unknown NVIDIA GPU", devices[1].Name)
	assert.Equal(t, "unknown", devices[1].Arch())

	assert.Equal(t, "550.54.15", inv.DriverVersion())
	assert.Equal(t, "12.4", inv.CUDAVersion())
	assert.Equal(t, gpu.VendorNVIDIA, inv.Vendor())
	lib.AssertNumberOfCalls(t, "Init", 1)

	lib.On("Shutdown").Return(nvml.SUCCESS)
	require.NoError(t, inv.Shutdown())
	assert.Empty(t, inv.Devices())
	require.NoError(t, inv.Shutdown(), "second Shutdown is a no-op")
	lib.AssertNumberOfCalls(t, "Shutdown", 1)
}

func TestInventoryInitFailures(t *testing.T) {
	t.Run("library missing", func(t *testing.T) {
		lib := &mockNvmlLib{}
		lib.On("Init").Return(nvml.ERROR_LIBRARY_NOT_FOUND)
		lib.On("ErrorString", nvml.ERROR_LIBRARY_NOT_FOUND).Return("library not found")

		err := newInventoryWithLib(discard(), lib).Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NVML init failed: library not found")
	})

	t.Run("device count", func(t *testing.T) {
		lib := &mockNvmlLib{}
		lib.On("Init").Return(nvml.SUCCESS)
		lib.On("DeviceGetCount").Return(0, nvml.ERROR_UNKNOWN)
		lib.On("ErrorString", nvml.ERROR_UNKNOWN).Return("unknown error")
		lib.On("Shutdown").Return(nvml.SUCCESS)

		err := newInventoryWithLib(discard(), lib).Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get device count")
		lib.AssertCalled(t, "Shutdown")
	})

	t.Run("shutdown", func(t *testing.T) {
		lib := &mockNvmlLib{}
		lib.On("Init").Return(nvml.SUCCESS)
		lib.On("DeviceGetCount").Return(0, nvml.SUCCESS)
		lib.On("SystemGetDriverVersion").Return("", nvml.ERROR_NOT_SUPPORTED)
		lib.On("SystemGetCudaDriverVersion").Return(0, nvml.ERROR_NOT_SUPPORTED)
		lib.On("Shutdown").Return(nvml.ERROR_UNINITIALIZED)
		lib.On("ErrorString", nvml.ERROR_UNINITIALIZED).Return("uninitialized")

		inv := newInventoryWithLib(discard(), lib)
		require.NoError(t, inv.Init())
		assert.Empty(t, inv.DriverVersion())
		assert.Empty(t, inv.CUDAVersion())

		err := inv.Shutdown()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NVML shutdown failed")
	})
}

func TestCudaVersion(t *testing.T) {
	assert.Equal(t, "12.4", cudaVersion(12040))
	assert.Equal(t, "11.8", cudaVersion(11080))
	assert.Equal(t, "10.0", cudaVersion(10000))
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, gpu.RegisteredVendors(), gpu.VendorNVIDIA)
}
