// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import "fmt"

// Vendor identifies a GPU vendor
type Vendor string

const (
	VendorNVIDIA  Vendor = "nvidia"
	VendorUnknown Vendor = "unknown"
)

// Device describes one GPU visible to the process
type Device struct {
	Index  int
	UUID   string
	Name   string
	Vendor Vendor

	// compute capability; both zero when unknown
	ComputeMajor int
	ComputeMinor int

	MemoryBytes uint64
}

// Arch returns the SASS architecture name of the device, e.g. "sm_86"
func (d Device) Arch() string {
	if d.ComputeMajor == 0 && d.ComputeMinor == 0 {
		return "unknown"
	}
	return fmt.Sprintf("sm_%d%d", d.ComputeMajor, d.ComputeMinor)
}

// ErrGPUNotInitialized is returned when an inventory is used before Init
type ErrGPUNotInitialized struct{}

func (e ErrGPUNotInitialized) Error() string {
	return "GPU inventory not initialized"
}
