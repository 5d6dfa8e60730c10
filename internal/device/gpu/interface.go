// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import "github.com/gpu-tools/instrcount/internal/service"

// Inventory lists the GPUs of one vendor. It is only meaningful between Init
// and Shutdown.
type Inventory interface {
	service.Initializer
	service.Shutdowner

	Vendor() Vendor
	Devices() []Device
	// DriverVersion is the version of the vendor driver, empty when unknown
	DriverVersion() string
}
