// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"log/slog"
	"slices"
	"sync"
)

// Factory creates the inventory of a vendor
type Factory func(logger *slog.Logger) (Inventory, error)

var (
	registry   = make(map[Vendor]Factory)
	registryMu sync.RWMutex
)

// Register makes a vendor available to DiscoverAll. Vendor packages call it
// from init.
func Register(vendor Vendor, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[vendor] = factory
}

// DiscoverAll returns an initialized inventory for every registered vendor
// with at least one device. Callers shut the inventories down.
func DiscoverAll(logger *slog.Logger) []Inventory {
	var found []Inventory
	for _, vendor := range RegisteredVendors() {
		if inv := Discover(vendor, logger); inv != nil {
			found = append(found, inv)
		}
	}
	return found
}

// Discover returns the initialized inventory of vendor, or nil when the
// vendor is not registered, its library is unavailable or it has no devices
func Discover(vendor Vendor, logger *slog.Logger) Inventory {
	if logger == nil {
		logger = slog.Default()
	}

	registryMu.RLock()
	factory, ok := registry[vendor]
	registryMu.RUnlock()
	if !ok {
		logger.Debug("GPU vendor not registered", "vendor", vendor)
		return nil
	}

	inv, err := factory(logger)
	if err != nil {
		logger.Debug("GPU vendor factory failed", "vendor", vendor, "error", err)
		return nil
	}

	if err := inv.Init(); err != nil {
		logger.Debug("GPU vendor init failed", "vendor", vendor, "error", err)
		return nil
	}

	if len(inv.Devices()) == 0 {
		logger.Debug("GPU vendor has no devices", "vendor", vendor)
		_ = inv.Shutdown()
		return nil
	}
	return inv
}

// RegisteredVendors returns the registered vendors in name order
func RegisteredVendors() []Vendor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	vendors := make([]Vendor, 0, len(registry))
	for vendor := range registry {
		vendors = append(vendors, vendor)
	}
	slices.Sort(vendors)
	return vendors
}

// ClearRegistry removes all vendors
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Vendor]Factory)
}
