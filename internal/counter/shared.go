// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"sync"
	"sync/atomic"
)

// Shared is the single 64-bit counter incremented by instrumented device code.
//
// The host may only touch the counter through a Lease. Acquire blocks until no
// other lease is outstanding, so at most one kernel launch is between its
// entry and exit at any time.
type Shared struct {
	mu     sync.Mutex
	region *uint64
}

// NewShared allocates a zeroed counter
func NewShared() *Shared {
	return &Shared{region: new(uint64)}
}

// Region returns the device-visible address that probes increment
func (s *Shared) Region() *uint64 {
	return s.region
}

// Acquire blocks until the counter is free and returns the lease that owns it
func (s *Shared) Acquire() *Lease {
	s.mu.Lock()
	return &Lease{shared: s}
}

// TryAcquire returns a lease if the counter is free, nil otherwise
func (s *Shared) TryAcquire() *Lease {
	if !s.mu.TryLock() {
		return nil
	}
	return &Lease{shared: s}
}

// Lease is the exclusive right to reset and read the counter
type Lease struct {
	shared   *Shared
	released atomic.Bool
}

// Reset sets the counter to zero
func (l *Lease) Reset() {
	l.mustHold()
	atomic.StoreUint64(l.shared.region, 0)
}

// Read returns the current counter value
func (l *Lease) Read() uint64 {
	l.mustHold()
	return atomic.LoadUint64(l.shared.region)
}

// Release gives the counter back. Releasing twice panics.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		panic("counter: lease released twice")
	}
	l.shared.mu.Unlock()
}

func (l *Lease) mustHold() {
	if l.released.Load() {
		panic("counter: use of released lease")
	}
}
