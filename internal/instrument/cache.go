// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"sync"

	"github.com/gpu-tools/instrcount/internal/engine"
)

// Cache remembers every function that has already been instrumented.
// Entries are never removed.
type Cache struct {
	mu   sync.Mutex
	seen map[engine.Function]struct{}
}

// NewCache returns an empty cache
func NewCache() *Cache {
	return &Cache{seen: map[engine.Function]struct{}{}}
}

// Ensure atomically records fn and reports whether this call was the first
// one to see it.
func (c *Cache) Ensure(fn engine.Function) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[fn]; ok {
		return false
	}
	c.seen[fn] = struct{}{}
	return true
}

// Contains reports whether fn was recorded
func (c *Cache) Contains(fn engine.Function) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.seen[fn]
	return ok
}

// Len returns the number of recorded functions
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
