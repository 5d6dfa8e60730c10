// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSharedResetRead(t *testing.T) {
	s := NewShared()
	lease := s.Acquire()
	defer lease.Release()

	atomic.AddUint64(s.Region(), 42)
	assert.Equal(t, uint64(42), lease.Read())

	lease.Reset()
	assert.Zero(t, lease.Read())
}

func TestSharedExclusive(t *testing.T) {
	s := NewShared()
	lease := s.Acquire()

	assert.Nil(t, s.TryAcquire(), "counter must not be acquirable while leased")

	acquired := make(chan struct{})
	go func() {
		l := s.Acquire()
		close(acquired)
		l.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before the first lease was released")
	case <-time.After(20 * time.Millisecond):
	}

	lease.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not return after release")
	}
}

func TestLeaseMisuse(t *testing.T) {
	t.Run("double release panics", func(t *testing.T) {
		s := NewShared()
		lease := s.Acquire()
		lease.Release()
		assert.Panics(t, lease.Release)
	})

	t.Run("read after release panics", func(t *testing.T) {
		s := NewShared()
		lease := s.Acquire()
		lease.Release()
		assert.Panics(t, func() { _ = lease.Read() })
		assert.Panics(t, lease.Reset)
	})
}

func TestSharedSerializesResetAndRead(t *testing.T) {
	s := NewShared()
	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for range rounds {
				lease := s.Acquire()
				lease.Reset()
				atomic.AddUint64(s.Region(), 3)
				v := lease.Read()
				lease.Release()
				assert.Equal(t, uint64(3), v)
			}
		}()
	}
	wg.Wait()
}
