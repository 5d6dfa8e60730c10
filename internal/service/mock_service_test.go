// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// journal records lifecycle calls across services
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeService struct {
	name    string
	journal *journal

	initFn     func() error
	runFn      func(ctx context.Context) error
	shutdownFn func() error

	mu            sync.Mutex
	initCount     int
	runCount      int
	shutdownCount int
}

func (f *fakeService) Name() string {
	return f.name
}

func (f *fakeService) init() error {
	f.mu.Lock()
	f.initCount++
	f.mu.Unlock()
	f.journal.add("init " + f.name)
	if f.initFn != nil {
		return f.initFn()
	}
	return nil
}

func (f *fakeService) run(ctx context.Context) error {
	f.mu.Lock()
	f.runCount++
	f.mu.Unlock()
	f.journal.add("run " + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	return nil
}

func (f *fakeService) shutdown() error {
	f.mu.Lock()
	f.shutdownCount++
	f.mu.Unlock()
	f.journal.add("shutdown " + f.name)
	if f.shutdownFn != nil {
		return f.shutdownFn()
	}
	return nil
}

func (f *fakeService) counts() (initCount, runCount, shutdownCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCount, f.runCount, f.shutdownCount
}

type initOnly struct{ *fakeService }

func (s initOnly) Init() error { return s.init() }

type initShutdown struct{ *fakeService }

func (s initShutdown) Init() error     { return s.init() }
func (s initShutdown) Shutdown() error { return s.shutdown() }

type runOnly struct{ *fakeService }

func (s runOnly) Run(ctx context.Context) error { return s.run(ctx) }

type runShutdown struct{ *fakeService }

func (s runShutdown) Run(ctx context.Context) error { return s.run(ctx) }
func (s runShutdown) Shutdown() error               { return s.shutdown() }

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
