// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that must be set up before anything runs
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in the background until their
// work is done or ctx is cancelled
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that must be cleaned up when the
// process terminates
type Shutdowner interface {
	Service
	Shutdown() error
}
