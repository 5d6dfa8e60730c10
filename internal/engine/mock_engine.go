// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockEngine is a testify mock of Engine
type MockEngine struct {
	mock.Mock
}

var _ Engine = (*MockEngine)(nil)

func (m *MockEngine) RelatedFunctions(ctx Context, fn Function) ([]Function, error) {
	args := m.Called(ctx, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Function), args.Error(1)
}

func (m *MockEngine) Instructions(ctx Context, fn Function) ([]Instruction, error) {
	args := m.Called(ctx, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Instruction), args.Error(1)
}

func (m *MockEngine) SourceLocation(ctx Context, fn Function, offset uint32) (SourceLocation, bool) {
	args := m.Called(ctx, fn, offset)
	return args.Get(0).(SourceLocation), args.Bool(1)
}

func (m *MockEngine) FunctionName(ctx Context, fn Function, mangled bool) string {
	args := m.Called(ctx, fn, mangled)
	return args.String(0)
}

func (m *MockEngine) FunctionAddr(ctx Context, fn Function) uint64 {
	args := m.Called(ctx, fn)
	return args.Get(0).(uint64)
}

func (m *MockEngine) InsertProbe(ctx Context, fn Function, instr Instruction, probe Probe) error {
	args := m.Called(ctx, fn, instr, probe)
	return args.Error(0)
}

func (m *MockEngine) EnableInstrumented(ctx Context, fn Function, enabled bool) error {
	args := m.Called(ctx, fn, enabled)
	return args.Error(0)
}

// MockDevice is a testify mock of Device
type MockDevice struct {
	mock.Mock
}

var _ Device = (*MockDevice)(nil)

func (m *MockDevice) Synchronize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
