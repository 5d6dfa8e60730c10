// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
)

// Context is the opaque GPU context handle a launch was issued in
type Context uint64

// Function identifies a compiled GPU function. Two handles are the same
// function iff they compare equal.
type Function uint64

func (f Function) String() string {
	return fmt.Sprintf("0x%x", uint64(f))
}

// Instruction is a single machine instruction of a GPU function
type Instruction struct {
	// Index is the position of the instruction within its function (0-based)
	Index uint32
	// Offset is the byte offset of the instruction within its function
	Offset uint32
	// SASS is the disassembled text of the instruction
	SASS string
	// Opcode is the mnemonic without operands
	Opcode string
	// HasGuardPred is true when the instruction carries a guard predicate
	HasGuardPred bool
}

// SourceLocation maps an instruction back to the line that produced it
type SourceLocation struct {
	File string
	Dir  string
	Line uint32
}

// Path returns Dir/File, or File alone when no directory is known
func (l SourceLocation) Path() string {
	if l.Dir == "" {
		return l.File
	}
	return l.Dir + "/" + l.File
}

// Probe describes the counting call injected before an instruction.
//
// Device contract: for every warp execution of the instrumented instruction
// let n be the number of threads whose predicate is true. The predicate is the
// instruction guard predicate when ExcludePredOff is set, and "thread is
// active" otherwise. WarpLevel probes add 1 to Counter when n > 0, thread
// level probes add n. Increments are atomic and visible to the host after a
// device synchronization.
type Probe struct {
	Counter        *uint64
	WarpLevel      bool
	ExcludePredOff bool
}

// Engine is the binary-rewriting engine that owns GPU function code
type Engine interface {
	// RelatedFunctions returns every function that may be called from fn,
	// directly or transitively. fn itself is not included.
	RelatedFunctions(ctx Context, fn Function) ([]Function, error)

	// Instructions returns the instructions of fn in program order
	Instructions(ctx Context, fn Function) ([]Instruction, error)

	// SourceLocation maps an instruction offset to its source line.
	// ok is false when no line information exists.
	SourceLocation(ctx Context, fn Function, offset uint32) (loc SourceLocation, ok bool)

	// FunctionName returns the mangled or demangled name of fn
	FunctionName(ctx Context, fn Function, mangled bool) string

	// FunctionAddr returns the device address of fn
	FunctionAddr(ctx Context, fn Function) uint64

	// InsertProbe injects probe before instr in the instrumented version of fn
	InsertProbe(ctx Context, fn Function, instr Instruction, probe Probe) error

	// EnableInstrumented selects the instrumented (true) or original (false)
	// code of fn for the next launch
	EnableInstrumented(ctx Context, fn Function, enabled bool) error
}

// Device is the GPU executing launched kernels
type Device interface {
	// Synchronize blocks until all previously launched work completed.
	// A device fault is reported as an error wrapping ErrDeviceFault.
	Synchronize(ctx context.Context) error
}

var (
	// ErrDeviceFault is returned by Device.Synchronize when a kernel faulted
	ErrDeviceFault = errors.New("device fault")

	// ErrUnknownFunction is returned for function handles the engine does not know
	ErrUnknownFunction = errors.New("unknown function")

	// ErrOutOfResources is returned when the engine cannot allocate space for
	// instrumented code
	ErrOutOfResources = errors.New("out of instrumentation resources")
)
