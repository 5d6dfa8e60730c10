// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import "github.com/gpu-tools/instrcount/internal/engine"

// Selector decides which instructions receive a counting probe
type Selector interface {
	Select(instr engine.Instruction) bool
}

// SelectorFunc adapts a function to the Selector interface
type SelectorFunc func(engine.Instruction) bool

func (f SelectorFunc) Select(instr engine.Instruction) bool {
	return f(instr)
}

// IntervalSelector selects instructions whose index lies in [Begin, End)
type IntervalSelector struct {
	Begin uint32
	End   uint32
}

func (s IntervalSelector) Select(instr engine.Instruction) bool {
	return instr.Index >= s.Begin && instr.Index < s.End
}

// SelectAll selects every instruction
var SelectAll Selector = SelectorFunc(func(engine.Instruction) bool { return true })
