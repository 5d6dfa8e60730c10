// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"sync"

	"github.com/gpu-tools/instrcount/internal/engine"
)

// instrSize is the encoded size of one SASS instruction
const instrSize = 16

type probeSite struct {
	index int
	probe engine.Probe
}

// Engine is an in-memory instrumentation engine over the functions of a trace
type Engine struct {
	functions map[engine.Function]*Function
	maxProbes int

	mu      sync.Mutex
	probes  map[engine.Function][]probeSite
	enabled map[engine.Function]bool
	total   int
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine returns an engine serving the functions of t
func NewEngine(t *Trace) *Engine {
	e := &Engine{
		functions: make(map[engine.Function]*Function, len(t.Functions)),
		maxProbes: t.Limits.MaxProbes,
		probes:    map[engine.Function][]probeSite{},
		enabled:   map[engine.Function]bool{},
	}
	for i := range t.Functions {
		fn := &t.Functions[i]
		e.functions[engine.Function(fn.ID)] = fn
	}
	return e
}

func (e *Engine) lookup(fn engine.Function) (*Function, error) {
	f, ok := e.functions[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownFunction, fn)
	}
	return f, nil
}

// RelatedFunctions returns the transitive callees of fn in breadth-first order
func (e *Engine) RelatedFunctions(_ engine.Context, fn engine.Function) ([]engine.Function, error) {
	root, err := e.lookup(fn)
	if err != nil {
		return nil, err
	}

	visited := map[uint64]bool{root.ID: true}
	queue := append([]uint64{}, root.Callees...)
	var related []engine.Function

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		related = append(related, engine.Function(id))

		if callee, ok := e.functions[engine.Function(id)]; ok {
			queue = append(queue, callee.Callees...)
		}
	}
	return related, nil
}

func (e *Engine) Instructions(_ engine.Context, fn engine.Function) ([]engine.Instruction, error) {
	f, err := e.lookup(fn)
	if err != nil {
		return nil, err
	}

	instrs := make([]engine.Instruction, len(f.Instructions))
	for i, in := range f.Instructions {
		instrs[i] = engine.Instruction{
			Index:        uint32(i),
			Offset:       uint32(i * instrSize),
			SASS:         in.SASS,
			Opcode:       in.opcode(),
			HasGuardPred: in.predicated(),
		}
	}
	return instrs, nil
}

func (e *Engine) SourceLocation(_ engine.Context, fn engine.Function, offset uint32) (engine.SourceLocation, bool) {
	f, ok := e.functions[fn]
	if !ok || offset%instrSize != 0 {
		return engine.SourceLocation{}, false
	}
	idx := int(offset / instrSize)
	if idx >= len(f.Instructions) {
		return engine.SourceLocation{}, false
	}
	in := f.Instructions[idx]
	if in.File == "" {
		return engine.SourceLocation{}, false
	}
	return engine.SourceLocation{File: in.File, Dir: in.Dir, Line: in.Line}, true
}

func (e *Engine) FunctionName(_ engine.Context, fn engine.Function, mangled bool) string {
	f, ok := e.functions[fn]
	if !ok {
		return fn.String()
	}
	if (mangled && f.Mangled != "") || f.Name == "" {
		return f.Mangled
	}
	return f.Name
}

func (e *Engine) FunctionAddr(_ engine.Context, fn engine.Function) uint64 {
	f, ok := e.functions[fn]
	if !ok {
		return 0
	}
	if f.Address != 0 {
		return f.Address
	}
	return f.ID << 12
}

func (e *Engine) InsertProbe(_ engine.Context, fn engine.Function, instr engine.Instruction, probe engine.Probe) error {
	f, err := e.lookup(fn)
	if err != nil {
		return err
	}
	if int(instr.Index) >= len(f.Instructions) {
		return fmt.Errorf("instruction %d out of range for %s", instr.Index, fn)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxProbes > 0 && e.total >= e.maxProbes {
		return fmt.Errorf("%w: %d probes in use", engine.ErrOutOfResources, e.total)
	}
	e.probes[fn] = append(e.probes[fn], probeSite{index: int(instr.Index), probe: probe})
	e.total++
	return nil
}

// EnableInstrumented selects the code of fn and of every function it may call
func (e *Engine) EnableInstrumented(ctx engine.Context, fn engine.Function, enabled bool) error {
	related, err := e.RelatedFunctions(ctx, fn)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[fn] = enabled
	for _, r := range related {
		e.enabled[r] = enabled
	}
	return nil
}

// Probes returns the number of probes injected into fn
func (e *Engine) Probes(fn engine.Function) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.probes[fn])
}

// Enabled reports whether fn currently runs instrumented code
func (e *Engine) Enabled(fn engine.Function) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled[fn]
}

// activeCode is the code a launch runs, captured when it is issued
type activeCode struct {
	function *Function
	probes   []probeSite
}

func (e *Engine) codeFor(ctx engine.Context, kernel engine.Function) []activeCode {
	related, err := e.RelatedFunctions(ctx, kernel)
	if err != nil {
		return nil
	}
	fns := append([]engine.Function{kernel}, related...)

	e.mu.Lock()
	defer e.mu.Unlock()

	code := make([]activeCode, 0, len(fns))
	for _, fn := range fns {
		ac := activeCode{function: e.functions[fn]}
		if e.enabled[fn] {
			ac.probes = append([]probeSite(nil), e.probes[fn]...)
		}
		code = append(code, ac)
	}
	return code
}
