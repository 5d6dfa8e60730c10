// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"log/slog"
	"sync/atomic"
)

// Mode selects how the activation window is driven
type Mode int

const (
	// Eager recomputes the window from the kernel ordinal at every launch
	Eager Mode = iota
	// Gated opens and closes the window on profiler start/stop signals only
	Gated
)

func (m Mode) String() string {
	switch m {
	case Eager:
		return "eager"
	case Gated:
		return "gated"
	default:
		return "unknown"
	}
}

// Policy decides whether a launch runs instrumented code
type Policy struct {
	logger *slog.Logger
	mode   Mode
	start  uint64
	end    uint64

	open atomic.Bool
}

type Opts struct {
	logger *slog.Logger
	start  uint64
	end    uint64
}

// DefaultOpts returns options selecting every ordinal
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		start:  0,
		end:    ^uint64(0),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Policy
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithOrdinalRange sets the half-open ordinal interval [start, end) used in eager mode
func WithOrdinalRange(start, end uint64) OptionFn {
	return func(o *Opts) {
		o.start = start
		o.end = end
	}
}

// NewPolicy returns a policy in the given mode. In eager mode the window
// starts open iff the ordinal range starts at 0; in gated mode it starts closed.
func NewPolicy(mode Mode, applyOpts ...OptionFn) *Policy {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	p := &Policy{
		logger: opts.logger.With("component", "activation"),
		mode:   mode,
		start:  opts.start,
		end:    opts.end,
	}
	if mode == Eager {
		p.open.Store(opts.start == 0)
	}
	return p
}

// Mode returns the mode the policy was created with
func (p *Policy) Mode() Mode {
	return p.mode
}

// Open reports the current window state
func (p *Policy) Open() bool {
	return p.open.Load()
}

// Evaluate returns the activation decision for the launch that will receive
// ordinal. Eager policies update the window first.
func (p *Policy) Evaluate(ordinal uint64) bool {
	if p.mode == Eager {
		p.open.Store(ordinal >= p.start && ordinal < p.end)
	}
	return p.open.Load()
}

// Start opens the window of a gated policy
func (p *Policy) Start() {
	p.signal(true)
}

// Stop closes the window of a gated policy
func (p *Policy) Stop() {
	p.signal(false)
}

func (p *Policy) signal(open bool) {
	if p.mode != Gated {
		p.logger.Debug("ignoring profiler signal", "mode", p.mode, "open", open)
		return
	}
	if prev := p.open.Swap(open); prev != open {
		p.logger.Debug("activation window changed", "open", open)
	}
}
