// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"context"

	"github.com/gpu-tools/instrcount/internal/engine"
)

// Phase tells whether an event fires before or after the driver call
type Phase int

const (
	PhaseEntry Phase = iota
	PhaseExit
)

func (p Phase) String() string {
	if p == PhaseEntry {
		return "entry"
	}
	return "exit"
}

// Event is one side of an intercepted driver call. Entry and exit of the same
// call carry the same CallID.
type Event struct {
	CallID uint64
	Phase  Phase
	Ctx    engine.Context
	Params Params
}

// API returns the driver API of the event
func (e Event) API() API {
	return APIOf(e.Params)
}

// Handler receives every intercepted driver call, once before the call is
// forwarded and once after it returned. OnLaunchEntry returns false when the
// call must not be forwarded; its exit is still delivered.
type Handler interface {
	OnLaunchEntry(ctx context.Context, ev Event) bool
	OnLaunchExit(ctx context.Context, ev Event)
}

// Dispatch routes ev to the handler method for its phase. It reports whether
// the call may be forwarded; exits always may.
func Dispatch(ctx context.Context, h Handler, ev Event) bool {
	if ev.Phase == PhaseEntry {
		return h.OnLaunchEntry(ctx, ev)
	}
	h.OnLaunchExit(ctx, ev)
	return true
}
