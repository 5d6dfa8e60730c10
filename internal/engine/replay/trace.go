// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gpu-tools/instrcount/internal/engine"
	"github.com/gpu-tools/instrcount/internal/launch"
)

// Trace describes the GPU code of an application and the driver calls it makes
type (
	Instruction struct {
		SASS string `yaml:"sass"`
		File string `yaml:"file,omitempty"`
		Dir  string `yaml:"dir,omitempty"`
		Line uint32 `yaml:"line,omitempty"`

		// Predicated marks an instruction with a guard predicate; a leading
		// "@P" in SASS implies it.
		Predicated bool `yaml:"predicated,omitempty"`
		// PredOffThreads is the number of threads per warp whose guard predicate is false
		PredOffThreads uint32 `yaml:"predOffThreads,omitempty"`
		// Exec is how many times each warp executes the instruction (default 1)
		Exec uint32 `yaml:"exec,omitempty"`
	}

	Function struct {
		ID           uint64        `yaml:"id"`
		Name         string        `yaml:"name"`
		Mangled      string        `yaml:"mangled,omitempty"`
		Address      uint64        `yaml:"address,omitempty"`
		Callees      []uint64      `yaml:"callees,omitempty"`
		Instructions []Instruction `yaml:"instructions"`
	}

	Dims []uint32

	Launch struct {
		// Profiler is "start" or "stop" for cuProfilerStart/cuProfilerStop calls
		Profiler string `yaml:"profiler,omitempty"`

		API      string `yaml:"api,omitempty"`
		Function uint64 `yaml:"function,omitempty"`
		Grid     Dims   `yaml:"grid,omitempty"`
		Block    Dims   `yaml:"block,omitempty"`
		// Thread is the host thread issuing the call; threads replay concurrently
		Thread int `yaml:"thread,omitempty"`
		// Count replaces the simulated instruction count when set
		Count *uint64 `yaml:"count,omitempty"`
		// Fault makes the kernel fault on the device
		Fault bool `yaml:"fault,omitempty"`
	}

	Limits struct {
		// MaxProbes bounds the number of probes the engine accepts; 0 is unlimited
		MaxProbes int `yaml:"maxProbes,omitempty"`
	}

	Trace struct {
		Context   uint64     `yaml:"context,omitempty"`
		Limits    Limits     `yaml:"limits,omitempty"`
		Functions []Function `yaml:"functions"`
		Launches  []Launch   `yaml:"launches"`
	}
)

// Dim3 expands d to three dimensions, missing extents are 1
func (d Dims) Dim3() launch.Dim3 {
	out := launch.Dim3{X: 1, Y: 1, Z: 1}
	if len(d) > 0 {
		out.X = d[0]
	}
	if len(d) > 1 {
		out.Y = d[1]
	}
	if len(d) > 2 {
		out.Z = d[2]
	}
	return out
}

// Load parses and validates a trace
func Load(r io.Reader) (*Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	t := &Trace{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromFile loads a trace from a file
func FromFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	return Load(f)
}

// Validate checks references and launch descriptions
func (t *Trace) Validate() error {
	var errs []error

	ids := make(map[uint64]bool, len(t.Functions))
	for _, fn := range t.Functions {
		if fn.ID == 0 {
			errs = append(errs, fmt.Errorf("function %q: id must be non-zero", fn.Name))
			continue
		}
		if ids[fn.ID] {
			errs = append(errs, fmt.Errorf("function %d: duplicate id", fn.ID))
		}
		ids[fn.ID] = true
		if fn.Name == "" && fn.Mangled == "" {
			errs = append(errs, fmt.Errorf("function %d: name or mangled name required", fn.ID))
		}
	}

	for _, fn := range t.Functions {
		for _, c := range fn.Callees {
			if !ids[c] {
				errs = append(errs, fmt.Errorf("function %d: unknown callee %d", fn.ID, c))
			}
		}
	}

	for i, l := range t.Launches {
		if l.Profiler != "" {
			if l.Profiler != "start" && l.Profiler != "stop" {
				errs = append(errs, fmt.Errorf("launch %d: profiler must be start or stop, got %q", i, l.Profiler))
			}
			continue
		}
		api, err := launch.ParseAPI(l.API)
		if err != nil {
			errs = append(errs, fmt.Errorf("launch %d: %w", i, err))
			continue
		}
		if !api.IsKernelLaunch() {
			errs = append(errs, fmt.Errorf("launch %d: %s is not a kernel launch", i, api))
		}
		if !ids[l.Function] {
			errs = append(errs, fmt.Errorf("launch %d: unknown function %d", i, l.Function))
		}
		if len(l.Grid) > 3 || len(l.Block) > 3 {
			errs = append(errs, fmt.Errorf("launch %d: dimensions have at most 3 extents", i))
		}
		if l.Thread < 0 {
			errs = append(errs, fmt.Errorf("launch %d: thread can't be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid trace: %w", errors.Join(errs...))
	}
	return nil
}

// Params builds the driver call arguments of a launch entry
func (l Launch) Params() launch.Params {
	if l.Profiler != "" {
		return launch.ProfilerParams{Start: l.Profiler == "start"}
	}

	api, _ := launch.ParseAPI(l.API)
	fn := engine.Function(l.Function)
	grid, block := l.Grid.Dim3(), l.Block.Dim3()

	switch api {
	case launch.APILaunch:
		return launch.LaunchParams{Function: fn}
	case launch.APILaunchGrid, launch.APILaunchGridAsync:
		return launch.LaunchGridParams{
			Function:   fn,
			GridWidth:  grid.X,
			GridHeight: grid.Y,
			Async:      api == launch.APILaunchGridAsync,
		}
	case launch.APILaunchKernelEx, launch.APILaunchKernelExPtsz:
		return launch.LaunchKernelExParams{
			Function: fn,
			Config: &launch.LaunchConfig{
				GridDimX: grid.X, GridDimY: grid.Y, GridDimZ: grid.Z,
				BlockDimX: block.X, BlockDimY: block.Y, BlockDimZ: block.Z,
			},
			PerThreadStream: api == launch.APILaunchKernelExPtsz,
		}
	default:
		return launch.LaunchKernelParams{
			Function: fn,
			GridDimX: grid.X, GridDimY: grid.Y, GridDimZ: grid.Z,
			BlockDimX: block.X, BlockDimY: block.Y, BlockDimZ: block.Z,
			PerThreadStream: api == launch.APILaunchKernelPtsz || api == launch.APILaunchCooperativeKernelPtsz,
			Cooperative:     api == launch.APILaunchCooperativeKernel || api == launch.APILaunchCooperativeKernelPtsz,
		}
	}
}

func (in Instruction) opcode() string {
	fields := strings.Fields(in.SASS)
	for _, f := range fields {
		if strings.HasPrefix(f, "@") {
			continue
		}
		return strings.TrimSuffix(f, ";")
	}
	return ""
}

func (in Instruction) predicated() bool {
	return in.Predicated || strings.HasPrefix(strings.TrimSpace(in.SASS), "@")
}
