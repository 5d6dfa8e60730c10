// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"

	"github.com/gpu-tools/instrcount/internal/engine"
)

var (
	// ErrUnsupportedAPI is returned for params of APIs that do not launch kernels
	ErrUnsupportedAPI = errors.New("unsupported launch API")

	// ErrMalformedParams is returned when required launch parameters are missing
	ErrMalformedParams = errors.New("malformed launch parameters")
)

// Dim3 is a three dimensional extent
type Dim3 struct {
	X, Y, Z uint32
}

// Size returns X*Y*Z
func (d Dim3) Size() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

// Params are the raw arguments of a driver call. Each launch API has its own
// concrete type.
type Params interface {
	API() API
}

// LaunchParams are the arguments of cuLaunch, which runs a 1x1 grid
type LaunchParams struct {
	Function engine.Function
}

func (LaunchParams) API() API { return APILaunch }

// LaunchGridParams are the arguments of cuLaunchGrid and cuLaunchGridAsync
type LaunchGridParams struct {
	Function   engine.Function
	GridWidth  uint32
	GridHeight uint32
	Stream     uint64
	Async      bool
}

func (p LaunchGridParams) API() API {
	if p.Async {
		return APILaunchGridAsync
	}
	return APILaunchGrid
}

// LaunchKernelParams are the arguments of cuLaunchKernel,
// cuLaunchCooperativeKernel and their per-thread-stream variants
type LaunchKernelParams struct {
	Function       engine.Function
	GridDimX       uint32
	GridDimY       uint32
	GridDimZ       uint32
	BlockDimX      uint32
	BlockDimY      uint32
	BlockDimZ      uint32
	SharedMemBytes uint32
	Stream         uint64

	PerThreadStream bool
	Cooperative     bool
}

func (p LaunchKernelParams) API() API {
	switch {
	case p.Cooperative && p.PerThreadStream:
		return APILaunchCooperativeKernelPtsz
	case p.Cooperative:
		return APILaunchCooperativeKernel
	case p.PerThreadStream:
		return APILaunchKernelPtsz
	default:
		return APILaunchKernel
	}
}

// LaunchConfig is the launch configuration referenced by cuLaunchKernelEx
type LaunchConfig struct {
	GridDimX       uint32
	GridDimY       uint32
	GridDimZ       uint32
	BlockDimX      uint32
	BlockDimY      uint32
	BlockDimZ      uint32
	SharedMemBytes uint32
	Stream         uint64
}

// LaunchKernelExParams are the arguments of cuLaunchKernelEx(_ptsz). The
// geometry is nested inside Config.
type LaunchKernelExParams struct {
	Config   *LaunchConfig
	Function engine.Function

	PerThreadStream bool
}

func (p LaunchKernelExParams) API() API {
	if p.PerThreadStream {
		return APILaunchKernelExPtsz
	}
	return APILaunchKernelEx
}

// ProfilerParams are the (empty) arguments of cuProfilerStart/cuProfilerStop
type ProfilerParams struct {
	Start bool
}

func (p ProfilerParams) API() API {
	if p.Start {
		return APIProfilerStart
	}
	return APIProfilerStop
}

// Launch is the variant independent description of a kernel launch
type Launch struct {
	API      API
	Function engine.Function
	Grid     Dim3
	Block    Dim3
}

// DispatchSize is the number of thread blocks in the grid
func (l Launch) DispatchSize() uint64 {
	return l.Grid.Size()
}

// APIOf returns the API of p. A nil pointer reports the base API of its type
// so that decoding it fails with ErrMalformedParams.
func APIOf(p Params) API {
	switch v := p.(type) {
	case nil:
		return APIUnknown
	case *LaunchParams:
		if v == nil {
			return APILaunch
		}
	case *LaunchGridParams:
		if v == nil {
			return APILaunchGrid
		}
	case *LaunchKernelParams:
		if v == nil {
			return APILaunchKernel
		}
	case *LaunchKernelExParams:
		if v == nil {
			return APILaunchKernelEx
		}
	case *ProfilerParams:
		if v == nil {
			return APIUnknown
		}
	}
	return p.API()
}

// Decode normalizes the params of any kernel launch API
func Decode(p Params) (Launch, error) {
	switch v := p.(type) {
	case LaunchParams:
		return decodeLaunch(v), nil
	case *LaunchParams:
		if v == nil {
			return Launch{}, nilParams(p)
		}
		return decodeLaunch(*v), nil
	case LaunchGridParams:
		return decodeLaunchGrid(v), nil
	case *LaunchGridParams:
		if v == nil {
			return Launch{}, nilParams(p)
		}
		return decodeLaunchGrid(*v), nil
	case LaunchKernelParams:
		return decodeLaunchKernel(v), nil
	case *LaunchKernelParams:
		if v == nil {
			return Launch{}, nilParams(p)
		}
		return decodeLaunchKernel(*v), nil
	case LaunchKernelExParams:
		return decodeLaunchKernelEx(v)
	case *LaunchKernelExParams:
		if v == nil {
			return Launch{}, nilParams(p)
		}
		return decodeLaunchKernelEx(*v)
	case nil:
		return Launch{}, fmt.Errorf("%w: no params", ErrMalformedParams)
	default:
		return Launch{}, fmt.Errorf("%w: %s", ErrUnsupportedAPI, APIOf(p))
	}
}

func nilParams(p Params) error {
	return fmt.Errorf("%w: nil %s params", ErrMalformedParams, APIOf(p))
}

func decodeLaunch(p LaunchParams) Launch {
	return Launch{
		API:      p.API(),
		Function: p.Function,
		Grid:     Dim3{1, 1, 1},
	}
}

func decodeLaunchGrid(p LaunchGridParams) Launch {
	return Launch{
		API:      p.API(),
		Function: p.Function,
		Grid:     Dim3{p.GridWidth, p.GridHeight, 1},
	}
}

func decodeLaunchKernel(p LaunchKernelParams) Launch {
	return Launch{
		API:      p.API(),
		Function: p.Function,
		Grid:     Dim3{p.GridDimX, p.GridDimY, p.GridDimZ},
		Block:    Dim3{p.BlockDimX, p.BlockDimY, p.BlockDimZ},
	}
}

func decodeLaunchKernelEx(p LaunchKernelExParams) (Launch, error) {
	if p.Config == nil {
		return Launch{}, fmt.Errorf("%w: %s without launch config", ErrMalformedParams, p.API())
	}
	c := p.Config
	return Launch{
		API:      p.API(),
		Function: p.Function,
		Grid:     Dim3{c.GridDimX, c.GridDimY, c.GridDimZ},
		Block:    Dim3{c.BlockDimX, c.BlockDimY, c.BlockDimZ},
	}, nil
}
