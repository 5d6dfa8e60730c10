// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import "fmt"

// API identifies the driver entry point that produced an event
type API int

const (
	APIUnknown API = iota
	APILaunch
	APILaunchGrid
	APILaunchGridAsync
	APILaunchKernel
	APILaunchKernelPtsz
	APILaunchKernelEx
	APILaunchKernelExPtsz
	APILaunchCooperativeKernel
	APILaunchCooperativeKernelPtsz
	APIProfilerStart
	APIProfilerStop
)

var apiNames = map[API]string{
	APILaunch:                      "cuLaunch",
	APILaunchGrid:                  "cuLaunchGrid",
	APILaunchGridAsync:             "cuLaunchGridAsync",
	APILaunchKernel:                "cuLaunchKernel",
	APILaunchKernelPtsz:            "cuLaunchKernel_ptsz",
	APILaunchKernelEx:              "cuLaunchKernelEx",
	APILaunchKernelExPtsz:          "cuLaunchKernelEx_ptsz",
	APILaunchCooperativeKernel:     "cuLaunchCooperativeKernel",
	APILaunchCooperativeKernelPtsz: "cuLaunchCooperativeKernel_ptsz",
	APIProfilerStart:               "cuProfilerStart",
	APIProfilerStop:                "cuProfilerStop",
}

func (a API) String() string {
	if name, ok := apiNames[a]; ok {
		return name
	}
	return fmt.Sprintf("API(%d)", int(a))
}

// ParseAPI maps a driver entry point name to its API
func ParseAPI(name string) (API, error) {
	for api, n := range apiNames {
		if n == name {
			return api, nil
		}
	}
	return APIUnknown, fmt.Errorf("%w: %q", ErrUnsupportedAPI, name)
}

// IsKernelLaunch reports whether the API starts a kernel
func (a API) IsKernelLaunch() bool {
	switch a {
	case APILaunch, APILaunchGrid, APILaunchGridAsync,
		APILaunchKernel, APILaunchKernelPtsz,
		APILaunchKernelEx, APILaunchKernelExPtsz,
		APILaunchCooperativeKernel, APILaunchCooperativeKernelPtsz:
		return true
	}
	return false
}
