// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// set at build time with -ldflags "-X github.com/gpu-tools/instrcount/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

const unknown = "dev"

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   orDefault(version),
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

// String renders the one-line banner printed at tool initialization
func (v VersionInfo) String() string {
	commit := v.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if commit == "" {
		return fmt.Sprintf("instrcount %s (%s %s/%s)", v.Version, v.GoVersion, v.GoOS, v.GoArch)
	}
	return fmt.Sprintf("instrcount %s-%s (%s %s/%s)", v.Version, commit, v.GoVersion, v.GoOS, v.GoArch)
}

func orDefault(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
