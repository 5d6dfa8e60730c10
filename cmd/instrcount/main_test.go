// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/gpu-tools/instrcount/internal/config"
	"github.com/gpu-tools/instrcount/internal/service"
)

const testTrace = "../../internal/engine/replay/testdata/vecadd.yaml"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseArgsAndConfig(t *testing.T) {
	t.Setenv(config.EnvInstrEnd, "16")
	t.Setenv(config.EnvCountWarpLevel, "0")

	cfg, err := parseArgsAndConfig([]string{
		"--trace.file=" + testTrace,
		"--config.overlay=counting: {startGridNum: 2}",
		"--counting.warp-level",
	})
	require.NoError(t, err)

	assert.Equal(t, testTrace, cfg.Trace.File)
	assert.Equal(t, uint32(2), cfg.Counting.StartGridNum)
	assert.Equal(t, uint32(16), cfg.Counting.InstrEnd)
	assert.True(t, *cfg.Counting.CountWarpLevel, "flags override the environment")
}

func TestParseArgsAndConfigRequiresTrace(t *testing.T) {
	_, err := parseArgsAndConfig(nil)
	assert.ErrorContains(t, err, "--trace.file is required")
}

func TestCreateServices(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.File = testTrace

	services, err := createServices(discardLogger(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout", "interceptor", "replay", "signal-handler"}, names(services))

	cfg.Exporter.Stdout.Enabled = ptr.To(false)
	cfg.Exporter.Prometheus.Enabled = ptr.To(true)
	services, err = createServices(discardLogger(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"interceptor", "api-server", "prometheus", "replay", "signal-handler"}, names(services))
}

func TestCreateServicesMissingTrace(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.File = "testdata/does-not-exist.yaml"

	_, err := createServices(discardLogger(), cfg, nil)
	assert.ErrorContains(t, err, "failed to load trace")
}

func TestReplayRunsToCompletion(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.File = testTrace
	cfg.Dump.Dir = t.TempDir()
	cfg.Exporter.Stdout.Enabled = ptr.To(false)
	logger := discardLogger()

	services, err := createServices(logger, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, service.Init(logger, services))
	assert.NoError(t, service.Run(context.Background(), logger, services))
}

func TestDefaultConfigWritesListings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.File = testTrace
	cfg.Dump.Dir = t.TempDir()
	cfg.Exporter.Stdout.Enabled = ptr.To(false)
	logger := discardLogger()

	services, err := createServices(logger, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, service.Init(logger, services))
	require.NoError(t, service.Run(context.Background(), logger, services))

	entries, err := os.ReadDir(cfg.Dump.Dir)
	require.NoError(t, err)
	var files []string
	for _, e := range entries {
		files = append(files, e.Name())
	}
	assert.ElementsMatch(t, []string{"_Z6vecAddPdS_S_i.sass", "_Z6helperv.sass"}, files)

	listing, err := os.ReadFile(filepath.Join(cfg.Dump.Dir, "_Z6vecAddPdS_S_i.sass"))
	require.NoError(t, err)
	assert.Contains(t, string(listing), "/*0000*/")
}

func TestDisabledDumpWritesNothing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Trace.File = testTrace
	cfg.Dump.Enabled = ptr.To(false)
	cfg.Dump.Dir = t.TempDir()
	cfg.Exporter.Stdout.Enabled = ptr.To(false)
	logger := discardLogger()

	services, err := createServices(logger, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, service.Init(logger, services))
	require.NoError(t, service.Run(context.Background(), logger, services))

	entries, err := os.ReadDir(cfg.Dump.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func names(services []service.Service) []string {
	out := make([]string, 0, len(services))
	for _, s := range services {
		out = append(out, s.Name())
	}
	return out
}
