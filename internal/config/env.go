// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"strconv"
	"strings"
)

// Environment keys read by ApplyEnv
const (
	EnvInstrBegin      = "INSTR_BEGIN"
	EnvInstrEnd        = "INSTR_END"
	EnvStartGridNum    = "START_GRID_NUM"
	EnvEndGridNum      = "END_GRID_NUM"
	EnvCountWarpLevel  = "COUNT_WARP_LEVEL"
	EnvExcludePredOff  = "EXCLUDE_PRED_OFF"
	EnvActiveFromStart = "ACTIVE_FROM_START"
	EnvMangledNames    = "MANGLED_NAMES"
	EnvToolVerbose     = "TOOL_VERBOSE"
)

// LookupFn returns the value of an environment key; os.LookupEnv satisfies it
type LookupFn func(key string) (string, bool)

// ApplyEnv overrides the counting settings with the environment keys that are
// set. A malformed value leaves the setting unchanged and is logged.
func ApplyEnv(cfg *Config, lookup LookupFn, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "env")

	uints := []struct {
		key string
		dst *uint32
	}{
		{EnvInstrBegin, &cfg.Counting.InstrBegin},
		{EnvInstrEnd, &cfg.Counting.InstrEnd},
		{EnvStartGridNum, &cfg.Counting.StartGridNum},
		{EnvEndGridNum, &cfg.Counting.EndGridNum},
	}
	for _, u := range uints {
		raw, ok := lookup(u.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 32)
		if err != nil {
			logger.Warn("ignoring malformed value", "key", u.key, "value", raw, "using", *u.dst)
			continue
		}
		*u.dst = uint32(v)
	}

	bools := []struct {
		key string
		dst **bool
	}{
		{EnvCountWarpLevel, &cfg.Counting.CountWarpLevel},
		{EnvExcludePredOff, &cfg.Counting.ExcludePredOff},
		{EnvActiveFromStart, &cfg.Counting.ActiveFromStart},
		{EnvMangledNames, &cfg.Counting.MangledNames},
	}
	for _, b := range bools {
		raw, ok := lookup(b.key)
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
		if err != nil {
			logger.Warn("ignoring malformed value", "key", b.key, "value", raw, "using", fmtBool(*b.dst))
			continue
		}
		enabled := v != 0
		*b.dst = &enabled
	}

	if raw, ok := lookup(EnvToolVerbose); ok {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v < 0 {
			logger.Warn("ignoring malformed value", "key", EnvToolVerbose, "value", raw, "using", cfg.Counting.Verbose)
		} else {
			cfg.Counting.Verbose = v
		}
	}
}

func fmtBool(b *bool) string {
	if b == nil {
		return "unset"
	}
	return strconv.FormatBool(*b)
}
