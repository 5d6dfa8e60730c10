// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package dump

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gpu-tools/instrcount/internal/engine"
)

var listing = []engine.Instruction{
	{Index: 0, Offset: 0x00, SASS: "MOV R1, c[0x0][0x28]"},
	{Index: 1, Offset: 0x10, SASS: "S2R R0, SR_TID.X"},
	{Index: 2, Offset: 0x20, SASS: "IADD3 R2, R0, 0x1, RZ"},
	{Index: 3, Offset: 0x30, SASS: "EXIT"},
}

func TestWrite(t *testing.T) {
	locations := map[uint32]engine.SourceLocation{
		0x00: {Dir: "/src", File: "vec.cu", Line: 12},
		0x10: {Dir: "/src", File: "vec.cu", Line: 12},
		0x20: {Dir: "/src", File: "vec.cu", Line: 13},
	}
	locate := func(off uint32) (engine.SourceLocation, bool) {
		loc, ok := locations[off]
		return loc, ok
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "_Z6vecAddPdS_S_i", listing, locate))

	expected := strings.Join([]string{
		"\t.text._Z6vecAddPdS_S_i:",
		"\t//## File \"/src/vec.cu\", line 12",
		"        /*0000*/ MOV R1, c[0x0][0x28] ;",
		"        /*0010*/ S2R R0, SR_TID.X ;",
		"\t//## File \"/src/vec.cu\", line 13",
		"        /*0020*/ IADD3 R2, R0, 0x1, RZ ;",
		"\t//## File \"<unknown>\", line 0",
		"        /*0030*/ EXIT ;",
		"",
	}, "\n")
	assert.Equal(t, expected, buf.String())
}

func TestWriteHeaderSuppressedForUnchangedLocation(t *testing.T) {
	locate := func(uint32) (engine.SourceLocation, bool) {
		return engine.SourceLocation{File: "k.cu", Line: 1}, true
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "k", listing, locate))
	assert.Equal(t, 1, strings.Count(buf.String(), "//## File"))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"mangled", "_Z6vecAddPdS_S_i", "_Z6vecAddPdS_S_i.sass"},
		{"demangled", "vecAdd(double*, double*, int)", "vecAdd_double___double___int_.sass"},
		{"path separators", "a/b\\c", "a_b_c.sass"},
		{"empty", "", "anonymous.sass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FileName(tt.input))
		})
	}

	t.Run("long names are truncated", func(t *testing.T) {
		name := FileName(strings.Repeat("x", 1000))
		assert.Len(t, name, MaxNameLen+len(Extension))
		assert.True(t, strings.HasSuffix(name, Extension))
	})
}

func TestDumperWritesFile(t *testing.T) {
	const ctx, fn = engine.Context(1), engine.Function(2)
	dir := t.TempDir()

	eng := &engine.MockEngine{}
	eng.On("FunctionName", ctx, fn, true).Return("_Z1kv")
	eng.On("SourceLocation", ctx, fn, mock.Anything).Return(engine.SourceLocation{File: "k.cu", Line: 3}, true)

	d := NewDumper(eng, WithDir(dir), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	d.Dump(ctx, fn, listing)

	data, err := os.ReadFile(filepath.Join(dir, "_Z1kv.sass"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/*0030*/ EXIT ;")
	assert.Contains(t, string(data), `//## File "k.cu", line 3`)
}

func TestDumperLogsErrors(t *testing.T) {
	const ctx, fn = engine.Context(1), engine.Function(2)

	eng := &engine.MockEngine{}
	eng.On("FunctionName", ctx, fn, true).Return("k")

	var logs bytes.Buffer
	d := NewDumper(eng,
		WithDir(filepath.Join(t.TempDir(), "does", "not", "exist")),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	assert.NotPanics(t, func() { d.Dump(ctx, fn, listing) })
	assert.Contains(t, logs.String(), "failed to write listing")
}
