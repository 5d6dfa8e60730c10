// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package dump

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gpu-tools/instrcount/internal/engine"
)

const (
	// Extension is appended to every listing file name
	Extension = ".sass"

	// MaxNameLen is the longest function-derived part of a listing file name
	MaxNameLen = 200

	unknownFile = "<unknown>"
)

// Dumper writes one disassembly listing per instrumented function
type Dumper struct {
	logger *slog.Logger
	engine engine.Engine
	dir    string
}

type Opts struct {
	logger *slog.Logger
	dir    string
}

// DefaultOpts returns options writing listings to the working directory
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		dir:    ".",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Dumper
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDir sets the directory listings are written to
func WithDir(dir string) OptionFn {
	return func(o *Opts) {
		o.dir = dir
	}
}

// NewDumper returns a Dumper resolving names and source lines through eng
func NewDumper(eng engine.Engine, applyOpts ...OptionFn) *Dumper {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	return &Dumper{
		logger: opts.logger.With("component", "dumper"),
		engine: eng,
		dir:    opts.dir,
	}
}

// Dump writes the listing of fn. Errors are logged and otherwise ignored.
func (d *Dumper) Dump(ctx engine.Context, fn engine.Function, instrs []engine.Instruction) {
	name := d.engine.FunctionName(ctx, fn, true)
	path := filepath.Join(d.dir, FileName(name))

	if err := d.writeFile(path, ctx, fn, name, instrs); err != nil {
		d.logger.Error("failed to write listing", "function", name, "path", path, "error", err)
		return
	}
	d.logger.Debug("listing written", "function", name, "path", path, "instructions", len(instrs))
}

func (d *Dumper) writeFile(path string, ctx engine.Context, fn engine.Function, name string, instrs []engine.Instruction) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	locate := func(offset uint32) (engine.SourceLocation, bool) {
		return d.engine.SourceLocation(ctx, fn, offset)
	}
	return Write(f, name, instrs, locate)
}

// Write renders a listing to w. A location header is emitted before the first
// instruction and whenever the location differs from the previous instruction.
func Write(w io.Writer, name string, instrs []engine.Instruction, locate func(offset uint32) (engine.SourceLocation, bool)) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\t.text.%s:\n", name)

	var prev engine.SourceLocation
	first := true
	for _, instr := range instrs {
		loc, ok := locate(instr.Offset)
		if !ok {
			loc = engine.SourceLocation{File: unknownFile}
		}
		if first || loc != prev {
			fmt.Fprintf(bw, "\t//## File %q, line %d\n", loc.Path(), loc.Line)
			prev = loc
			first = false
		}
		fmt.Fprintf(bw, "        /*%04x*/ %s ;\n", instr.Offset, instr.SASS)
	}
	return bw.Flush()
}

// FileName derives a portable listing file name from a function name.
// Characters other than letters, digits, '.', '_' and '-' become '_'.
func FileName(name string) string {
	if name == "" {
		name = "anonymous"
	}
	var sb strings.Builder
	for _, r := range name {
		if sb.Len() >= MaxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String() + Extension
}
