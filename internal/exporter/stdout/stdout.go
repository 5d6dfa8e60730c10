// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/gpu-tools/instrcount/internal/counter"
	"github.com/gpu-tools/instrcount/internal/service"
)

// Snapshotter provides the per-kernel totals for the summary table
type Snapshotter interface {
	Snapshot() *counter.Snapshot
}

// Exporter writes one line per completed kernel launch and the application
// total to its output
type Exporter struct {
	logger  *slog.Logger
	out     io.Writer
	summary Snapshotter

	mu sync.Mutex
}

var _ service.Initializer = (*Exporter)(nil)

type Opts struct {
	logger  *slog.Logger
	out     io.Writer
	summary Snapshotter
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		out:    os.Stdout,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.Writer) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

// WithSummary prints a per-kernel table from s after the total
func WithSummary(s Snapshotter) OptionFn {
	return func(o *Opts) {
		o.summary = s
	}
}

func NewExporter(applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:  opts.logger.With("service", "stdout"),
		out:     opts.out,
		summary: opts.summary,
	}
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}

func (e *Exporter) Init() error {
	e.logger.Info("Reporting kernel launches to stdout", "summary", e.summary != nil)
	return nil
}

// Report writes the line of a completed launch
func (e *Exporter) Report(r counter.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := fmt.Fprintf(e.out,
		"kernel %d - %s - #thread-blocks %d,  kernel instructions %d, total instructions %d\n",
		r.Ordinal, r.Kernel, r.DispatchSize, r.Count, r.RunningTotal)
	if err != nil {
		e.logger.Error("failed to write report", "ordinal", r.Ordinal, "error", err)
	}
}

// Total writes the application total and, when enabled, the summary table
func (e *Exporter) Total(total uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintf(e.out, "Total app instructions: %d\n", total); err != nil {
		e.logger.Error("failed to write total", "error", err)
		return
	}
	if e.summary != nil {
		writeSummary(e.out, e.summary.Snapshot())
	}
}

func writeSummary(out io.Writer, snapshot *counter.Snapshot) {
	type row struct {
		kernel string
		stats  counter.KernelStats
	}
	rows := make([]row, 0, len(snapshot.Kernels))
	for kernel, stats := range snapshot.Kernels {
		rows = append(rows, row{kernel, stats})
	}
	// heaviest kernels first
	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.stats.Instructions, a.stats.Instructions); c != 0 {
			return c
		}
		return cmp.Compare(a.kernel, b.kernel)
	})

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{
			r.kernel,
			strconv.FormatUint(r.stats.Launches, 10),
			strconv.FormatUint(r.stats.ThreadBlocks, 10),
			strconv.FormatUint(r.stats.Instructions, 10),
			share(r.stats.Instructions, snapshot.RunningTotal),
		})
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Kernel", "Launches", "Thread Blocks", "Instructions", "Share"})
	_ = table.Bulk(cells)
	_ = table.Render()
}

func share(part, total uint64) string {
	if total == 0 {
		return "-"
	}
	return strconv.FormatFloat(float64(part)*100/float64(total), 'f', 1, 64) + "%"
}
