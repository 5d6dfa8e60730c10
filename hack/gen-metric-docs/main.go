// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

// gen-metric-docs writes a Markdown reference of the metrics served on
// /metrics.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/gpu-tools/instrcount/internal/counter"
	"github.com/gpu-tools/instrcount/internal/exporter/prometheus"
	"github.com/gpu-tools/instrcount/internal/exporter/prometheus/collector"
	"github.com/gpu-tools/instrcount/internal/instrument"
)

// MetricInfo describes one metric family
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
}

var (
	fqNameRe = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRe   = regexp.MustCompile(`help: "([^"]+)"`)
	labelsRe = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
)

// describe returns the metrics a collector declares. Descs that cannot be
// parsed are skipped.
func describe(c prom.Collector, logger *slog.Logger) []MetricInfo {
	ch := make(chan *prom.Desc, 64)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var metrics []MetricInfo
	for desc := range ch {
		s := desc.String()
		name := fqNameRe.FindStringSubmatch(s)
		help := helpRe.FindStringSubmatch(s)
		if len(name) < 2 || len(help) < 2 {
			logger.Warn("could not parse desc", "desc", s)
			continue
		}

		var labels []string
		if m := labelsRe.FindStringSubmatch(s); len(m) == 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		typ := "GAUGE"
		if strings.HasSuffix(name[1], "_total") {
			typ = "COUNTER"
		}
		metrics = append(metrics, MetricInfo{
			Name:        name[1],
			Type:        typ,
			Description: help[1],
			Labels:      labels,
		})
	}
	return metrics
}

type section struct {
	title  string
	prefix string
	intro  string
}

var sections = []section{
	{"Kernel Metrics", "instrcount_kernel_", "Counts per kernel name, summed over all launches of that kernel."},
	{"Application Metrics", "instrcount_app_", "Counts over every kernel launch of the application."},
	{"GPU Metrics", "instrcount_gpu_", "Devices discovered at startup."},
	{"Other Metrics", "", ""},
}

func generateMarkdown(metrics []MetricInfo) string {
	slices.SortFunc(metrics, func(a, b MetricInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	var md strings.Builder
	md.WriteString("# instrcount Metrics\n\n")
	md.WriteString("Metrics served on `/metrics` when the Prometheus exporter is enabled.\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n\n")

	done := map[string]bool{}
	for _, sec := range sections {
		var in []MetricInfo
		for _, m := range metrics {
			if !done[m.Name] && strings.HasPrefix(m.Name, sec.prefix) {
				in = append(in, m)
				done[m.Name] = true
			}
		}
		if len(in) == 0 {
			continue
		}
		fmt.Fprintf(&md, "## %s\n\n", sec.title)
		if sec.intro != "" {
			fmt.Fprintf(&md, "%s\n\n", sec.intro)
		}
		writeMetrics(&md, in)
	}

	md.WriteString("---\n\nThis documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

func writeMetrics(w io.Writer, metrics []MetricInfo) {
	for _, m := range metrics {
		fmt.Fprintf(w, "### %s\n\n", m.Name)
		fmt.Fprintf(w, "- **Type**: %s\n", m.Type)
		fmt.Fprintf(w, "- **Description**: %s\n", m.Description)
		if len(m.Labels) > 0 {
			fmt.Fprintln(w, "- **Labels**:")
			for _, l := range m.Labels {
				fmt.Fprintf(w, "  - `%s`\n", l)
			}
		}
		fmt.Fprintln(w)
	}
}

func collectMetrics(logger *slog.Logger) []MetricInfo {
	collectors := prometheus.CreateCollectors(counter.NewAggregator(), instrument.NewCache(),
		prometheus.WithLogger(logger))
	collectors["gpu_info"] = collector.NewGPUInfoCollector(nil)

	var all []MetricInfo
	for name, c := range collectors {
		m := describe(c, logger)
		logger.Info("extracted metrics", "collector", name, "count", len(m))
		all = append(all, m...)
	}
	return all
}

func main() {
	output := flag.String("output", "docs/metrics.md", "Path to output Markdown file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	md := generateMarkdown(collectMetrics(logger))

	if dir := filepath.Dir(*output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create output directory", "error", err)
			os.Exit(1)
		}
	}
	if err := os.WriteFile(*output, []byte(md), 0o644); err != nil {
		logger.Error("failed to write metrics documentation", "error", err)
		os.Exit(1)
	}
	logger.Info("metrics documentation written", "path", *output)
}
