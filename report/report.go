// Package report formats the per-run measurement reports of one size
// into cross-run summary tables.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/weiihann/fetchsim/measure"
	"github.com/weiihann/fetchsim/pipeline"
)

// ErrNoRuns is returned when there is nothing to summarize.
var ErrNoRuns = errors.New("no runs to report")

// Format selects the output rendering.
type Format int

const (
	ASCII Format = iota
	Markdown
	JSON
)

// ParseFormat converts a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "ascii", "text":
		return ASCII, nil
	case "markdown", "md":
		return Markdown, nil
	case "json":
		return JSON, nil
	default:
		return 0, fmt.Errorf("unknown report format %q (use ascii, markdown or json)", s)
	}
}

// Run is one persisted run report.
type Run struct {
	Run    int            `json:"run"`
	Path   string         `json:"path"`
	Report measure.Report `json:"report"`
	// Outcome is the verification line; empty when loaded from disk.
	Outcome string `json:"outcome,omitempty"`
}

var reportName = regexp.MustCompile(`^results-(\d+)\.json$`)

// Load reads every results-<run>.json in dir, ordered by run number.
func Load(dir string) ([]Run, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}

	var runs []Run
	for _, e := range entries {
		m := reportName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		path := filepath.Join(dir, e.Name())
		rep, err := measure.Load(path)
		if err != nil {
			return nil, err
		}

		runs = append(runs, Run{Run: n, Path: path, Report: rep})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Run < runs[j].Run })

	return runs, nil
}

// Write renders runs in the given format.
func Write(w io.Writer, title string, runs []Run, f Format) error {
	if f == JSON {
		return GenerateJSON(w, title, runs)
	}

	return Generate(w, title, runs, f)
}

// Generate writes the latency, per-stage and bandwidth tables for runs.
func Generate(w io.Writer, title string, runs []Run, f Format) error {
	if len(runs) == 0 {
		return ErrNoRuns
	}

	if f == Markdown {
		fmt.Fprintf(w, "## Benchmark Results: %s\n\n", title)
	} else {
		fmt.Fprintf(w, "Benchmark results: %s\n\n", title)
	}

	fastest := findFastest(runs)

	latency := newTable(f)
	latency.AppendHeader(table.Row{"Run", "Total latency", "vs fastest", "Verification"})
	for _, r := range runs {
		ratio := 1.0
		if fastest > 0 {
			ratio = r.Report.TotalLatencyMs / fastest
		}

		latency.AppendRow(table.Row{r.Run, formatMs(r.Report.TotalLatencyMs), fmt.Sprintf("%.2fx", ratio), orDash(r.Outcome)})
	}
	if len(runs) > 1 {
		st := latencyStats(runs)
		latency.AppendFooter(table.Row{"mean", formatMs(st.mean), "", fmt.Sprintf("min %s / max %s", formatMs(st.min), formatMs(st.max))})
	}
	latency.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	fmt.Fprintln(w, render(latency, f))
	fmt.Fprintln(w)

	stages := newTable(f)
	stages.AppendHeader(runHeader("Stage", runs))
	for _, name := range stageNames(runs) {
		row := table.Row{name}
		for _, r := range runs {
			row = append(row, orDash(r.Report.PerStage[name]))
		}
		stages.AppendRow(row)
	}
	fmt.Fprintln(w, render(stages, f))
	fmt.Fprintln(w)

	bandwidth := newTable(f)
	bandwidth.AppendHeader(runHeader("Artifact", runs))
	for _, name := range bandwidthNames(runs) {
		row := table.Row{name}
		for _, r := range runs {
			row = append(row, orDash(r.Report.Bandwidth[name]))
		}
		bandwidth.AppendRow(row)
	}
	fmt.Fprintln(w, render(bandwidth, f))

	return nil
}

// GenerateJSON writes runs as JSON to w.
func GenerateJSON(w io.Writer, title string, runs []Run) error {
	if len(runs) == 0 {
		return ErrNoRuns
	}

	st := latencyStats(runs)
	out := struct {
		Title         string  `json:"title"`
		MeanLatencyMs float64 `json:"mean_latency_ms"`
		MinLatencyMs  float64 `json:"min_latency_ms"`
		MaxLatencyMs  float64 `json:"max_latency_ms"`
		Runs          []Run   `json:"runs"`
	}{title, st.mean, st.min, st.max, runs}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func newTable(f Format) table.Writer {
	t := table.NewWriter()
	if f == ASCII {
		t.SetStyle(table.StyleLight)
	}

	return t
}

func runHeader(first string, runs []Run) table.Row {
	row := table.Row{first}
	for _, r := range runs {
		row = append(row, fmt.Sprintf("Run %d", r.Run))
	}

	return row
}

func render(t table.Writer, f Format) string {
	if f == Markdown {
		return t.RenderMarkdown()
	}

	return t.Render()
}

type stats struct {
	mean, min, max float64
}

func latencyStats(runs []Run) stats {
	st := stats{min: math.Inf(1), max: math.Inf(-1)}
	for _, r := range runs {
		v := r.Report.TotalLatencyMs
		st.mean += v
		st.min = min(st.min, v)
		st.max = max(st.max, v)
	}
	st.mean /= float64(len(runs))

	return st
}

func findFastest(runs []Run) float64 {
	fastest := math.Inf(1)
	for _, r := range runs {
		if v := r.Report.TotalLatencyMs; v > 0 && v < fastest {
			fastest = v
		}
	}

	if math.IsInf(fastest, 1) {
		return 0
	}

	return fastest
}

// stageNames returns the known stages in execution order followed by any
// other recorded stage, sorted.
func stageNames(runs []Run) []string {
	seen := make(map[string]bool)
	for _, r := range runs {
		for name := range r.Report.PerStage {
			seen[name] = true
		}
	}

	var out []string
	for _, name := range pipeline.StageOrder {
		if seen[name] {
			out = append(out, name)
			delete(seen, name)
		}
	}

	rest := make([]string, 0, len(seen))
	for name := range seen {
		rest = append(rest, name)
	}
	slices.Sort(rest)

	return append(out, rest...)
}

func bandwidthNames(runs []Run) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range []string{pipeline.SizeKeys, pipeline.SizeEncryptedDB, pipeline.SizeEncryptedQuery} {
		seen[name] = true
		for _, r := range runs {
			if _, ok := r.Report.Bandwidth[name]; ok {
				out = append(out, name)
				break
			}
		}
	}

	var rest []string
	for _, r := range runs {
		for name := range r.Report.Bandwidth {
			if !seen[name] {
				seen[name] = true
				rest = append(rest, name)
			}
		}
	}
	slices.Sort(rest)

	return append(out, rest...)
}

func formatMs(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	if d < time.Second {
		return fmt.Sprintf("%.1fms", ms)
	}

	return fmt.Sprintf("%.2fs", d.Seconds())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
