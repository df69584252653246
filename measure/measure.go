// Package measure accumulates per-stage latency and per-artifact size for
// a single benchmark run and persists it as a JSON report.
package measure

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// StageRecord is the timing of one external stage invocation.
type StageRecord struct {
	Name    string
	Start   time.Time
	End     time.Time
	Elapsed time.Duration
	Success bool
}

// SizeEntry is the on-disk size of one named artifact.
type SizeEntry struct {
	Name  string
	Bytes int64
}

// Log is the measurement context of one run. It is not safe for
// concurrent use; stages run strictly one after another.
type Log struct {
	stages []StageRecord
	sizes  []SizeEntry
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Fork returns an independent copy of l. A run starts from a fork of the
// setup log so the one-time stages appear in every run's report.
func (l *Log) Fork() *Log {
	return &Log{
		stages: append([]StageRecord(nil), l.stages...),
		sizes:  append([]SizeEntry(nil), l.sizes...),
	}
}

// AddStage appends rec.
func (l *Log) AddStage(rec StageRecord) {
	l.stages = append(l.stages, rec)
}

// AddSize records the size of an artifact. A later entry with the same
// name replaces the earlier value in the report.
func (l *Log) AddSize(name string, bytes int64) {
	l.sizes = append(l.sizes, SizeEntry{Name: name, Bytes: bytes})
}

// Stages returns the stage records in the order they ran.
func (l *Log) Stages() []StageRecord {
	return append([]StageRecord(nil), l.stages...)
}

// Sizes returns the recorded sizes in the order they were measured.
func (l *Log) Sizes() []SizeEntry {
	return append([]SizeEntry(nil), l.sizes...)
}

// Total is the sum of all stage durations.
func (l *Log) Total() time.Duration {
	var total time.Duration
	for _, s := range l.stages {
		total += s.Elapsed
	}

	return total
}

// Report is the persisted form of a Log.
type Report struct {
	TotalLatencyMs float64           `json:"total_latency_ms"`
	PerStage       map[string]string `json:"per_stage"`
	Bandwidth      map[string]string `json:"bandwidth"`
}

// Report builds the JSON report of l.
func (l *Log) Report() Report {
	r := Report{
		TotalLatencyMs: round4(float64(l.Total()) / float64(time.Millisecond)),
		PerStage:       make(map[string]string, len(l.stages)),
		Bandwidth:      make(map[string]string, len(l.sizes)),
	}

	for _, s := range l.stages {
		r.PerStage[s.Name] = FormatSeconds(s.Elapsed)
	}

	for _, s := range l.sizes {
		r.Bandwidth[s.Name] = HumanSize(s.Bytes)
	}

	return r
}

// Save writes the report of l to path, creating parent directories.
func (l *Log) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create measurement dir: %w", err)
	}

	data, err := json.MarshalIndent(l.Report(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}

	return nil
}

// Load reads a report previously written by Save.
func Load(path string) (Report, error) {
	var r Report

	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report %s: %w", path, err)
	}

	return r, nil
}

// FormatSeconds renders d as seconds rounded to four decimals, e.g. "1.2345s".
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(round4(d.Seconds()), 'f', -1, 64) + "s"
}

// ParseSeconds is the inverse of FormatSeconds.
func ParseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0, fmt.Errorf("parse seconds %q: %w", s, err)
	}

	return time.Duration(v * float64(time.Second)), nil
}

// HumanSize formats a byte count with one decimal and a single-letter
// binary unit, e.g. "512.0B", "1.5K", "3.2G".
func HumanSize(b int64) string {
	units := []string{"B", "K", "M", "G", "T"}
	size := float64(b)

	for _, unit := range units {
		if size < 1024 {
			return fmt.Sprintf("%.1f%s", size, unit)
		}
		size /= 1024
	}

	return fmt.Sprintf("%.1fP", size)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
