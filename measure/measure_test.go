package measure

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0.0B"},
		{512, "512.0B"},
		{1024, "1.0K"},
		{1536, "1.5K"},
		{1048576, "1.0M"},
		{1073741824, "1.0G"},
		{1 << 50, "1.0P"},
	}

	for _, tt := range tests {
		got := HumanSize(tt.input)
		if got != tt.want {
			t.Errorf("HumanSize(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0.5s"},
		{1234567 * time.Microsecond, "1.2346s"},
		{60 * time.Second, "60s"},
	}

	for _, tt := range tests {
		got := FormatSeconds(tt.input)
		if got != tt.want {
			t.Errorf("FormatSeconds(%v) = %q, want %q", tt.input, got, tt.want)
		}

		back, err := ParseSeconds(got)
		if err != nil {
			t.Fatalf("ParseSeconds(%q) failed: %v", got, err)
		}
		if diff := back - tt.input; diff > time.Millisecond || diff < -time.Millisecond {
			t.Errorf("ParseSeconds(%q) = %v, want ~%v", got, back, tt.input)
		}
	}
}

func TestForkIsIndependent(t *testing.T) {
	setup := NewLog()
	setup.AddStage(StageRecord{Name: "Dataset generation", Elapsed: time.Second, Success: true})
	setup.AddSize("Encrypted database", 2048)

	run1 := setup.Fork()
	run1.AddStage(StageRecord{Name: "Query generation", Elapsed: time.Second, Success: true})

	run2 := setup.Fork()

	if got := len(setup.Stages()); got != 1 {
		t.Errorf("setup stages = %d, want 1", got)
	}
	if got := len(run1.Stages()); got != 2 {
		t.Errorf("run1 stages = %d, want 2", got)
	}
	if got := len(run2.Stages()); got != 1 {
		t.Errorf("run2 stages = %d, want 1", got)
	}
	if got := len(run2.Sizes()); got != 1 {
		t.Errorf("run2 sizes = %d, want 1", got)
	}
}

func TestReport(t *testing.T) {
	l := NewLog()
	l.AddStage(StageRecord{Name: "Key Generation", Elapsed: 1500 * time.Millisecond, Success: true})
	l.AddStage(StageRecord{Name: "Encrypted computation", Elapsed: 250 * time.Millisecond, Success: true})
	l.AddSize("Encrypted query", 1536)

	r := l.Report()

	if r.TotalLatencyMs != 1750 {
		t.Errorf("total latency = %v, want 1750", r.TotalLatencyMs)
	}
	if r.PerStage["Key Generation"] != "1.5s" {
		t.Errorf("per_stage[Key Generation] = %q, want 1.5s", r.PerStage["Key Generation"])
	}
	if r.Bandwidth["Encrypted query"] != "1.5K" {
		t.Errorf("bandwidth[Encrypted query] = %q, want 1.5K", r.Bandwidth["Encrypted query"])
	}
}

func TestSaveLoad(t *testing.T) {
	l := NewLog()
	l.AddStage(StageRecord{Name: "Query encryption", Elapsed: 2 * time.Second, Success: true})
	l.AddSize("Public and evaluation keys", 1<<20)

	path := filepath.Join(t.TempDir(), "measurements", "toy", "results-1.json")
	if err := l.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if r.TotalLatencyMs != 2000 {
		t.Errorf("total latency = %v, want 2000", r.TotalLatencyMs)
	}
	if r.PerStage["Query encryption"] != "2s" {
		t.Errorf("per_stage = %v", r.PerStage)
	}
	if r.Bandwidth["Public and evaluation keys"] != "1.0M" {
		t.Errorf("bandwidth = %v", r.Bandwidth)
	}
}
