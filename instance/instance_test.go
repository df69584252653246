package instance

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParams(t *testing.T) {
	tests := []struct {
		size   Size
		name   string
		dim    int
		dbSize int
	}{
		{Toy, "toy", 128, 1000},
		{Small, "small", 128, 50000},
		{Medium, "medium", 256, 1000000},
		{Large, "large", 512, 20000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.size.Params()
			if err != nil {
				t.Fatalf("Params failed: %v", err)
			}

			if tt.size.String() != tt.name {
				t.Errorf("name = %q, want %q", tt.size.String(), tt.name)
			}
			if p.RecordDim != tt.dim {
				t.Errorf("record dim = %d, want %d", p.RecordDim, tt.dim)
			}
			if p.DBSize != tt.dbSize {
				t.Errorf("db size = %d, want %d", p.DBSize, tt.dbSize)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, n := range []int{-1, 4, 100} {
		if _, err := Parse(n); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Parse(%d) error = %v, want ErrInvalidSize", n, err)
		}
	}

	if _, err := Size(7).Params(); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Params error = %v, want ErrInvalidSize", err)
	}
	if Size(7).String() != "unknown" {
		t.Errorf("String() = %q, want unknown", Size(7).String())
	}
}

func TestNewLayout(t *testing.T) {
	l, err := NewLayout("/bench", Medium)
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	if want := filepath.Join("/bench", "datasets", "medium"); l.DatasetDir != want {
		t.Errorf("dataset dir = %q, want %q", l.DatasetDir, want)
	}
	if want := filepath.Join("/bench", "io", "medium"); l.IODir != want {
		t.Errorf("io dir = %q, want %q", l.IODir, want)
	}
	if want := filepath.Join("/bench", "measurements", "medium"); l.MeasureDir != want {
		t.Errorf("measure dir = %q, want %q", l.MeasureDir, want)
	}

	if _, err := NewLayout("/bench", Size(-2)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("NewLayout error = %v, want ErrInvalidSize", err)
	}
}

func TestNumCenters(t *testing.T) {
	tests := []struct {
		dbSize int
		want   int
	}{
		{1000, 31},
		{50000, 1562},
		{10, 1},
		{0, 1},
	}

	for _, tt := range tests {
		got := Params{DBSize: tt.dbSize}.NumCenters()
		if got != tt.want {
			t.Errorf("NumCenters(%d) = %d, want %d", tt.dbSize, got, tt.want)
		}
	}
}
