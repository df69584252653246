// Package instance maps benchmark size classes to their fixed parameters
// and to the on-disk directory layout used by every stage.
package instance

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrInvalidSize is returned for a size outside toy..large.
var ErrInvalidSize = errors.New("invalid instance size")

// Size selects the benchmark scale.
type Size int

const (
	Toy Size = iota
	Small
	Medium
	Large
)

const (
	// PayloadDim is the number of int16 fields in one payload record.
	PayloadDim = 7
	// PayloadMax is the exclusive upper bound of payload field values.
	PayloadMax = 4096
)

// Indexed by Size.
var (
	names      = [...]string{"toy", "small", "medium", "large"}
	recordDims = [...]int{128, 128, 256, 512}
	dbSizes    = [...]int{1000, 50000, 1000000, 20000000}
)

// Parse converts a CLI integer into a Size.
func Parse(n int) (Size, error) {
	s := Size(n)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d (must be 0-toy, 1-small, 2-medium or 3-large)",
			ErrInvalidSize, n)
	}

	return s, nil
}

// Valid reports whether s is one of the defined sizes.
func (s Size) Valid() bool {
	return s >= Toy && s <= Large
}

func (s Size) String() string {
	if !s.Valid() {
		return "unknown"
	}

	return names[s]
}

// Params holds the fixed parameters of one size class.
type Params struct {
	Size      Size
	RecordDim int
	DBSize    int
}

// Params returns the record dimension and database cardinality for s.
func (s Size) Params() (Params, error) {
	if !s.Valid() {
		return Params{}, fmt.Errorf("%w: %d", ErrInvalidSize, int(s))
	}

	return Params{
		Size:      s,
		RecordDim: recordDims[s],
		DBSize:    dbSizes[s],
	}, nil
}

// NumCenters is the number of cluster centers generated for the dataset.
func (p Params) NumCenters() int {
	return max(1, p.DBSize/32)
}

// Layout is the directory layout for one size under a root directory.
type Layout struct {
	Size Size
	Root string
	// DatasetDir persists across invocations of the same size.
	DatasetDir string
	// IODir is wiped at the start of every invocation.
	IODir string
	// MeasureDir holds the per-run measurement reports.
	MeasureDir string
}

// NewLayout derives the dataset, I/O and measurement roots for size.
func NewLayout(root string, size Size) (Layout, error) {
	if !size.Valid() {
		return Layout{}, fmt.Errorf("%w: %d", ErrInvalidSize, int(size))
	}

	name := size.String()

	return Layout{
		Size:       size,
		Root:       root,
		DatasetDir: filepath.Join(root, "datasets", name),
		IODir:      filepath.Join(root, "io", name),
		MeasureDir: filepath.Join(root, "measurements", name),
	}, nil
}
