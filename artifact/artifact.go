// Package artifact defines the fixed on-disk contract shared between the
// harness and the external submission stages.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/weiihann/fetchsim/instance"
)

// ErrMissing is returned when an artifact that a stage should have
// produced does not exist.
var ErrMissing = errors.New("artifact missing")

// Kind names one artifact.
type Kind string

const (
	DB             Kind = "db"
	Centers        Kind = "centers"
	Payloads       Kind = "payloads"
	Query          Kind = "query"
	Expected       Kind = "expected"
	Keys           Kind = "keys"
	Encrypted      Kind = "encrypted"
	EncryptedQuery Kind = "encrypted-query"
	Results        Kind = "results"
)

// Store resolves artifact paths for one instance size.
type Store struct {
	layout instance.Layout
}

// NewStore creates a Store over layout.
func NewStore(layout instance.Layout) *Store {
	return &Store{layout: layout}
}

// Layout returns the underlying directory layout.
func (s *Store) Layout() instance.Layout {
	return s.layout
}

// Path returns the location of kind. Unknown kinds resolve under the I/O root.
func (s *Store) Path(kind Kind) string {
	data, io := s.layout.DatasetDir, s.layout.IODir

	switch kind {
	case DB:
		return filepath.Join(data, "db.bin")
	case Centers:
		return filepath.Join(data, "centers.bin")
	case Payloads:
		return filepath.Join(data, "payloads.bin")
	case Query:
		return filepath.Join(data, "query.bin")
	case Expected:
		return filepath.Join(data, "expected.bin")
	case Keys:
		return filepath.Join(io, "keys")
	case Encrypted:
		return filepath.Join(io, "encrypted")
	case EncryptedQuery:
		return filepath.Join(io, "encrypted", "query.bin")
	case Results:
		return filepath.Join(io, "results.bin")
	default:
		return filepath.Join(io, string(kind))
	}
}

// RunReportPath returns the measurement report location for a 1-based run.
func (s *Store) RunReportPath(run int) string {
	return filepath.Join(s.layout.MeasureDir, fmt.Sprintf("results-%d.json", run))
}

// Reset deletes and recreates the I/O root. A missing root is not an error.
func (s *Store) Reset() error {
	dir := s.layout.IODir

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clean io dir %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create io dir %s: %w", dir, err)
	}

	return nil
}

// Require fails with ErrMissing if kind does not exist on disk.
func (s *Store) Require(kind Kind) error {
	path := s.Path(kind)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s not found", ErrMissing, path)
		}

		return fmt.Errorf("stat %s: %w", path, err)
	}

	return nil
}

// SizeOf returns the size of a file, or the total size of the regular
// files under a directory.
func SizeOf(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s not found", ErrMissing, path)
		}

		return 0, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		return info.Size(), nil
	}

	var size int64

	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		size += fi.Size()

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", path, err)
	}

	return size, nil
}

// MissingDirectoryError reports a required collaborator directory that is
// absent from the working root.
type MissingDirectoryError struct {
	Name string
	Root string
}

func (e *MissingDirectoryError) Error() string {
	return fmt.Sprintf("required directory '%s' not found in %s", e.Name, e.Root)
}

// EnsureDirectories checks that every name exists as a directory under root.
func EnsureDirectories(root string, names ...string) error {
	for _, name := range names {
		info, err := os.Stat(filepath.Join(root, name))
		if err != nil || !info.IsDir() {
			return &MissingDirectoryError{Name: name, Root: root}
		}
	}

	return nil
}
