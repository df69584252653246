package workload

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/weiihann/fetchsim/artifact"
	"github.com/weiihann/fetchsim/instance"
	"github.com/weiihann/fetchsim/verify"
)

// MatchThreshold is the similarity above which a record matches the query.
const MatchThreshold = 0.8

// GenerateDatasetFiles writes db.bin, centers.bin and payloads.bin into the
// dataset directory of store.
func GenerateDatasetFiles(store *artifact.Store, params instance.Params, seed *int64) (Summary, error) {
	if err := os.MkdirAll(store.Layout().DatasetDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create dataset dir: %w", err)
	}

	db, err := os.Create(store.Path(artifact.DB))
	if err != nil {
		return Summary{}, fmt.Errorf("create db: %w", err)
	}
	defer db.Close()

	centers, err := os.Create(store.Path(artifact.Centers))
	if err != nil {
		return Summary{}, fmt.Errorf("create centers: %w", err)
	}
	defer centers.Close()

	payloads, err := os.Create(store.Path(artifact.Payloads))
	if err != nil {
		return Summary{}, fmt.Errorf("create payloads: %w", err)
	}
	defer payloads.Close()

	summary, err := NewGenerator(params, seed).GenerateDataset(db, centers, payloads)
	if err != nil {
		return summary, err
	}

	for _, f := range []*os.File{db, centers, payloads} {
		if err := f.Close(); err != nil {
			return summary, fmt.Errorf("close %s: %w", f.Name(), err)
		}
	}

	return summary, nil
}

// GenerateQueryFile reads centers.bin and writes a fresh query.bin.
func GenerateQueryFile(store *artifact.Store, params instance.Params, seed *int64) error {
	centers, err := ReadFloat32File(store.Path(artifact.Centers))
	if err != nil {
		return err
	}

	if len(centers)%params.RecordDim != 0 {
		return fmt.Errorf("%w: centers length %d is not a multiple of %d",
			verify.ErrCorrupt, len(centers), params.RecordDim)
	}

	q := NewGenerator(params, seed).Query(centers)

	if err := os.WriteFile(store.Path(artifact.Query), appendFloat32s(nil, q), 0o644); err != nil {
		return fmt.Errorf("write query: %w", err)
	}

	return nil
}

// ComputeExpected runs the cleartext reference over the dataset and query
// and writes expected.bin: a match counter in count mode, otherwise the
// sorted matching payloads. It returns the number of matches.
func ComputeExpected(store *artifact.Store, params instance.Params, countOnly bool) (int, error) {
	query, err := ReadFloat32File(store.Path(artifact.Query))
	if err != nil {
		return 0, err
	}
	if len(query) != params.RecordDim {
		return 0, fmt.Errorf("%w: query has %d values, want %d",
			verify.ErrCorrupt, len(query), params.RecordDim)
	}

	dbFile, err := os.Open(store.Path(artifact.DB))
	if err != nil {
		return 0, fmt.Errorf("open db: %w", err)
	}
	defer dbFile.Close()

	var payloads *bufio.Reader
	if !countOnly {
		pf, err := os.Open(store.Path(artifact.Payloads))
		if err != nil {
			return 0, fmt.Errorf("open payloads: %w", err)
		}
		defer pf.Close()

		payloads = bufio.NewReader(pf)
	}

	db := bufio.NewReader(dbFile)
	rowBuf := make([]byte, params.RecordDim*4)
	row := make([]float32, params.RecordDim)
	recBuf := make([]byte, instance.PayloadDim*2)

	var (
		count   int
		matches []verify.Tuple
	)

	for i := 0; ; i++ {
		if _, err := io.ReadFull(db, rowBuf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return 0, fmt.Errorf("%w: db row %d: %v", verify.ErrCorrupt, i, err)
		}
		decodeFloat32s(row, rowBuf)

		var rec verify.Tuple
		if payloads != nil {
			if _, err := io.ReadFull(payloads, recBuf); err != nil {
				return 0, fmt.Errorf("%w: payload %d: %v", verify.ErrCorrupt, i, err)
			}
			for j := range rec {
				rec[j] = int16(binary.LittleEndian.Uint16(recBuf[j*2:]))
			}
		}

		if Dot(row, query) > MatchThreshold {
			count++
			if payloads != nil {
				matches = append(matches, rec)
			}
		}
	}

	var out []byte
	if countOnly {
		out = verify.EncodeCount(int64(count))
	} else {
		verify.SortTuples(matches)
		out = verify.EncodeTuples(matches)
	}

	if err := os.WriteFile(store.Path(artifact.Expected), out, 0o644); err != nil {
		return 0, fmt.Errorf("write expected: %w", err)
	}

	return count, nil
}

// ReadFloat32File reads a headerless little-endian float32 file.
func ReadFloat32File(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", artifact.ErrMissing, path)
		}

		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %s has %d bytes", verify.ErrCorrupt, path, len(data))
	}

	out := make([]float32, len(data)/4)
	decodeFloat32s(out, data)

	return out, nil
}

func writeFloat32s(w io.Writer, v []float32) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(appendFloat32s(nil, v)); err != nil {
		return err
	}

	return bw.Flush()
}

func appendFloat32s(dst []byte, v []float32) []byte {
	for _, x := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(x))
	}

	return dst
}

func decodeFloat32s(dst []float32, b []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}
