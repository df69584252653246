// Package verify compares a submission's result file against the
// cleartext reference output.
package verify

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/weiihann/fetchsim/instance"
)

// DefaultSkipThreshold is the largest expected match count that is still
// compared tuple by tuple.
const DefaultSkipThreshold = 32

const (
	wordBytes   = 8
	tupleBytes  = instance.PayloadDim * 2
	payloadDims = instance.PayloadDim
)

// ErrCorrupt is returned when a file's length does not fit its declared shape.
var ErrCorrupt = errors.New("artifact corrupt")

// Status is the verdict of one verification.
type Status int

const (
	Pass Status = iota
	Fail
	SkippedTooLarge
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case SkippedTooLarge:
		return "SKIPPED-TOO-LARGE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of comparing one expected/result pair.
type Outcome struct {
	Status Status
	Detail string
}

// OK reports whether the outcome counts as a pass for automation.
func (o Outcome) OK() bool {
	return o.Status == Pass || o.Status == SkippedTooLarge
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s (%s)", o.Status, o.Detail)
}

// Tuple is one payload record.
type Tuple [payloadDims]int16

// Oracle holds the verification policy.
type Oracle struct {
	SkipThreshold int
}

// New returns an Oracle with the default threshold.
func New() Oracle {
	return Oracle{SkipThreshold: DefaultSkipThreshold}
}

// VerifyFiles reads both files and calls Verify.
func (o Oracle) VerifyFiles(expectedPath, resultPath string, countOnly bool) (Outcome, error) {
	expected, err := os.ReadFile(expectedPath)
	if err != nil {
		return failed("cannot read expected file"), fmt.Errorf("read expected %s: %w", expectedPath, err)
	}

	result, err := os.ReadFile(resultPath)
	if err != nil {
		return failed("cannot read result file"), fmt.Errorf("read result %s: %w", resultPath, err)
	}

	return o.Verify(expected, result, countOnly)
}

// Verify compares raw expected and result bytes. A non-nil error always
// comes with a Fail outcome so the caller can record it.
func (o Oracle) Verify(expected, result []byte, countOnly bool) (Outcome, error) {
	if countOnly {
		return verifyCount(expected, result)
	}

	want, err := DecodeTuples(expected)
	if err != nil {
		return failed("malformed expected payloads"), fmt.Errorf("expected: %w", err)
	}

	if len(want) > o.SkipThreshold {
		return Outcome{
			Status: SkippedTooLarge,
			Detail: fmt.Sprintf("Too many matches: %d > %d, skipping detailed comparison",
				len(want), o.SkipThreshold),
		}, nil
	}

	got, err := DecodeTuples(result)
	if err != nil {
		return failed("malformed result payloads"), fmt.Errorf("result: %w", err)
	}

	if len(want) != len(got) {
		return failed(fmt.Sprintf("Expected %d payloads, got %d", len(want), len(got))), nil
	}

	for i := range want {
		if want[i] != got[i] {
			return failed(fmt.Sprintf("Payload %d mismatch: expected %v, got %v",
				i, want[i], got[i])), nil
		}
	}

	return Outcome{
		Status: Pass,
		Detail: fmt.Sprintf("All %d payload vectors match", len(want)),
	}, nil
}

func verifyCount(expected, result []byte) (Outcome, error) {
	want, err := DecodeCount(expected)
	if err != nil {
		return failed("malformed expected counter"), fmt.Errorf("expected: %w", err)
	}

	got, err := DecodeCount(result)
	if err != nil {
		return failed("malformed result counter"), fmt.Errorf("result: %w", err)
	}

	if want != got {
		return failed(fmt.Sprintf("expected %d but found %d", want, got)), nil
	}

	return Outcome{Status: Pass, Detail: fmt.Sprintf("result=%d", want)}, nil
}

func failed(detail string) Outcome {
	return Outcome{Status: Fail, Detail: detail}
}

// DecodeCount parses a single little-endian 64-bit counter.
func DecodeCount(b []byte) (int64, error) {
	if len(b) != wordBytes {
		return 0, fmt.Errorf("%w: counter is %d bytes, want %d", ErrCorrupt, len(b), wordBytes)
	}

	return int64(binary.LittleEndian.Uint64(b)), nil
}

// EncodeCount is the inverse of DecodeCount.
func EncodeCount(n int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(n))
}

// DecodeTuples reshapes a flat little-endian int16 sequence into tuples.
func DecodeTuples(b []byte) ([]Tuple, error) {
	if len(b)%tupleBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d",
			ErrCorrupt, len(b), tupleBytes)
	}

	out := make([]Tuple, len(b)/tupleBytes)
	for i := range out {
		rec := b[i*tupleBytes:]
		for j := range out[i] {
			out[i][j] = int16(binary.LittleEndian.Uint16(rec[j*2:]))
		}
	}

	return out, nil
}

// EncodeTuples is the inverse of DecodeTuples.
func EncodeTuples(ts []Tuple) []byte {
	out := make([]byte, 0, len(ts)*tupleBytes)
	for _, t := range ts {
		for _, v := range t {
			out = binary.LittleEndian.AppendUint16(out, uint16(v))
		}
	}

	return out
}

// Compare orders tuples lexicographically, field 0 first.
func Compare(a, b Tuple) int {
	return slices.Compare(a[:], b[:])
}

// SortTuples puts ts into the canonical order of expected outputs.
func SortTuples(ts []Tuple) {
	slices.SortFunc(ts, Compare)
}
