// Package workload generates the synthetic fetch-by-similarity inputs: a
// clustered database of unit vectors with payloads, and query vectors that
// are either random or close to a cluster center.
package workload

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/weiihann/fetchsim/instance"
)

// Noise is the scale of the perturbation added to a center.
const Noise = 0.3

// Summary contains statistics about a generated dataset.
type Summary struct {
	Records   int
	Centers   int
	Clustered int
}

// Generator produces synthetic vectors for one instance size. It is
// deterministic when built with a seed.
type Generator struct {
	params instance.Params
	rng    *rand.Rand
}

// NewGenerator creates a Generator. A nil seed draws fresh entropy.
func NewGenerator(params instance.Params, seed *int64) *Generator {
	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(uint64(*seed), uint64(params.Size))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &Generator{params: params, rng: rand.New(src)}
}

// Centers returns numCenters random unit vectors, flattened row-major.
func (g *Generator) Centers() []float32 {
	dim := g.params.RecordDim
	centers := make([]float32, g.params.NumCenters()*dim)

	for i := 0; i < len(centers); i += dim {
		row := centers[i : i+dim]
		g.normal(row)
		normalize(row)
	}

	return centers
}

// GenerateDataset writes the centers, the database rows and the payloads.
// Each database row is a random unit vector with probability 1/2, and
// otherwise a random center plus scaled noise, renormalized.
func (g *Generator) GenerateDataset(db, centers, payloads io.Writer) (Summary, error) {
	dim := g.params.RecordDim
	cs := g.Centers()
	numCenters := len(cs) / dim

	summary := Summary{Records: g.params.DBSize, Centers: numCenters}

	if err := writeFloat32s(centers, cs); err != nil {
		return summary, fmt.Errorf("write centers: %w", err)
	}

	bw := bufio.NewWriter(db)
	row := make([]float32, dim)
	buf := make([]byte, 0, dim*4)

	for i := 0; i < g.params.DBSize; i++ {
		g.normal(row)

		if g.rng.IntN(2) == 0 {
			c := g.rng.IntN(numCenters)
			g.perturb(row, cs[c*dim:(c+1)*dim])
			summary.Clustered++
		}
		normalize(row)

		buf = appendFloat32s(buf[:0], row)
		if _, err := bw.Write(buf); err != nil {
			return summary, fmt.Errorf("write db row %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return summary, fmt.Errorf("flush db: %w", err)
	}

	if err := g.writePayloads(payloads); err != nil {
		return summary, err
	}

	return summary, nil
}

// Query returns a unit query vector: random with probability 1/2, and
// otherwise close to a random center.
func (g *Generator) Query(centers []float32) []float32 {
	dim := g.params.RecordDim
	q := make([]float32, dim)
	g.normal(q)

	if numCenters := len(centers) / dim; numCenters > 0 && g.rng.IntN(2) == 0 {
		c := g.rng.IntN(numCenters)
		g.perturb(q, centers[c*dim:(c+1)*dim])
	}
	normalize(q)

	return q
}

func (g *Generator) writePayloads(w io.Writer) error {
	bw := bufio.NewWriter(w)
	rec := make([]byte, 0, instance.PayloadDim*2)

	for i := 0; i < g.params.DBSize; i++ {
		rec = rec[:0]
		for j := 0; j < instance.PayloadDim; j++ {
			v := int16(g.rng.IntN(instance.PayloadMax))
			rec = binary.LittleEndian.AppendUint16(rec, uint16(v))
		}

		if _, err := bw.Write(rec); err != nil {
			return fmt.Errorf("write payload %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush payloads: %w", err)
	}

	return nil
}

func (g *Generator) normal(v []float32) {
	for i := range v {
		v[i] = float32(g.rng.NormFloat64())
	}
}

// perturb sets v to center + Noise * v/|v|.
func (g *Generator) perturb(v, center []float32) {
	n := norm(v)
	for i := range v {
		v[i] = center[i] + float32(Noise*float64(v[i])/n)
	}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}

func normalize(v []float32) {
	n := norm(v)
	if n == 0 {
		return
	}

	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}

// Dot is the inner product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}
