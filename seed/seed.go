// Package seed derives reproducible per-stage sub-seeds from one master seed.
//
// Only the synthetic-data stages (dataset and query generation) consume
// sub-seeds. Cryptographic stages manage their own randomness and are never
// seeded by the harness.
package seed

import (
	"math/rand/v2"
	"strconv"
)

// Bound is the exclusive upper bound of every derived sub-seed.
const Bound = 0x7fffffff

// Deriver emits a deterministic sequence of sub-seeds. A nil *Deriver
// stands for "no master seed": it is inactive and must not be drawn from.
type Deriver struct {
	master int64
	rng    *rand.Rand
	drawn  int
}

// New seeds a Deriver's private generator once from master.
func New(master int64) *Deriver {
	return &Deriver{
		master: master,
		rng:    rand.New(rand.NewPCG(uint64(master), 0)),
	}
}

// FromOptional returns nil when master is nil.
func FromOptional(master *int64) *Deriver {
	if master == nil {
		return nil
	}

	return New(*master)
}

// Active reports whether sub-seeds are being derived for this invocation.
func (d *Deriver) Active() bool {
	return d != nil
}

// Master returns the master seed.
func (d *Deriver) Master() int64 {
	return d.master
}

// Drawn returns how many sub-seeds have been emitted so far.
func (d *Deriver) Drawn() int {
	if d == nil {
		return 0
	}

	return d.drawn
}

// Next returns the next sub-seed in [0, Bound).
func (d *Deriver) Next() int64 {
	d.drawn++

	return d.rng.Int64N(Bound)
}

// Args returns the "--seed N" arguments for the next randomized stage,
// or nil when d is inactive so the stage draws fresh entropy.
func Args(d *Deriver) []string {
	if !d.Active() {
		return nil
	}

	return []string{"--seed", strconv.FormatInt(d.Next(), 10)}
}
