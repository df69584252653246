package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a stage would run out of order.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// State is the last completed step of the pipeline.
type State int

const (
	Idle State = iota
	Init
	DatasetGenerated
	DatasetPreprocessed
	KeysGenerated
	DbEncrypted
	EncryptedDbPreprocessed
	QueryGenerated
	QueryEncrypted
	ComputedEncrypted
	Decrypted
	Postprocessed
	Verified
	Done
)

var stateNames = [...]string{
	"Idle",
	"Init",
	"DatasetGenerated",
	"DatasetPreprocessed",
	"KeysGenerated",
	"DbEncrypted",
	"EncryptedDbPreprocessed",
	"QueryGenerated",
	"QueryEncrypted",
	"ComputedEncrypted",
	"Decrypted",
	"Postprocessed",
	"Verified",
	"Done",
}

func (s State) String() string {
	if s < Idle || s > Done {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// allowed reports whether to may directly follow from. The run loop
// re-enters QueryGenerated after each verification.
func allowed(from, to State) bool {
	switch from {
	case EncryptedDbPreprocessed, Verified:
		return to == QueryGenerated || to == Done
	case Done:
		return false
	default:
		return to == from+1
	}
}

// transition validates and applies a state change.
func transition(cur *State, to State) error {
	if !allowed(*cur, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *cur, to)
	}
	*cur = to

	return nil
}
