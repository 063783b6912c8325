package flashmap

import (
	"errors"
	"fmt"
)

// Kind classifies an Error the way spec.md §7 enumerates error kinds.
type Kind int

const (
	// KindFullStorage means a single item cannot fit, or the region is
	// full of live data and has nowhere left to rotate into.
	KindFullStorage Kind = iota
	// KindStorage means the flash backend reported a bounds, alignment,
	// physical, or early-shutoff error.
	KindStorage
	// KindCorrupted means an on-flash invariant that must never occur
	// under the power-loss model was violated.
	KindCorrupted
	// KindItem means the caller's item codec rejected a buffer.
	KindItem
)

func (k Kind) String() string {
	switch k {
	case KindFullStorage:
		return "FullStorage"
	case KindStorage:
		return "Storage"
	case KindCorrupted:
		return "Corrupted"
	case KindItem:
		return "Item"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the engine's error type. It always carries a Kind and an
// underlying cause (ErrFullStorage for FullStorage).
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrFullStorage is returned (wrapped in an *Error) when a single item
// exceeds what an empty page can hold, or the store has no space left
// for a novel key.
var ErrFullStorage = errors.New("flashmap: full storage")

// fullStorage builds the canonical FullStorage error.
func fullStorage() error {
	return &Error{Kind: KindFullStorage, Cause: ErrFullStorage}
}

// storageErr wraps a flash-backend error as a KindStorage Error.
func storageErr(cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Cause: cause}
}

// corrupted builds a KindCorrupted error. Reaching this from a sequence
// of legal backend outcomes is a bug in the engine or a non-compliant
// backend — spec.md §7 says it must never be reachable otherwise.
func corrupted(cause error) error {
	return &Error{Kind: KindCorrupted, Cause: cause}
}

// itemErr wraps an ItemCodec error as a KindItem Error.
func itemErr(cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindItem, Cause: cause}
}

// IsEarlyShutoff reports whether err is (or wraps) an EarlyShutoff
// condition reported by the flash backend.
func IsEarlyShutoff(err error) bool {
	var es EarlyShutoffError
	return errors.As(err, &es)
}

// EarlyShutoffError models a backend-reported partial write or erase —
// the simulated equivalent of power loss mid-operation. Progress is the
// number of whole words the backend managed to commit before cutting
// off; callers tolerate any value from 0 up to (but not including) the
// full operation length.
type EarlyShutoffError struct {
	Progress int
}

func (e EarlyShutoffError) Error() string {
	return fmt.Sprintf("flash: early shutoff after %d word(s)", e.Progress)
}

// ErrOutOfBounds is returned by a Flash backend when an access falls
// outside its address space.
var ErrOutOfBounds = errors.New("flash: out of bounds")

// ErrNotAligned is returned by a Flash backend when an access is not
// word-aligned or not a whole number of words.
var ErrNotAligned = errors.New("flash: not word-aligned")

// ErrWriteViolation is returned by a Flash backend when a write would
// set a bit from 0 to 1 outside of an erase.
var ErrWriteViolation = errors.New("flash: write would set a bit (requires erase)")

// ErrScratchTooSmall is a caller contract violation (spec.md §9 Open
// Questions): the scratch buffer is smaller than the item that was
// asked to be serialized into it. It is not a flash error; StoreItem
// reports it wrapped in a KindItem Error rather than silently
// truncating.
var ErrScratchTooSmall = errors.New("flashmap: scratch buffer smaller than item")

// errFrameNeverWritten is the cause wrapped into a Corrupted error when
// markTombstone is asked to tombstone a slot whose length word is still
// erased — a caller/engine bug, since only written frames are tombstoned.
var errFrameNeverWritten = errors.New("flashmap: cannot tombstone an unwritten frame")
