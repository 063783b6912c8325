package flashmap

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Page header — two write-once marker words
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (grounded on tinySQL's pager/page.go header-as-monotone-writes
// convention, simplified to the two single-word markers spec.md §3
// describes — there is no per-page LSN/CRC/type here, because a page's
// state is entirely derived from these two words):
//
//	[0 : wordSize)    open marker word
//	[wordSize : 2*wordSize)  close marker word
//	[2*wordSize : pageSize)  item body (§4.C, §4.D)
//
// A word reads as "erased" when every byte is 0xFF, and as "programmed"
// when it matches markerProgrammed exactly (all zero bytes). Both
// markers share one canonical programmed pattern because the two words
// are written independently and the transition erased->programmed is
// the only one that ever occurs for either of them — Erased(0xFF) ->
// programmed(0x00) only clears bits, so a torn write during the
// transition is always detectable by re-reading the word.

// PageState is the lifecycle state of a page, derived from its two
// marker words per spec.md §3.
type PageState int

const (
	// StateErased: both markers erased. Fully blank, ready to become
	// the next PartialOpen page.
	StateErased PageState = iota
	// StatePartialOpen: open marker programmed, close marker erased.
	// The active append target.
	StatePartialOpen
	// StateClosed: both markers programmed. Full or rotated away from.
	StateClosed
	// StateOpen: open marker erased, close marker programmed. A
	// transient state that should never survive recovery; its existence
	// means a page was closed before ever being opened, which recovery
	// treats as Corrupt.
	StateOpen
	// StateCorrupt: a marker word is neither the erased pattern nor the
	// canonical programmed pattern. Recovery erases pages in this state.
	StateCorrupt
)

func (s PageState) String() string {
	switch s {
	case StateErased:
		return "Erased"
	case StatePartialOpen:
		return "PartialOpen"
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateCorrupt:
		return "Corrupt"
	default:
		return "Unknown"
	}
}

// isAllOnes reports whether buf is the erased pattern.
func isAllOnes(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// isProgrammed reports whether buf matches the canonical programmed
// pattern (all zero bytes).
func isProgrammed(buf []byte) bool {
	for _, b := range buf {
		if b != 0x00 {
			return false
		}
	}
	return true
}

// markerWord classifies a single marker word's raw bytes.
type markerWord int

const (
	markerErased markerWord = iota
	markerProgrammed
	markerInvalid
)

func classifyMarker(buf []byte) markerWord {
	switch {
	case isAllOnes(buf):
		return markerErased
	case isProgrammed(buf):
		return markerProgrammed
	default:
		return markerInvalid
	}
}

// readState reads and classifies page p's two marker words.
func readState(f Flash, g Geometry, p int) (PageState, error) {
	w := f.WordSize()
	buf := make([]byte, 2*w)
	if err := f.ReadAt(g.pageOffset(f, p), buf); err != nil {
		return StateCorrupt, storageErr(err)
	}
	open := classifyMarker(buf[:w])
	closeM := classifyMarker(buf[w:])

	if open == markerInvalid || closeM == markerInvalid {
		return StateCorrupt, nil
	}
	switch {
	case open == markerErased && closeM == markerErased:
		return StateErased, nil
	case open == markerProgrammed && closeM == markerErased:
		return StatePartialOpen, nil
	case open == markerProgrammed && closeM == markerProgrammed:
		return StateClosed, nil
	default: // open erased, close programmed
		return StateOpen, nil
	}
}

// markOpen writes the open marker of page p. The page must currently be
// Erased; the write only clears bits.
func markOpen(f Flash, g Geometry, p int) error {
	w := f.WordSize()
	buf := make([]byte, w)
	if err := f.WriteAt(g.pageOffset(f, p), buf); err != nil {
		return storageErr(err)
	}
	return nil
}

// markClosed writes the close marker of page p. The page must currently
// be PartialOpen; the write only clears bits.
func markClosed(f Flash, g Geometry, p int) error {
	w := f.WordSize()
	buf := make([]byte, w)
	if err := f.WriteAt(g.pageOffset(f, p)+uint32(w), buf); err != nil {
		return storageErr(err)
	}
	return nil
}

// eraseAndVerify erases page p and reads back its header words to
// confirm the erase landed cleanly. A successful Erase call is
// expected to leave the whole page all-ones; if the header still
// disagrees afterward, the backend itself is misbehaving rather than
// anything recovery can reconcile by retrying.
func eraseAndVerify(f Flash, g Geometry, p int) error {
	if err := f.Erase(int(g.Base/uint32(f.PageSize())) + p); err != nil {
		return storageErr(err)
	}
	st, err := readState(f, g, p)
	if err != nil {
		return err
	}
	if st != StateErased {
		return corrupted(fmt.Errorf("flashmap: page %d not erased after Erase (state=%s)", p, st))
	}
	return nil
}
