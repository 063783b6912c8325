// Package flashmap implements a log-structured key-value store for
// NOR-flash-like devices on resource-constrained embedded systems.
//
// The store operates within a bounded, page-aligned region of flash and
// provides durable StoreItem/FetchItem/RemoveItem operations over small
// keys and small values, without a filesystem or a background
// goroutine. Operations allocate small temporary buffers as they read
// and write frames. Each Store holds its own flash backend, geometry,
// cache, and codec, and StoreItem takes its scratch buffer from the
// caller — there is no package-level state, so multiple independent
// regions can coexist in one process.
//
// The region is divided into a fixed number of equally sized pages.
// Exactly one page is the active append target at a time; items are
// appended to it until it is full, at which point the engine rotates to
// the next page, reclaiming the oldest closed page's live items via
// garbage collection when the ring runs out of erased pages. Page
// headers use write-once marker words so that a power loss mid-write
// leaves a state recovery can always interpret; item frames carry a
// length, a CRC, and a tombstone marker for the same reason.
package flashmap

import "fmt"

// Flash is the contract a caller implements to let the engine drive
// real hardware, or a test double, such as a mock with simulated power
// loss. All addresses passed to Flash methods are absolute byte offsets
// from the start of the flash device, not relative to a Geometry range.
type Flash interface {
	// WordSize returns the atomic write unit in bytes (commonly 1, 4, or 8).
	WordSize() int
	// PageSize returns the size of one erase unit in bytes.
	PageSize() int
	// PageCount returns the total number of pages on the device.
	PageCount() int

	// ReadAt reads len(buf) bytes starting at off. Infallible except for
	// ErrOutOfBounds.
	ReadAt(off uint32, buf []byte) error

	// WriteAt writes buf at off. off and len(buf) must be word-aligned
	// and a whole number of words, or ErrNotAligned is returned. The
	// destination must currently be erased, or the write must only
	// clear bits (1->0) relative to the current contents; violations
	// return ErrWriteViolation. A backend may fail mid-write with an
	// EarlyShutoffError simulating power loss; whole words before the
	// failure point are guaranteed committed, anything at or after it
	// is unspecified.
	WriteAt(off uint32, buf []byte) error

	// Erase sets an entire page to the erased pattern (all ones) in one
	// shot. It may fail mid-erase with an EarlyShutoffError, in which
	// case some words are erased and others are not.
	Erase(page int) error
}

// Geometry describes the page-aligned region of a Flash device the
// engine is allowed to use. It is derived once, validated, and then
// passed alongside the Flash backend to every operation — the same
// "config struct with defaults resolved at the boundary" shape as
// tinySQL's PagerConfig/PageBackendConfig.
type Geometry struct {
	// Base is the first byte address of the managed region.
	Base uint32
	// PageCount is the number of equally sized pages in the region (>= 2).
	PageCount int
}

// End returns the first address past the managed region.
func (g Geometry) End(f Flash) uint32 {
	return g.Base + uint32(g.PageCount*f.PageSize())
}

// NewGeometry validates range against the backend's word/page size and
// returns a Geometry. The range must be whole-page-aligned, cover at
// least two pages, and fall within the backend's address space.
func NewGeometry(f Flash, base uint32, end uint32) (Geometry, error) {
	ps := uint32(f.PageSize())
	if ps == 0 || f.WordSize() == 0 {
		return Geometry{}, corrupted(fmt.Errorf("flash backend reports zero page/word size"))
	}
	if end <= base {
		return Geometry{}, storageErr(fmt.Errorf("%w: empty or inverted range [%d, %d)", ErrOutOfBounds, base, end))
	}
	if base%ps != 0 || end%ps != 0 {
		return Geometry{}, storageErr(fmt.Errorf("%w: range [%d, %d) not page-aligned (page size %d)", ErrNotAligned, base, end, ps))
	}
	count := int((end - base) / ps)
	if count < 2 {
		return Geometry{}, storageErr(fmt.Errorf("%w: range covers %d page(s), need >= 2", ErrOutOfBounds, count))
	}
	if int(base/ps)+count > f.PageCount() {
		return Geometry{}, storageErr(fmt.Errorf("%w: range exceeds backend's %d pages", ErrOutOfBounds, f.PageCount()))
	}
	return Geometry{Base: base, PageCount: count}, nil
}

// pageOffset returns the absolute flash address of the start of page p
// (p is an index local to the geometry, in [0, PageCount)).
func (g Geometry) pageOffset(f Flash, p int) uint32 {
	return g.Base + uint32(p*f.PageSize())
}

// nextPage returns the next page index in rotation order, wrapping from
// PageCount-1 back to 0.
func (g Geometry) nextPage(p int) int {
	return (p + 1) % g.PageCount
}

// bodyOffset returns the absolute flash address where page p's item log
// begins, i.e. immediately after the two header marker words.
func (g Geometry) bodyOffset(f Flash, p int) uint32 {
	return g.pageOffset(f, p) + uint32(2*f.WordSize())
}

// bodySize returns the number of bytes available for items in a page.
func (g Geometry) bodySize(f Flash) int {
	return f.PageSize() - 2*f.WordSize()
}

// roundUpWord rounds n up to the next multiple of the backend's word size.
func roundUpWord(f Flash, n int) int {
	w := f.WordSize()
	if n%w == 0 {
		return n
	}
	return n + (w - n%w)
}
