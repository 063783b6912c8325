package flashmap

// ───────────────────────────────────────────────────────────────────────────
// Page scanner — iterates item frames within one page's body
// ───────────────────────────────────────────────────────────────────────────
//
// A page's item log is a sequence of frames starting at bodyOffset and
// running until either an Erased frame is reached (free space) or a
// Corrupt one is (a torn write, which by construction can only be the
// last frame ever written to that page, since nothing is written past
// an early shutoff). Both ends the scan; the scanner never continues
// past Corrupt, matching the "logically the log stops where the write
// stopped" rule spec.md §4.D describes.

// scanEntry is one Present or Tombstone slot yielded during a page scan.
type scanEntry struct {
	offset  uint32 // absolute offset of the frame's length field
	outcome FrameOutcome
	payload []byte
}

// scanPage walks page p's frames from the start of its body, invoking
// visit for each Present or Tombstone frame encountered. It stops when
// it runs out of frames to read, returning the offset of the first
// Erased slot (a genuine resume point for further appends) together
// with corrupt=false, or — if the log ends in a torn write instead —
// the offset of that Corrupt frame together with corrupt=true. A
// Corrupt tail's length word is already programmed (non-erased), so
// that offset is NOT a legal append destination; callers that need a
// free-space answer (freeOffset) must treat corrupt=true as "no room
// left in this page" rather than resuming at the reported offset.
// visit returning false stops the scan early without that being an
// error.
func scanPage(f Flash, g Geometry, p int, visit func(scanEntry) bool) (offset uint32, corrupt bool, err error) {
	off := g.bodyOffset(f, p)
	end := g.pageOffset(f, p) + uint32(f.PageSize())
	for off < end {
		fr, ferr := readFrame(f, off)
		if ferr != nil {
			return 0, false, ferr
		}
		switch fr.outcome {
		case FrameErased:
			return off, false, nil
		case FrameCorrupt:
			// A torn write, and by construction the last frame ever
			// written to this page (nothing is appended past an early
			// shutoff). The page must be closed and rotated away from
			// rather than appended to.
			return off, true, nil
		case FramePresent, FrameTombstone:
			if visit != nil {
				if !visit(scanEntry{offset: off, outcome: fr.outcome, payload: fr.payload}) {
					return off, false, nil
				}
			}
			off = fr.next
		}
	}
	return off, false, nil
}

// findLatest scans every frame in page p looking for the newest
// (last-written) entry whose key equals key, using codec to decode just
// the key of each frame cheaply. It returns the entry's payload and
// frame offset (for cache write-through), whether it was a tombstone,
// and whether a matching frame was found at all.
func findLatest[K comparable, V Item[K]](f Flash, g Geometry, p int, codec Codec[K, V], key K) (payload []byte, offset uint32, tombstone bool, found bool, err error) {
	_, _, scanErr := scanPage(f, g, p, func(e scanEntry) bool {
		k, decErr := codec.DeserializeKeyOnly(e.payload)
		if decErr != nil {
			err = itemErr(decErr)
			return false
		}
		if k != key {
			return true
		}
		found = true
		tombstone = e.outcome == FrameTombstone
		payload = e.payload
		offset = e.offset
		return true
	})
	if err != nil {
		return nil, 0, false, false, err
	}
	if scanErr != nil {
		return nil, 0, false, false, scanErr
	}
	return payload, offset, tombstone, found, nil
}
