package flashmap

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Map operations — StoreItem / FetchItem / RemoveItem (spec.md §4.F)
// ───────────────────────────────────────────────────────────────────────────
//
// Every operation is a method on a Store, which holds its Flash backend,
// Geometry, Cache, and Codec; StoreItem also takes the caller's scratch
// buffer. This mirrors tinySQL's pager methods, which work through their
// Pager/PageBackend receiver rather than package-level state, so nothing
// is shared across regions (spec.md §9 "no global state").

// Store ties a Flash backend, a Geometry, and a Cache together for a
// single logical region. It carries no other state; every method is
// safe to call repeatedly, and multiple independent Stores can address
// disjoint regions of the same Flash without interfering (beyond
// whatever the caller's own serialization guarantees, per spec.md §5).
type Store[K comparable, V Item[K]] struct {
	Flash    Flash
	Geometry Geometry
	Cache    Cache[K]
	Codec    Codec[K, V]
}

// NewStore constructs a Store. It performs no I/O; call Recover before
// the first operation to establish a consistent page-ring state.
func NewStore[K comparable, V Item[K]](f Flash, g Geometry, cache Cache[K], codec Codec[K, V]) *Store[K, V] {
	return &Store[K, V]{Flash: f, Geometry: g, Cache: cache, Codec: codec}
}

// FetchItem returns the live value for key, or found=false if absent.
func (s *Store[K, V]) FetchItem(key K) (value V, found bool, err error) {
	if loc := s.Cache.QueryKey(key); loc.Valid {
		fr, rerr := readFrame(s.Flash, loc.Offset)
		if rerr != nil {
			return value, false, rerr
		}
		if fr.outcome == FramePresent {
			v, derr := s.Codec.DeserializeFrom(fr.payload)
			if derr != nil {
				return value, false, itemErr(derr)
			}
			if v.Key() == key {
				return v, true, nil
			}
		}
		// Stale or mismatched cache hit — fall through to a full scan.
	}

	order, err := s.rotationOrder()
	if err != nil {
		return value, false, err
	}

	var (
		livePayload []byte
		liveLoc     KeyLocation
		have        bool
	)
	for _, p := range order {
		state, cerr := s.stateOf(p)
		if cerr != nil {
			return value, false, cerr
		}
		if state != StatePartialOpen && state != StateClosed {
			continue
		}
		payload, offset, tombstone, foundHere, ferr := findLatest(s.Flash, s.Geometry, p, s.Codec, key)
		if ferr != nil {
			return value, false, ferr
		}
		if !foundHere {
			continue
		}
		if tombstone {
			have = false
			continue
		}
		have = true
		livePayload = payload
		liveLoc = KeyLocation{Page: p, Offset: offset, Valid: true}
	}

	if !have {
		s.Cache.NotifyErase(key)
		return value, false, nil
	}
	v, derr := s.Codec.DeserializeFrom(livePayload)
	if derr != nil {
		return value, false, itemErr(derr)
	}
	s.Cache.NotifyWrite(key, liveLoc.Page, liveLoc.Offset)
	return v, true, nil
}

// StoreItem serializes item into scratch and durably appends it as the
// new live value for its key, rotating and garbage collecting as
// needed. scratch must be at least as large as the item's serialized
// form rounded up to the flash word.
func (s *Store[K, V]) StoreItem(scratch []byte, item V) error {
	n, serr := item.SerializeInto(scratch)
	if serr != nil {
		if serr == ErrScratchTooSmall {
			return itemErr(ErrScratchTooSmall)
		}
		return itemErr(serr)
	}
	payload := scratch[:n]

	p, err := s.activePage()
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		free, ferr := s.freeOffset(p)
		if ferr != nil {
			return ferr
		}
		end := s.Geometry.pageOffset(s.Flash, p) + uint32(s.Flash.PageSize())
		if free+uint32(frameSize(s.Flash, len(payload))) <= end {
			if _, werr := writeFrame(s.Flash, free, payload); werr != nil {
				return werr
			}
			s.Cache.NotifyWrite(item.Key(), p, free)
			s.Cache.NotifyPageState(p, StatePartialOpen)
			return nil
		}

		// Does not fit: rotate (and GC if needed), then retry. Once every
		// page has been rotated through and compacted without making
		// room, the region is full of live data.
		if attempt > s.Geometry.PageCount {
			return fullStorage()
		}
		if frameSize(s.Flash, len(payload)) > s.Geometry.bodySize(s.Flash) {
			return fullStorage()
		}
		newActive, rerr := s.rotate(p)
		if rerr != nil {
			return rerr
		}
		p = newActive
	}
}

// RemoveItem tombstones every live frame for key across the region. It
// is idempotent: removing an absent key is not an error.
func (s *Store[K, V]) RemoveItem(key K) error {
	order, err := s.rotationOrder()
	if err != nil {
		return err
	}
	for _, p := range order {
		state, serr := s.stateOf(p)
		if serr != nil {
			return serr
		}
		if state != StatePartialOpen && state != StateClosed {
			continue
		}
		var targets []uint32
		_, _, scanErr := scanPage(s.Flash, s.Geometry, p, func(e scanEntry) bool {
			if e.outcome != FramePresent {
				return true
			}
			k, derr := s.Codec.DeserializeKeyOnly(e.payload)
			if derr != nil {
				err = itemErr(derr)
				return false
			}
			if k == key {
				targets = append(targets, e.offset)
			}
			return true
		})
		if err != nil {
			return err
		}
		if scanErr != nil {
			return scanErr
		}
		for _, off := range targets {
			if terr := markTombstone(s.Flash, off); terr != nil {
				return terr
			}
		}
	}
	s.Cache.NotifyErase(key)
	return nil
}

// GC runs one incremental reclamation pass without being triggered by a
// full StoreItem: it finds the page due to be erased next (the one
// immediately after the active page) and, if it still holds data,
// reclaims it. It is a no-op if that page is already Erased. Exposed so
// a caller can reclaim space proactively during idle time rather than
// paying for it on the next write's critical path.
func (s *Store[K, V]) GC() error {
	p, err := s.activePage()
	if err != nil {
		return err
	}
	victim := s.Geometry.nextPage(p)
	state, err := s.stateOf(victim)
	if err != nil {
		return err
	}
	if state == StateErased {
		return nil
	}
	return s.reclaim(victim, p)
}

// Stats reports the current page-state distribution and free space in
// the active page.
type Stats struct {
	Erased      int
	PartialOpen int
	Closed      int
	Corrupt     int
	FreeBytes   int
}

// Stats scans every page header and reports counts, grounded on
// tinySQL's PageBackendStats.
func (s *Store[K, V]) Stats() (Stats, error) {
	var st Stats
	for p := 0; p < s.Geometry.PageCount; p++ {
		state, err := s.stateOf(p)
		if err != nil {
			return Stats{}, err
		}
		switch state {
		case StateErased:
			st.Erased++
		case StatePartialOpen:
			st.PartialOpen++
			free, ferr := s.freeOffset(p)
			if ferr != nil {
				return Stats{}, ferr
			}
			end := s.Geometry.pageOffset(s.Flash, p) + uint32(s.Flash.PageSize())
			st.FreeBytes = int(end - free)
		case StateClosed:
			st.Closed++
		default:
			st.Corrupt++
		}
	}
	return st, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Internal helpers
// ───────────────────────────────────────────────────────────────────────────

func (s *Store[K, V]) stateOf(p int) (PageState, error) {
	if st, ok := s.Cache.QueryPageState(p); ok {
		return st, nil
	}
	st, err := readState(s.Flash, s.Geometry, p)
	if err != nil {
		return StateCorrupt, err
	}
	s.Cache.NotifyPageState(p, st)
	return st, nil
}

// freeOffset returns the offset a page's next append would begin at. A
// page whose log tail is Corrupt (a torn write) reports the page's end
// instead of the corrupt frame's own offset — that offset is not a
// legal append destination (its length word is already programmed),
// so the page must be treated as having no room left, forcing the
// caller to rotate rather than overwrite the torn frame in place.
func (s *Store[K, V]) freeOffset(p int) (uint32, error) {
	end := s.Geometry.pageOffset(s.Flash, p) + uint32(s.Flash.PageSize())
	if off, ok := s.Cache.QueryPageFree(p); ok {
		// The cached offset is the start of a frame already written to
		// p; step over the frames from there to the first free slot.
		for off < end {
			fr, err := readFrame(s.Flash, off)
			if err != nil {
				return 0, err
			}
			switch fr.outcome {
			case FrameErased:
				return off, nil
			case FrameCorrupt:
				return end, nil
			}
			off = fr.next
		}
		return end, nil
	}
	off, corrupt, err := scanPage(s.Flash, s.Geometry, p, nil)
	if err != nil {
		return 0, err
	}
	if corrupt {
		return end, nil
	}
	return off, nil
}

// findActivePage locates the current PartialOpen page without
// mutating flash. ok is false when no page has ever been opened (an
// unformatted or fully-erased region) — fetch/remove treat that as
// "nothing stored anywhere", never implicitly formatting, so a read
// never has a write side effect (spec.md §8 property 4).
func (s *Store[K, V]) findActivePage() (p int, ok bool, err error) {
	for i := 0; i < s.Geometry.PageCount; i++ {
		st, serr := s.stateOf(i)
		if serr != nil {
			return 0, false, serr
		}
		if st == StatePartialOpen {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// activePage locates the current PartialOpen page, formatting the
// region (first boot) by promoting page 0 if no page has ever been
// opened. StoreItem and GC use it; FetchItem and RemoveItem use
// findActivePage instead, so they never format the region.
func (s *Store[K, V]) activePage() (int, error) {
	if p, ok, err := s.findActivePage(); err != nil {
		return 0, err
	} else if ok {
		return p, nil
	}
	if err := markOpen(s.Flash, s.Geometry, 0); err != nil {
		return 0, err
	}
	s.Cache.NotifyPageState(0, StatePartialOpen)
	return 0, nil
}

// rotationOrder returns page indices from oldest Closed to the
// PartialOpen page, per spec.md §4.F fetch_item's scan order. It
// returns an empty order (no error) for an unformatted/fully-erased
// region.
func (s *Store[K, V]) rotationOrder() ([]int, error) {
	p, ok, err := s.findActivePage()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	order := make([]int, 0, s.Geometry.PageCount)
	// Oldest Closed is the page right after the Erased spill page, i.e.
	// two pages ahead of the active page; walk forward from there,
	// wrapping, and finish with the active page itself.
	start := s.Geometry.nextPage(s.Geometry.nextPage(p))
	for cur := start; cur != p; cur = s.Geometry.nextPage(cur) {
		order = append(order, cur)
	}
	order = append(order, p)
	return order, nil
}

// rotate closes page p, promotes the next page to PartialOpen (returning
// a Corrupted error if that page is not Erased), and — if the page
// beyond the new active page is not Erased — reclaims it so the "page
// after PartialOpen is Erased" invariant (spec.md §3 invariant 4) holds
// again before returning. It returns the new active page index.
func (s *Store[K, V]) rotate(p int) (int, error) {
	if err := markClosed(s.Flash, s.Geometry, p); err != nil {
		return 0, err
	}
	s.Cache.NotifyPageState(p, StateClosed)

	next := s.Geometry.nextPage(p)
	nextState, err := s.stateOf(next)
	if err != nil {
		return 0, err
	}
	if nextState != StateErased {
		// Ring invariant was already broken (e.g. recovery left it this
		// way) — nothing legal got us here from a freshly-formatted,
		// GC-maintained ring.
		return 0, corrupted(fmt.Errorf("flashmap: expected page %d erased before rotation, found %s", next, nextState))
	}
	if err := markOpen(s.Flash, s.Geometry, next); err != nil {
		return 0, err
	}
	s.Cache.NotifyPageState(next, StatePartialOpen)

	victim := s.Geometry.nextPage(next)
	victimState, err := s.stateOf(victim)
	if err != nil {
		return 0, err
	}
	if victimState == StateErased {
		return next, nil
	}
	if err := s.reclaim(victim, next); err != nil {
		return 0, err
	}
	return next, nil
}

// reclaim copies forward every frame in victim that is still live
// (spec.md §4.F GC rule: no later Present/Tombstone for the same key
// exists anywhere else in the ring — victim, being the page about to
// be erased, is by construction the oldest surviving page, so "anywhere
// else" is exactly "any later" in scan order) into activePage, then
// erases victim only once every live copy is durable (spec.md §4.F
// crash-consistency: old page erased only after live copies and the
// new PartialOpen's open marker are written).
func (s *Store[K, V]) reclaim(victim, activePage int) error {
	type liveFrame struct {
		key     K
		payload []byte
	}
	seen := map[K]int{} // key -> index into liveByKey, keeping the last occurrence within victim
	var liveByKey []liveFrame

	_, _, err := scanPage(s.Flash, s.Geometry, victim, func(e scanEntry) bool {
		k, derr := s.Codec.DeserializeKeyOnly(e.payload)
		if derr != nil {
			return false
		}
		switch e.outcome {
		case FramePresent:
			if idx, ok := seen[k]; ok {
				liveByKey[idx] = liveFrame{key: k, payload: e.payload}
			} else {
				seen[k] = len(liveByKey)
				liveByKey = append(liveByKey, liveFrame{key: k, payload: e.payload})
			}
		case FrameTombstone:
			if idx, ok := seen[k]; ok {
				liveByKey[idx].payload = nil // tombstoned within victim itself
			} else {
				seen[k] = len(liveByKey)
				liveByKey = append(liveByKey, liveFrame{key: k, payload: nil})
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, lf := range liveByKey {
		if lf.payload == nil {
			continue // tombstoned in victim itself; victim is globally
			// oldest, so nothing older depends on this deletion surviving.
		}
		overridden, oerr := s.keyAppearsOutside(victim, lf.key)
		if oerr != nil {
			return oerr
		}
		if overridden {
			continue
		}
		free, ferr := s.freeOffset(activePage)
		if ferr != nil {
			return ferr
		}
		if _, werr := writeFrame(s.Flash, free, lf.payload); werr != nil {
			return werr
		}
		s.Cache.NotifyWrite(lf.key, activePage, free)
	}

	if err := eraseAndVerify(s.Flash, s.Geometry, victim); err != nil {
		return err
	}
	s.Cache.NotifyPageErased(victim)
	return nil
}

// keyAppearsOutside reports whether any page other than exclude holds a
// Present or Tombstone frame for key.
func (s *Store[K, V]) keyAppearsOutside(exclude int, key K) (bool, error) {
	for p := 0; p < s.Geometry.PageCount; p++ {
		if p == exclude {
			continue
		}
		state, err := s.stateOf(p)
		if err != nil {
			return false, err
		}
		if state != StatePartialOpen && state != StateClosed {
			continue
		}
		found := false
		var visitErr error
		_, _, scanErr := scanPage(s.Flash, s.Geometry, p, func(e scanEntry) bool {
			k, derr := s.Codec.DeserializeKeyOnly(e.payload)
			if derr != nil {
				visitErr = itemErr(derr)
				return false
			}
			if k == key {
				found = true
			}
			return true
		})
		if visitErr != nil {
			return false, visitErr
		}
		if scanErr != nil {
			return false, scanErr
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
