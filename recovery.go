package flashmap

// ───────────────────────────────────────────────────────────────────────────
// Recovery — startup reconciliation of page headers (spec.md §4.H)
// ───────────────────────────────────────────────────────────────────────────
//
// Recover must run once after power-up, before any StoreItem/FetchItem/
// RemoveItem call, to restore the ring invariants a crash mid-rotation
// or mid-GC may have left inconsistent. It never trusts the cache (the
// cache is volatile RAM state and does not survive a restart) — it
// always re-reads every page header from flash.

// Recover reconciles the page ring and returns once it is in a state
// the map operations can rely on: no Corrupt or Open pages and exactly
// one PartialOpen page with valid Closed/Erased neighbors. A completely
// blank region is formatted, with page 0 as the PartialOpen page.
func (s *Store[K, V]) Recover() error {
	n := s.Geometry.PageCount
	states := make([]PageState, n)
	for p := 0; p < n; p++ {
		st, err := readState(s.Flash, s.Geometry, p)
		if err != nil {
			return err
		}
		states[p] = st
	}

	// Corrupt pages and the transient Open state (closed before ever
	// being opened — never a reachable outcome of normal operation) are
	// erased outright; their contents cannot be trusted.
	for p, st := range states {
		if st == StateCorrupt || st == StateOpen {
			if err := eraseAndVerify(s.Flash, s.Geometry, p); err != nil {
				return err
			}
			states[p] = StateErased
		}
	}

	var partialOpens []int
	for p, st := range states {
		if st == StatePartialOpen {
			partialOpens = append(partialOpens, p)
		}
	}

	switch {
	case len(partialOpens) == 0:
		anyClosed := false
		for _, st := range states {
			if st == StateClosed {
				anyClosed = true
				break
			}
		}
		if anyClosed {
			// Promote the first Erased page following the newest Closed
			// page. With a single contiguous Closed run, the newest
			// Closed page's successor is exactly that page.
			newest := newestClosedPage(states)
			target := s.Geometry.nextPage(newest)
			if states[target] != StateErased {
				// Ring was left with no spill page at all — reclaim by
				// erasing it; any data it held is indistinguishable from
				// torn writes with no durable acknowledgment, since no
				// PartialOpen ever recorded having copied it forward.
				if err := eraseAndVerify(s.Flash, s.Geometry, target); err != nil {
					return err
				}
			}
			if err := markOpen(s.Flash, s.Geometry, target); err != nil {
				return err
			}
			states[target] = StatePartialOpen
		} else {
			// No structure at all: first boot. Format and mark page 0
			// PartialOpen.
			for p := 0; p < n; p++ {
				if states[p] != StateErased {
					if err := eraseAndVerify(s.Flash, s.Geometry, p); err != nil {
						return err
					}
					states[p] = StateErased
				}
			}
			if err := markOpen(s.Flash, s.Geometry, 0); err != nil {
				return err
			}
			states[0] = StatePartialOpen
		}

	case len(partialOpens) == 1:
		// Nominal case; nothing to reconcile.

	default:
		// More than one PartialOpen: a crash happened mid-rotation,
		// after the new page's open marker was written but before the
		// old one's close marker (or vice versa, if the old page failed
		// to read back as Closed). Keep the youngest — the one whose
		// predecessor is Closed — and close the rest.
		youngest := youngestPartialOpen(states, partialOpens)
		for _, p := range partialOpens {
			if p == youngest {
				continue
			}
			if err := markClosed(s.Flash, s.Geometry, p); err != nil {
				return err
			}
			states[p] = StateClosed
		}
	}

	// Reset all caches: nothing in RAM survives a restart.
	for p, st := range states {
		s.Cache.NotifyPageState(p, st)
	}

	// The page-after-PartialOpen-is-Erased invariant may still be
	// violated (e.g. recovery just resolved multiple PartialOpens,
	// leaving a Closed run with no guaranteed spill page). Run GC to
	// restore it; it is a no-op if the invariant already holds.
	return s.GC()
}

// newestClosedPage returns the Closed page whose successor is not
// Closed (i.e. the end of the contiguous Closed run).
func newestClosedPage(states []PageState) int {
	n := len(states)
	for p, st := range states {
		if st != StateClosed {
			continue
		}
		succ := (p + 1) % n
		if states[succ] != StateClosed {
			return p
		}
	}
	// Every page Closed (degenerate): any page is as good as any other
	// as the "newest" anchor, so pick the last index for determinism.
	return n - 1
}

// youngestPartialOpen picks, among several PartialOpen pages, the one
// whose predecessor in rotation order is Closed — the one that was
// legitimately promoted most recently.
func youngestPartialOpen(states []PageState, candidates []int) int {
	n := len(states)
	for _, p := range candidates {
		pred := (p - 1 + n) % n
		if states[pred] == StateClosed {
			return p
		}
	}
	return candidates[len(candidates)-1]
}
