// Package migrate re-keys persisted state onto the deterministic
// identifier scheme.
//
// Earlier versions of the data model used random or time-based ids for
// documents and units, and remotely-sourced blobs may still carry them.
// Run recomputes every canonical id from content (document title plus
// qualifiers, unit item numbers) and relocates everything keyed by the old
// ids: the document itself, its review states, its stats entry, and the
// active-unit and selected-document pointers.
//
// Run is referentially transparent: it builds a new Blob from a deep copy
// of its input and is idempotent, so it is safe to apply on every load and
// to data that has already been migrated. It never drops a review state or
// a stats record; CheckInvariants makes that property testable.
package migrate

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mschirtzinger/recite/internal/identity"
	"github.com/mschirtzinger/recite/internal/state"
)

// Result summarizes what a migration changed.
type Result struct {
	DocsRekeyed  int
	UnitsRekeyed int
	StreaksReset int
}

// Run migrates the blob onto canonical identifiers and applies streak
// decay. The input is not mutated.
func Run(blob *state.Blob, now time.Time) (*state.Blob, Result) {
	var res Result
	src := blob.Clone()
	out := state.Seed()
	out.Selected = src.Selected

	// Phase 1: canonical document keys. Iterate in sorted order so that
	// the (pathological) case of two old keys collapsing onto one
	// canonical key resolves the same way every run.
	docIDs := sortedKeys(src.Documents)
	migrated := make(map[string]bool, len(docIDs))
	for _, oldID := range docIDs {
		doc := src.Documents[oldID]
		canonical := identity.Slug(doc.Title, doc.Qualifiers...)
		if canonical != oldID {
			res.DocsRekeyed++
		}
		migrated[oldID] = true
		doc.ID = canonical

		if _, exists := out.Documents[canonical]; !exists {
			out.Documents[canonical] = doc
		}
		if units := src.Reviews[oldID]; units != nil {
			dst := out.Reviews[canonical]
			if dst == nil {
				dst = make(map[string]*state.ReviewState, len(units))
				out.Reviews[canonical] = dst
			}
			for unitID, rs := range units {
				if _, exists := dst[unitID]; !exists {
					dst[unitID] = rs
				}
			}
		}
		if st, ok := src.Stats[oldID]; ok {
			if _, exists := out.Stats[canonical]; !exists {
				out.Stats[canonical] = st
			}
		}
		if unitID, ok := src.Active[oldID]; ok {
			if _, exists := out.Active[canonical]; !exists {
				out.Active[canonical] = unitID
			}
		}
		if src.Selected == oldID {
			out.Selected = canonical
		}
	}

	// Review/stats/pointer entries whose document key has no document are
	// carried through untouched. Dropping them would violate the no-loss
	// guarantee; they become addressable again once the document is
	// re-imported. An orphan key can coincide with a canonical key phase 1
	// already populated (reviews pulled from the mirror under the new
	// scheme before the local document was re-keyed), so entries merge
	// per unit under the same first-wins rule as phase 1 rather than
	// replacing the map.
	for docID, units := range src.Reviews {
		if migrated[docID] {
			continue
		}
		dst := out.Reviews[docID]
		if dst == nil {
			dst = make(map[string]*state.ReviewState, len(units))
			out.Reviews[docID] = dst
		}
		for unitID, rs := range units {
			if _, exists := dst[unitID]; !exists {
				dst[unitID] = rs
			}
		}
	}
	for docID, st := range src.Stats {
		if migrated[docID] {
			continue
		}
		if _, exists := out.Stats[docID]; !exists {
			out.Stats[docID] = st
		}
	}
	for docID, unitID := range src.Active {
		if migrated[docID] {
			continue
		}
		if _, exists := out.Active[docID]; !exists {
			out.Active[docID] = unitID
		}
	}

	// Phase 2: canonical unit ids within each canonically-keyed document.
	for docID, doc := range out.Documents {
		units := out.Reviews[docID]
		for i := range doc.Units {
			u := &doc.Units[i]
			canonical := identity.UnitID(docID, u.FirstNumber(), u.LastNumber())
			if canonical == u.ID {
				continue
			}
			oldID := u.ID
			u.ID = canonical
			res.UnitsRekeyed++

			if units != nil {
				if rs, ok := units[oldID]; ok {
					// Relocate only when the canonical slot is free. On a
					// collision both records stay in the map so the loss
					// shows up in CheckInvariants instead of vanishing here.
					if _, exists := units[canonical]; !exists {
						delete(units, oldID)
						rs.ID = canonical
						units[canonical] = rs
					}
				}
			}
			if out.Active[docID] == oldID {
				out.Active[docID] = canonical
			}
		}
	}

	// Phase 3: streak decay. A streak survives only if the last activity
	// was today or yesterday by calendar date; decay is a load-time rule,
	// not something the scheduler does.
	for _, st := range out.Stats {
		if st.Streak == 0 || st.LastActivityAt == nil {
			continue
		}
		if staleByCalendar(*st.LastActivityAt, now) {
			st.Streak = 0
			res.StreaksReset++
		}
	}

	return out, res
}

// staleByCalendar reports whether last is more than one full calendar day
// before now, comparing dates rather than 24h deltas so an evening
// practice still counts the next morning.
func staleByCalendar(last, now time.Time) bool {
	ly, lm, ld := last.Date()
	lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, last.Location())
	ny, nm, nd := now.Date()
	nowDay := time.Date(ny, nm, nd, 0, 0, 0, 0, now.Location())
	return nowDay.Sub(lastDay) > 24*time.Hour
}

// CheckInvariants verifies the migration guarantees: the multiset of
// review-state records (ignoring keys) is unchanged, no stats entry was
// dropped, and every pointer in the result references something that
// exists. A violation is a programming error in Run, not a runtime
// condition; this exists for tests.
func CheckInvariants(before, after *state.Blob) error {
	b := reviewFingerprints(before)
	a := reviewFingerprints(after)
	if len(a) != len(b) {
		return fmt.Errorf("review state count changed: %d before, %d after", len(b), len(a))
	}
	for i := range b {
		if a[i] != b[i] {
			return fmt.Errorf("review state multiset changed at position %d", i)
		}
	}

	if len(after.Stats) != len(before.Stats) {
		return fmt.Errorf("stats count changed: %d before, %d after", len(before.Stats), len(after.Stats))
	}

	for docID, unitID := range after.Active {
		doc, ok := after.Documents[docID]
		if !ok {
			// Pointer for a not-yet-reimported document; nothing to check.
			continue
		}
		found := false
		for _, u := range doc.Units {
			if u.ID == unitID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("active pointer %s -> %s references no unit", docID, unitID)
		}
	}
	if after.Selected != "" {
		if _, ok := after.Documents[after.Selected]; !ok {
			if _, hadDoc := before.Documents[before.Selected]; hadDoc {
				return fmt.Errorf("selected pointer %s references no document", after.Selected)
			}
		}
	}
	return nil
}

// reviewFingerprints returns the sorted serialized review states with
// their id field cleared, so re-keying does not affect comparison.
func reviewFingerprints(blob *state.Blob) []string {
	var out []string
	for _, units := range blob.Reviews {
		for _, rs := range units {
			c := rs.Clone()
			c.ID = ""
			data, _ := json.Marshal(c)
			out = append(out, string(data))
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]*state.Document) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
