// Package state defines the persisted data model for recite.
//
// The aggregate root is Blob: every document, review state, per-document
// statistic, and UI pointer lives inside it. The Blob is the unit of
// persistence (one serialized JSON document in the local store) and the
// unit of synchronization (individual records extracted from it are
// mirrored remotely with last-write-wins timestamps).
//
// Identifiers are never random. Document ids are derived from titles, unit
// ids from the owning document id plus item numbers, so two devices that
// import the same source text address the same review states without
// coordination.
package state

import (
	"fmt"
	"time"
)

// Item kinds within a content unit.
const (
	KindBody  = "body"
	KindLabel = "label"
)

// DefaultEase is the ease factor assigned to a freshly created review state.
const DefaultEase = 2.5

// MinEase is the floor below which the scheduler never pushes ease.
const MinEase = 1.3

// Item is a single piece of text inside a content unit, either body text
// (numbered) or a label such as a heading.
type Item struct {
	Text   string `json:"text"`
	Kind   string `json:"kind"` // body or label
	Number int    `json:"number,omitempty"`
}

// ContentUnit is a contiguous, independently reviewable span of a document.
// Its ID is a pure function of the owning document id and the unit's first
// and last body item numbers.
type ContentUnit struct {
	ID         string `json:"id"`
	RangeLabel string `json:"range_label"`
	Items      []Item `json:"items"`
	Text       string `json:"text"`
}

// FirstNumber returns the number of the first body item, or 0 if the unit
// has no body items.
func (u *ContentUnit) FirstNumber() int {
	for _, it := range u.Items {
		if it.Kind == KindBody {
			return it.Number
		}
	}
	return 0
}

// LastNumber returns the number of the last body item, or 0 if the unit
// has no body items.
func (u *ContentUnit) LastNumber() int {
	last := 0
	for _, it := range u.Items {
		if it.Kind == KindBody {
			last = it.Number
		}
	}
	return last
}

// Document is an imported piece of structured text. Immutable once created
// except for full replacement on re-import.
type Document struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Qualifiers []string      `json:"qualifiers,omitempty"`
	SourceText string        `json:"source_text,omitempty"`
	Units      []ContentUnit `json:"units"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks that the document has the fields every consumer relies on.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	for i, u := range d.Units {
		if u.ID == "" {
			return fmt.Errorf("unit %d: id is required", i)
		}
		if len(u.Items) == 0 {
			return fmt.Errorf("unit %s: at least one item is required", u.ID)
		}
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ReviewState is the spaced-repetition bookkeeping record for one content
// unit. Mutated only by the scheduler; deleted only alongside its document.
type ReviewState struct {
	ID              string     `json:"id"`
	Ease            float64    `json:"ease"`
	IntervalDays    int        `json:"interval_days"`
	Reps            int        `json:"reps"`
	Lapses          int        `json:"lapses"`
	NextDueAt       time.Time  `json:"next_due_at"`
	LastScore       *float64   `json:"last_score,omitempty"`
	SuppressedUntil *time.Time `json:"suppressed_until,omitempty"`
	Mastered        bool       `json:"mastered"`
}

// NewReviewState returns the default review state for a freshly created unit.
func NewReviewState(unitID string) *ReviewState {
	return &ReviewState{
		ID:   unitID,
		Ease: DefaultEase,
	}
}

// Validate checks the scheduler's output invariants.
func (r *ReviewState) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Ease < MinEase {
		return fmt.Errorf("ease %.3f below floor %.1f", r.Ease, MinEase)
	}
	if r.IntervalDays < 0 {
		return fmt.Errorf("interval_days must be non-negative (got %d)", r.IntervalDays)
	}
	if r.Reps < 0 {
		return fmt.Errorf("reps must be non-negative (got %d)", r.Reps)
	}
	if r.Lapses < 0 {
		return fmt.Errorf("lapses must be non-negative (got %d)", r.Lapses)
	}
	return nil
}

// Reviewed reports whether the unit has ever been graded. Freshly seeded
// states are indistinguishable on every device, so they carry no progress
// worth mirroring; pushing one would stamp it with a newer server
// timestamp and overwrite real progress under last-writer-wins.
func (r *ReviewState) Reviewed() bool {
	return r.LastScore != nil || r.Reps > 0 || r.Lapses > 0 || r.Mastered
}

// Clone returns a deep copy of the review state.
func (r *ReviewState) Clone() *ReviewState {
	c := *r
	if r.LastScore != nil {
		s := *r.LastScore
		c.LastScore = &s
	}
	if r.SuppressedUntil != nil {
		t := *r.SuppressedUntil
		c.SuppressedUntil = &t
	}
	return &c
}

// DocumentStats tracks per-document practice statistics.
type DocumentStats struct {
	Streak         int        `json:"streak"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// Touch records graded-review activity at the given time. The streak
// grows by one the first time each new calendar day is touched and is
// left alone for further activity the same day. Decay of stale streaks is
// a load-time concern, handled by migration, not here.
func (s *DocumentStats) Touch(now time.Time) {
	if s.LastActivityAt != nil && sameDay(*s.LastActivityAt, now) {
		if s.Streak == 0 {
			s.Streak = 1
		}
	} else {
		s.Streak++
	}
	t := now
	s.LastActivityAt = &t
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Clone returns a deep copy of the stats record.
func (s *DocumentStats) Clone() *DocumentStats {
	c := *s
	if s.LastActivityAt != nil {
		t := *s.LastActivityAt
		c.LastActivityAt = &t
	}
	return &c
}

// Blob is the aggregate root holding all persisted application state.
//
// Reviews is keyed by document id, then unit id. Active maps each document
// id to the unit the learner is currently working on. Selected is the
// document the UI last had open.
type Blob struct {
	Documents map[string]*Document               `json:"documents"`
	Reviews   map[string]map[string]*ReviewState `json:"reviews"`
	Stats     map[string]*DocumentStats          `json:"stats"`
	Selected  string                             `json:"selected,omitempty"`
	Active    map[string]string                  `json:"active,omitempty"`
}

// Seed returns the documented default blob used when no persisted state
// exists or the persisted bytes are unreadable.
func Seed() *Blob {
	return &Blob{
		Documents: make(map[string]*Document),
		Reviews:   make(map[string]map[string]*ReviewState),
		Stats:     make(map[string]*DocumentStats),
		Active:    make(map[string]string),
	}
}

// Normalize ensures all maps are non-nil so callers can write without
// nil checks. Useful after JSON decoding, which leaves absent maps nil.
func (b *Blob) Normalize() {
	if b.Documents == nil {
		b.Documents = make(map[string]*Document)
	}
	if b.Reviews == nil {
		b.Reviews = make(map[string]map[string]*ReviewState)
	}
	if b.Stats == nil {
		b.Stats = make(map[string]*DocumentStats)
	}
	if b.Active == nil {
		b.Active = make(map[string]string)
	}
}

// Clone returns a deep copy of the blob. Migration constructs its result
// from a clone rather than mutating nested structures in place.
func (b *Blob) Clone() *Blob {
	out := Seed()
	out.Selected = b.Selected
	for id, doc := range b.Documents {
		d := *doc
		d.Qualifiers = append([]string(nil), doc.Qualifiers...)
		d.Units = make([]ContentUnit, len(doc.Units))
		for i, u := range doc.Units {
			cu := u
			cu.Items = append([]Item(nil), u.Items...)
			d.Units[i] = cu
		}
		out.Documents[id] = &d
	}
	for docID, units := range b.Reviews {
		m := make(map[string]*ReviewState, len(units))
		for unitID, rs := range units {
			m[unitID] = rs.Clone()
		}
		out.Reviews[docID] = m
	}
	for docID, st := range b.Stats {
		out.Stats[docID] = st.Clone()
	}
	for docID, unitID := range b.Active {
		out.Active[docID] = unitID
	}
	return out
}

// ReviewFor returns the review state for the given document and unit, or
// nil if either is unknown.
func (b *Blob) ReviewFor(docID, unitID string) *ReviewState {
	units, ok := b.Reviews[docID]
	if !ok {
		return nil
	}
	return units[unitID]
}

// SetReview stores a review state, creating the per-document map if needed.
func (b *Blob) SetReview(docID string, rs *ReviewState) {
	units, ok := b.Reviews[docID]
	if !ok {
		units = make(map[string]*ReviewState)
		b.Reviews[docID] = units
	}
	units[rs.ID] = rs
}

// PutDocument replaces the document and seeds review states and stats for
// any units that do not have them yet. Review states for units that
// survived a re-import keep their history.
func (b *Blob) PutDocument(doc *Document) {
	b.Documents[doc.ID] = doc
	units, ok := b.Reviews[doc.ID]
	if !ok {
		units = make(map[string]*ReviewState)
		b.Reviews[doc.ID] = units
	}
	for _, u := range doc.Units {
		if _, ok := units[u.ID]; !ok {
			units[u.ID] = NewReviewState(u.ID)
		}
	}
	if _, ok := b.Stats[doc.ID]; !ok {
		b.Stats[doc.ID] = &DocumentStats{}
	}
}

// RemoveDocument deletes the document and everything keyed by it.
func (b *Blob) RemoveDocument(docID string) {
	delete(b.Documents, docID)
	delete(b.Reviews, docID)
	delete(b.Stats, docID)
	delete(b.Active, docID)
	if b.Selected == docID {
		b.Selected = ""
	}
}
