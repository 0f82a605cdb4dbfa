package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordKind identifies which payload a mirrored record carries.
type RecordKind string

const (
	// KindReview is a ReviewState payload for one content unit.
	KindReview RecordKind = "review"

	// KindDocument is a full Document payload.
	KindDocument RecordKind = "document"

	// KindStats is a DocumentStats payload.
	KindStats RecordKind = "stats"
)

// Record is the mirror-side wrapper around a payload. UpdatedAt is assigned
// by the mirror on upsert and is used solely for last-write-wins conflict
// arbitration; no field-level merging happens anywhere.
type Record struct {
	Kind      RecordKind      `json:"kind"`
	DocID     string          `json:"doc_id"`
	UnitID    string          `json:"unit_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Key returns the ledger/mirror key for this record. Review records are
// keyed per unit; document and stats records per document.
func (r Record) Key() string {
	if r.Kind == KindReview {
		return fmt.Sprintf("%s:%s:%s", r.Kind, r.DocID, r.UnitID)
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.DocID)
}

// Validate checks the fields every consumer of a record relies on.
func (r Record) Validate() error {
	switch r.Kind {
	case KindReview:
		if r.UnitID == "" {
			return fmt.Errorf("unit_id is required for review records")
		}
	case KindDocument, KindStats:
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
	if r.DocID == "" {
		return fmt.Errorf("doc_id is required")
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// NewReviewRecord wraps a review state for mirroring.
func NewReviewRecord(docID string, rs *ReviewState) (Record, error) {
	payload, err := json.Marshal(rs)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal review state: %w", err)
	}
	return Record{Kind: KindReview, DocID: docID, UnitID: rs.ID, Payload: payload}, nil
}

// NewDocumentRecord wraps a document for mirroring.
func NewDocumentRecord(doc *Document) (Record, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal document: %w", err)
	}
	return Record{Kind: KindDocument, DocID: doc.ID, Payload: payload}, nil
}

// NewStatsRecord wraps per-document stats for mirroring.
func NewStatsRecord(docID string, st *DocumentStats) (Record, error) {
	payload, err := json.Marshal(st)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal stats: %w", err)
	}
	return Record{Kind: KindStats, DocID: docID, Payload: payload}, nil
}

// ApplyRecord writes a remote record's payload into the blob. The caller is
// responsible for the last-write-wins admission check; ApplyRecord itself
// overwrites unconditionally.
func (b *Blob) ApplyRecord(rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	switch rec.Kind {
	case KindReview:
		var rs ReviewState
		if err := json.Unmarshal(rec.Payload, &rs); err != nil {
			return fmt.Errorf("failed to unmarshal review payload for %s: %w", rec.Key(), err)
		}
		if rs.ID == "" {
			rs.ID = rec.UnitID
		}
		b.SetReview(rec.DocID, &rs)
	case KindDocument:
		var doc Document
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal document payload for %s: %w", rec.Key(), err)
		}
		if doc.ID == "" {
			doc.ID = rec.DocID
		}
		b.PutDocument(&doc)
	case KindStats:
		var st DocumentStats
		if err := json.Unmarshal(rec.Payload, &st); err != nil {
			return fmt.Errorf("failed to unmarshal stats payload for %s: %w", rec.Key(), err)
		}
		b.Stats[rec.DocID] = &st
	}
	return nil
}
