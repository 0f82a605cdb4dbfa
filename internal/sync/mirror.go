// Package sync keeps the local state blob eventually consistent with a
// remote mirror.
//
// The consistency model is last-writer-wins by per-record timestamp: there
// is no field-level merge and no vector clock. This is a deliberate
// simplicity/availability trade-off. Two devices editing the same unit
// inside the same network round trip will silently lose one of the edits,
// but reconciliation always terminates and needs no coordination protocol.
// If stronger guarantees are ever required, the whole-record timestamp
// comparison is the piece to replace.
//
// Three flows share one Ledger: push-on-write, pull-on-init, and
// live-update consumption. Sync failures never block or revert a local
// scheduling action; local state stays authoritative until a newer remote
// timestamp proves otherwise.
package sync

import (
	"context"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

// Mirror is the remote side of synchronization. Implementations must
// assign updatedAt server-side on upsert and return it, so the pushing
// device can align its ledger with the mirror's clock.
type Mirror interface {
	// UpsertReviewState writes one unit's review state to the mirror and
	// returns the server-assigned updatedAt for the record.
	UpsertReviewState(ctx context.Context, userID, docID, unitID string, rs *state.ReviewState) (time.Time, error)

	// FetchAll returns every record the mirror holds for the user. Used
	// once per session, on login.
	FetchAll(ctx context.Context, userID string) ([]state.Record, error)

	// Subscribe delivers subsequent record upserts for the user, one at a
	// time, on the returned channel. The returned func releases the
	// subscription; after it is called the channel is closed. Callers must
	// release on every exit path.
	Subscribe(ctx context.Context, userID string) (<-chan state.Record, func(), error)

	// UpsertFanout mirrors a review state to every listed group. Each
	// group write is independent, idempotent, and individually retryable;
	// implementations must not stop at the first failure.
	UpsertFanout(ctx context.Context, groupIDs []string, docID, unitID string, rs *state.ReviewState) error
}
