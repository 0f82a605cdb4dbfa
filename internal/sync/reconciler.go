package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

// Applier writes an admitted remote record into local state. The
// reconciler performs the ledger admission check before calling it; the
// applier overwrites unconditionally and persists.
type Applier func(state.Record) error

// Reconciler coordinates the three sync flows for one user session.
//
// All flows consult the same Ledger. A push records an optimistic ledger
// entry before the network write and re-aligns it to the mirror's
// authoritative timestamp on success; pulls and live updates apply a
// record only when its updatedAt is strictly later than the ledger entry
// for that key. Stale or echoed records are skipped silently; that is the
// expected steady state, not an error.
type Reconciler struct {
	mirror  Mirror
	ledger  *Ledger
	userID  string
	apply   Applier
	onApply func()
	logger  *log.Logger
	now     func() time.Time
}

// New creates a Reconciler for the given user session.
//
// If ledger is nil a fresh one is created (a new session must not inherit
// another session's echo-suppression state). If logger is nil, a default
// logger writing to stderr is used.
func New(mirror Mirror, userID string, ledger *Ledger, apply Applier, logger *log.Logger) *Reconciler {
	if ledger == nil {
		ledger = NewLedger()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Reconciler{
		mirror: mirror,
		ledger: ledger,
		userID: userID,
		apply:  apply,
		logger: logger,
		now:    time.Now,
	}
}

// Ledger exposes the session ledger, mainly for tests and status output.
func (r *Reconciler) Ledger() *Ledger {
	return r.ledger
}

// SetOnApply registers a callback invoked after each admitted record is
// applied. Callers use it to schedule persistence without coupling the
// reconciler to the store. Must be set before Run.
func (r *Reconciler) SetOnApply(fn func()) {
	r.onApply = fn
}

// PushReviewState mirrors one unit's review state remotely.
//
// The ledger entry for the unit is advanced to now() before the network
// write is attempted, so a pull racing the push cannot clobber the
// optimistic local value. On success the entry is re-aligned to the
// mirror's returned updatedAt, which may differ slightly from the
// optimistic timestamp. On failure local state remains authoritative; the
// next successful cycle reconciles.
func (r *Reconciler) PushReviewState(ctx context.Context, docID string, rs *state.ReviewState) error {
	key := reviewKey(docID, rs.ID)
	r.ledger.Advance(key, r.now())

	updatedAt, err := r.mirror.UpsertReviewState(ctx, r.userID, docID, rs.ID, rs)
	if err != nil {
		return fmt.Errorf("failed to push review state %s: %w", key, err)
	}
	r.ledger.Advance(key, updatedAt)
	return nil
}

// PushFanout mirrors a review state to every group the user belongs to.
// Each group write is independent; partial failure is surfaced as a single
// aggregate error and does not roll back the writes that succeeded.
func (r *Reconciler) PushFanout(ctx context.Context, groupIDs []string, docID string, rs *state.ReviewState) error {
	if len(groupIDs) == 0 {
		return nil
	}
	if err := r.mirror.UpsertFanout(ctx, groupIDs, docID, rs.ID, rs); err != nil {
		return fmt.Errorf("failed to fan out review state %s: %w", reviewKey(docID, rs.ID), err)
	}
	return nil
}

// PullAll fetches the full remote record set once and applies every record
// that passes the ledger admission check. Returns how many were applied.
// Called on session establishment.
func (r *Reconciler) PullAll(ctx context.Context) (int, error) {
	records, err := r.mirror.FetchAll(ctx, r.userID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch remote records: %w", err)
	}

	applied := 0
	for _, rec := range records {
		ok, err := r.applyRecord(rec)
		if err != nil {
			r.logger.Printf("Warning: failed to apply record %s: %v", rec.Key(), err)
			continue
		}
		if ok {
			applied++
		}
	}
	r.logger.Printf("Pull complete: %d fetched, %d applied", len(records), applied)
	return applied, nil
}

// Run consumes live updates until ctx is cancelled or the subscription
// channel closes. Records are applied one at a time with the same rule as
// PullAll. The subscription is released on every exit path.
func (r *Reconciler) Run(ctx context.Context) error {
	updates, unsubscribe, err := r.mirror.Subscribe(ctx, r.userID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to mirror: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := r.applyRecord(rec); err != nil {
				r.logger.Printf("Warning: failed to apply live update %s: %v", rec.Key(), err)
			}
		}
	}
}

// applyRecord applies a remote record iff its updatedAt is strictly later
// than the ledger entry for its key. Returns whether it was applied.
// A rejected record is not an error; it is either stale or an echo of this
// device's own write.
func (r *Reconciler) applyRecord(rec state.Record) (bool, error) {
	key := rec.Key()
	if !r.ledger.Admits(key, rec.UpdatedAt) {
		return false, nil
	}
	if err := r.apply(rec); err != nil {
		return false, err
	}
	r.ledger.Advance(key, rec.UpdatedAt)
	if r.onApply != nil {
		r.onApply()
	}
	return true, nil
}

func reviewKey(docID, unitID string) string {
	return fmt.Sprintf("%s:%s:%s", state.KindReview, docID, unitID)
}
