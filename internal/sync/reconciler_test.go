package sync

import (
	"context"
	"errors"
	"io"
	"log"
	gosync "sync"
	"testing"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// fakeMirror implements Mirror in memory with a scriptable clock.
type fakeMirror struct {
	mu       gosync.Mutex
	clock    time.Time
	records  map[string]state.Record
	updates  chan state.Record
	fanouts  [][]string
	upsertEr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		clock:   testNow,
		records: make(map[string]state.Record),
		updates: make(chan state.Record, 16),
	}
}

func (m *fakeMirror) UpsertReviewState(ctx context.Context, userID, docID, unitID string, rs *state.ReviewState) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertEr != nil {
		return time.Time{}, m.upsertEr
	}
	m.clock = m.clock.Add(time.Second)
	rec, err := state.NewReviewRecord(docID, rs)
	if err != nil {
		return time.Time{}, err
	}
	rec.UpdatedAt = m.clock
	m.records[rec.Key()] = rec
	return m.clock, nil
}

func (m *fakeMirror) FetchAll(ctx context.Context, userID string) ([]state.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]state.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *fakeMirror) Subscribe(ctx context.Context, userID string) (<-chan state.Record, func(), error) {
	return m.updates, func() {}, nil
}

func (m *fakeMirror) UpsertFanout(ctx context.Context, groupIDs []string, docID, unitID string, rs *state.ReviewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanouts = append(m.fanouts, groupIDs)
	return m.upsertEr
}

// seedRemote plants a record on the mirror with an explicit timestamp.
func (m *fakeMirror) seedRemote(t *testing.T, docID string, rs *state.ReviewState, at time.Time) state.Record {
	t.Helper()
	rec, err := state.NewReviewRecord(docID, rs)
	if err != nil {
		t.Fatalf("NewReviewRecord: %v", err)
	}
	rec.UpdatedAt = at
	m.mu.Lock()
	m.records[rec.Key()] = rec
	m.mu.Unlock()
	return rec
}

func newTestReconciler(m Mirror, blob *state.Blob) *Reconciler {
	r := New(m, "alice", nil, func(rec state.Record) error {
		return blob.ApplyRecord(rec)
	}, log.New(io.Discard, "", 0))
	// Pin the clock so ledger entries compare against the fake mirror's
	// timestamps, not the wall clock.
	r.now = func() time.Time { return testNow }
	return r
}

func TestPushAlignsLedger(t *testing.T) {
	m := newFakeMirror()
	blob := state.Seed()
	r := newTestReconciler(m, blob)

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.6, Reps: 1}
	if err := r.PushReviewState(context.Background(), "romans-8", rs); err != nil {
		t.Fatalf("PushReviewState: %v", err)
	}

	key := "review:romans-8:romans-8-v1"
	got := r.Ledger().Get(key)
	if !got.Equal(m.clock) {
		t.Errorf("ledger entry %v, want mirror clock %v", got, m.clock)
	}
	if _, ok := m.records[key]; !ok {
		t.Error("record not stored on mirror")
	}
}

func TestPushFailureKeepsOptimisticEntry(t *testing.T) {
	m := newFakeMirror()
	m.upsertEr = errors.New("mirror unreachable")
	r := newTestReconciler(m, state.Seed())

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	err := r.PushReviewState(context.Background(), "romans-8", rs)
	if err == nil {
		t.Fatal("expected push error")
	}

	// The optimistic entry still guards against a racing stale pull.
	if r.Ledger().Get("review:romans-8:romans-8-v1").IsZero() {
		t.Error("optimistic ledger entry missing after failed push")
	}
}

func TestPullAllAppliesNewerOnly(t *testing.T) {
	m := newFakeMirror()
	blob := state.Seed()
	r := newTestReconciler(m, blob)

	// Our own write at T1.
	local := &state.ReviewState{ID: "romans-8-v1", Ease: 2.6, Reps: 2}
	if err := r.PushReviewState(context.Background(), "romans-8", local); err != nil {
		t.Fatalf("PushReviewState: %v", err)
	}
	pushedAt := r.Ledger().Get("review:romans-8:romans-8-v1")

	// A stale record for the same unit and a newer one for another unit.
	m.seedRemote(t, "romans-8",
		&state.ReviewState{ID: "romans-8-v1", Ease: 2.5, Reps: 1}, pushedAt.Add(-time.Minute))
	m.seedRemote(t, "romans-8",
		&state.ReviewState{ID: "romans-8-v2", Ease: 2.7, Reps: 3}, pushedAt.Add(time.Minute))

	applied, err := r.PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (stale echo must be skipped)", applied)
	}
	if got := blob.ReviewFor("romans-8", "romans-8-v1"); got != nil && got.Reps == 1 {
		t.Error("stale record overwrote local state")
	}
	if got := blob.ReviewFor("romans-8", "romans-8-v2"); got == nil || got.Reps != 3 {
		t.Errorf("newer record not applied: %+v", got)
	}
}

func TestPullEqualTimestampRejected(t *testing.T) {
	m := newFakeMirror()
	blob := state.Seed()
	r := newTestReconciler(m, blob)

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.6, Reps: 2}
	if err := r.PushReviewState(context.Background(), "romans-8", rs); err != nil {
		t.Fatalf("PushReviewState: %v", err)
	}
	at := r.Ledger().Get("review:romans-8:romans-8-v1")

	// The mirror echoes our own write back with the identical timestamp.
	m.seedRemote(t, "romans-8", &state.ReviewState{ID: "romans-8-v1", Ease: 1.3}, at)

	applied, err := r.PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 (echo must be rejected)", applied)
	}
}

func TestRunAppliesLiveUpdates(t *testing.T) {
	m := newFakeMirror()
	blob := state.Seed()
	r := newTestReconciler(m, blob)

	appliedCh := make(chan struct{}, 1)
	r.SetOnApply(func() {
		select {
		case appliedCh <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	rec := m.seedRemote(t, "romans-8",
		&state.ReviewState{ID: "romans-8-v1", Ease: 2.8, Reps: 4}, testNow.Add(time.Hour))
	m.updates <- rec

	select {
	case <-appliedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("live update was not applied")
	}
	if got := blob.ReviewFor("romans-8", "romans-8-v1"); got == nil || got.Reps != 4 {
		t.Errorf("live update not in blob: %+v", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestRunStopsOnChannelClose(t *testing.T) {
	m := newFakeMirror()
	r := newTestReconciler(m, state.Seed())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	close(m.updates)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on channel close, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestPushFanout(t *testing.T) {
	m := newFakeMirror()
	r := newTestReconciler(m, state.Seed())

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	if err := r.PushFanout(context.Background(), []string{"g1", "g2"}, "romans-8", rs); err != nil {
		t.Fatalf("PushFanout: %v", err)
	}
	if len(m.fanouts) != 1 || len(m.fanouts[0]) != 2 {
		t.Errorf("fanouts = %v, want one call with two groups", m.fanouts)
	}

	// No groups is a no-op, not an error.
	if err := r.PushFanout(context.Background(), nil, "romans-8", rs); err != nil {
		t.Errorf("empty fanout returned %v", err)
	}
	if len(m.fanouts) != 1 {
		t.Error("empty fanout reached the mirror")
	}
}
