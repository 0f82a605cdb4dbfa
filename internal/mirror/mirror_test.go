package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Errorf("failed to stop server: %v", err)
		}
	})
	return srv, NewClient(fmt.Sprintf("http://%s", srv.Addr()))
}

func TestUpsertAndFetch(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.6, Reps: 2, IntervalDays: 6}
	updatedAt, err := client.UpsertReviewState(ctx, "alice", "romans-8", "romans-8-v1", rs)
	if err != nil {
		t.Fatalf("UpsertReviewState: %v", err)
	}
	if updatedAt.IsZero() {
		t.Fatal("server did not assign updatedAt")
	}

	records, err := client.FetchAll(ctx, "alice")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Kind != state.KindReview || rec.DocID != "romans-8" || rec.UnitID != "romans-8-v1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.UpdatedAt.Equal(updatedAt) {
		t.Errorf("fetched updatedAt %v, upsert returned %v", rec.UpdatedAt, updatedAt)
	}
}

func TestUpsertTimestampsMonotonicPerKey(t *testing.T) {
	srv, _ := startTestServer(t)

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	rec, err := state.NewReviewRecord("romans-8", rs)
	if err != nil {
		t.Fatalf("NewReviewRecord: %v", err)
	}

	var prev time.Time
	for i := 0; i < 50; i++ {
		stored, err := srv.Upsert("alice", rec)
		if err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
		if !stored.UpdatedAt.After(prev) {
			t.Fatalf("upsert %d: updatedAt %v not after previous %v", i, stored.UpdatedAt, prev)
		}
		prev = stored.UpdatedAt
	}

	// Only the latest version is kept per key.
	if got := len(srv.FetchAll("alice")); got != 1 {
		t.Errorf("feed holds %d records, want 1", got)
	}
}

func TestFeedsAreIsolatedPerUser(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	if _, err := client.UpsertReviewState(ctx, "alice", "romans-8", "romans-8-v1", rs); err != nil {
		t.Fatalf("UpsertReviewState: %v", err)
	}

	records, err := client.FetchAll(ctx, "bob")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("bob's feed has %d records, want 0", len(records))
	}
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	srv, _ := startTestServer(t)

	_, err := srv.Upsert("alice", state.Record{Kind: "bogus", DocID: "d", Payload: []byte("{}")})
	if err == nil {
		t.Error("expected error for unknown record kind")
	}
}

func TestSubscribeReceivesUpserts(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	updates, unsubscribe, err := client.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.7, Reps: 3, Mastered: true}
	updatedAt, err := client.UpsertReviewState(ctx, "alice", "romans-8", "romans-8-v1", rs)
	if err != nil {
		t.Fatalf("UpsertReviewState: %v", err)
	}

	select {
	case rec := <-updates:
		if rec.UnitID != "romans-8-v1" {
			t.Errorf("received record for unit %q", rec.UnitID)
		}
		if !rec.UpdatedAt.Equal(updatedAt) {
			t.Errorf("pushed updatedAt %v, upsert returned %v", rec.UpdatedAt, updatedAt)
		}
		var got state.ReviewState
		if err := rec.Validate(); err != nil {
			t.Fatalf("pushed record invalid: %v", err)
		}
		blob := state.Seed()
		if err := blob.ApplyRecord(rec); err != nil {
			t.Fatalf("pushed record not applicable: %v", err)
		}
		got = *blob.ReviewFor("romans-8", "romans-8-v1")
		if !got.Mastered || got.Reps != 3 {
			t.Errorf("payload lost fields: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update received over websocket")
	}
}

func TestSubscribeDoesNotCrossUsers(t *testing.T) {
	_, client := startTestServer(t)
	ctx := context.Background()

	updates, unsubscribe, err := client.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	if _, err := client.UpsertReviewState(ctx, "alice", "romans-8", "romans-8-v1", rs); err != nil {
		t.Fatalf("UpsertReviewState: %v", err)
	}

	select {
	case rec := <-updates:
		t.Errorf("bob received alice's record: %+v", rec)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	_, client := startTestServer(t)

	updates, unsubscribe, err := client.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsubscribe()

	select {
	case _, ok := <-updates:
		if ok {
			t.Error("received record after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestUpsertFanout(t *testing.T) {
	srv, client := startTestServer(t)
	ctx := context.Background()

	rs := &state.ReviewState{ID: "romans-8-v1", Ease: 2.5}
	groups := []string{"family", "study-group"}
	if err := client.UpsertFanout(ctx, groups, "romans-8", "romans-8-v1", rs); err != nil {
		t.Fatalf("UpsertFanout: %v", err)
	}

	for _, g := range groups {
		if got := len(srv.FetchAll(g)); got != 1 {
			t.Errorf("group %s feed holds %d records, want 1", g, got)
		}
	}
}
