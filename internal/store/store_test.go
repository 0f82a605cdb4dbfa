package store

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "recite.db"), testLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadEmptyReturnsSeed(t *testing.T) {
	s := openTestStore(t)

	blob := s.Load()
	if blob == nil {
		t.Fatal("Load returned nil")
	}
	if len(blob.Documents) != 0 || blob.Reviews == nil || blob.Stats == nil || blob.Active == nil {
		t.Errorf("empty store did not yield a seed blob: %+v", blob)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recite.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	blob := state.Seed()
	blob.PutDocument(&state.Document{
		ID:    "romans-8",
		Title: "Romans 8",
		Units: []state.ContentUnit{
			{ID: "romans-8-v1", Items: []state.Item{{Text: "verse", Kind: state.KindBody, Number: 1}}},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	blob.Selected = "romans-8"
	blob.ReviewFor("romans-8", "romans-8-v1").Reps = 2

	if err := s.Save(blob); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the blob must survive the process boundary.
	s2, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	got := s2.Load()
	if got.Selected != "romans-8" {
		t.Errorf("selected = %q, want romans-8", got.Selected)
	}
	rs := got.ReviewFor("romans-8", "romans-8-v1")
	if rs == nil || rs.Reps != 2 {
		t.Errorf("review state did not survive reopen: %+v", rs)
	}
}

func TestSaveReplacesFully(t *testing.T) {
	s := openTestStore(t)

	blob := state.Seed()
	blob.Selected = "first"
	if err := s.Save(blob); err != nil {
		t.Fatalf("Save: %v", err)
	}

	blob.Selected = "second"
	if err := s.Save(blob); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	if got := s.Load(); got.Selected != "second" {
		t.Errorf("selected = %q, want second", got.Selected)
	}
}

func TestLoadCorruptBytesReturnsSeed(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.conn.Exec(
		"INSERT INTO kv (key, value, saved_at) VALUES (?, ?, ?)",
		"state", []byte("{not json"), "2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("failed to plant corrupt row: %v", err)
	}

	blob := s.Load()
	if blob == nil || len(blob.Documents) != 0 {
		t.Errorf("corrupt bytes should yield seed blob, got %+v", blob)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "recite.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("failed to open store in nested dir: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}
