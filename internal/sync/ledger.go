package sync

import (
	gosync "sync"
	"time"
)

// Ledger tracks, per record key, the timestamp of the most recent write
// this device issued. It is the echo-suppression mechanism: an incoming
// remote record is applied only when its updatedAt is strictly later than
// the ledger entry for the same key, so a stale echo of the device's own
// optimistic write can never overwrite newer local state.
//
// The ledger is process-local and never persisted; it starts empty on
// every session. It is an explicit per-session object rather than a
// package-level singleton so multiple sync sessions (tests, multi-account)
// can coexist without cross-talk.
//
// Entries only advance. Advance takes the max of the current and incoming
// timestamps, so out-of-order network acknowledgements cannot regress an
// entry backward.
type Ledger struct {
	mu      gosync.Mutex
	entries map[string]time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]time.Time)}
}

// Get returns the recorded timestamp for the key, or the zero time when
// the key has never been written locally.
func (l *Ledger) Get(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key]
}

// Advance raises the entry for key to t if t is later than the current
// entry. It never lowers an entry. Returns the entry after the call.
func (l *Ledger) Advance(key string, t time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.entries[key]; ok && !t.After(cur) {
		return cur
	}
	l.entries[key] = t
	return t
}

// Admits reports whether a remote record with the given key and updatedAt
// should be applied: true iff updatedAt is strictly later than the ledger
// entry (zero when absent).
func (l *Ledger) Admits(key string, updatedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return updatedAt.After(l.entries[key])
}

// Len returns the number of tracked keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
