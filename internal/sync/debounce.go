package sync

import (
	gosync "sync"
	"time"
)

// Debouncer coalesces rapid successive triggers into a single call to fn
// after a quiet period. A trigger that arrives before a pending timer
// fires cancels and restarts it, so a burst of local changes produces one
// outbound write. Used for low-urgency sync (profile, theme) where every
// intermediate value is superseded by the last one anyway.
type Debouncer struct {
	mu    gosync.Mutex
	quiet time.Duration
	timer *time.Timer
	fn    func()
}

// NewDebouncer creates a debouncer that calls fn once per quiet period.
func NewDebouncer(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

// Trigger schedules fn after the quiet period, replacing any pending
// schedule.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.fn)
}

// Stop cancels any pending call. Safe to call multiple times; always call
// on teardown so no timer outlives the session.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
