package controller

import (
	"sync"
	"time"
)

// Debouncer collapses rapid successive triggers into a single fn call after
// a quiet period: every Trigger resets the countdown, and fn fires exactly
// once per burst. It replaces the UI-framework effect chain the editor
// originally drove autosave with, so the semantics are testable on their
// own.
type Debouncer struct {
	mu    sync.Mutex
	d     time.Duration
	fn    func()
	timer *time.Timer
}

// NewDebouncer creates a debouncer that calls fn d after the last Trigger.
func NewDebouncer(d time.Duration, fn func()) *Debouncer {
	return &Debouncer{d: d, fn: fn}
}

// Trigger (re)starts the countdown.
func (db *Debouncer) Trigger() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, db.fn)
}

// Stop cancels a pending fire, if any.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
