// Package limits bounds inbound event frequency: a fixed-window per-connection
// budget for application events, and a token-bucket admission limiter for the
// upgrade endpoint.
package limits

import (
	"sync"
	"time"
)

// Budget is the allowance for one event kind: Max events per Window.
type Budget struct {
	Max    int
	Window time.Duration
}

// Default budgets per event kind.
var (
	BudgetMessageSend = Budget{Max: 60, Window: time.Minute}
	BudgetHistory     = Budget{Max: 30, Window: time.Minute}
	BudgetTyping      = Budget{Max: 120, Window: time.Minute}
	BudgetReaction    = Budget{Max: 240, Window: time.Minute}
)

type window struct {
	start time.Time
	count int
}

// Tracker maintains one fixed window per (connection, event kind).
// All methods are safe for concurrent use. A rejection never carries side
// effects beyond the caller notifying the origin connection.
type Tracker struct {
	mu      sync.Mutex
	windows map[int64]map[string]*window
	now     func() time.Time
}

// NewTracker creates an empty budget tracker.
func NewTracker() *Tracker {
	return &Tracker{
		windows: make(map[int64]map[string]*window),
		now:     time.Now,
	}
}

// Allow records one event of the given kind against connID's budget.
// A fresh window (none yet, or the previous one elapsed) starts at count 1
// and is allowed; within a live window the event is allowed while the count
// is below b.Max.
func (t *Tracker) Allow(connID int64, kind string, b Budget) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kinds, ok := t.windows[connID]
	if !ok {
		kinds = make(map[string]*window)
		t.windows[connID] = kinds
	}

	w, ok := kinds[kind]
	if !ok || now.Sub(w.start) >= b.Window {
		kinds[kind] = &window{start: now, count: 1}
		return true
	}
	if w.count < b.Max {
		w.count++
		return true
	}
	return false
}

// Release discards all windows for a connection. Called on disconnect so
// stale counters cannot leak across sessions.
func (t *Tracker) Release(connID int64) {
	t.mu.Lock()
	delete(t.windows, connID)
	t.mu.Unlock()
}

// Tracked returns the number of connections currently holding windows.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}
