package engine

import (
	"sync"
	"time"
)

// Registry is the in-memory store of live execution records plus the
// bounded terminal history.
//
// Contract:
//   - Concurrency: safe for concurrent use; all mutation happens under one
//     mutex so interleaved timer callbacks never observe partial state.
//   - Ownership: only the controller and simulator mutate records, via
//     update(). External readers get snapshot copies.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*Record
	history  []HistoryEntry
	capacity int
}

// DefaultHistoryCapacity bounds the terminal history FIFO.
const DefaultHistoryCapacity = 50

// NewRegistry creates an empty registry with the given history capacity.
// capacity <= 0 selects DefaultHistoryCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Registry{
		records:  make(map[string]*Record),
		capacity: capacity,
	}
}

// put inserts a new record. The registry takes ownership of the pointer.
func (r *Registry) put(rec *Record) {
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()
}

// putTerminal inserts a record that is already terminal and snapshots it
// into history in the same critical section.
func (r *Registry) putTerminal(rec *Record) {
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.appendHistory(rec)
	r.mu.Unlock()
}

// update applies fn to the record under the registry lock. Returns false if
// the id is unknown. fn must not retain the pointer.
func (r *Registry) update(id string, fn func(*Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Get returns a snapshot of the record, if present.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// appendHistory snapshots a terminal record into the bounded FIFO,
// evicting the oldest entry at capacity. Caller must hold the lock via
// update(); this private variant takes it itself for direct use.
func (r *Registry) appendHistory(rec *Record) {
	entry := HistoryEntry{Record: rec.snapshot(), RecordedAt: time.Now()}
	if len(r.history) >= r.capacity {
		// Drop oldest; shift in place to keep the backing array bounded.
		copy(r.history, r.history[1:])
		r.history[len(r.history)-1] = entry
		return
	}
	r.history = append(r.history, entry)
}

// recordTerminal applies fn to the record and, if fn left it terminal,
// appends a history snapshot in the same critical section. Returns false
// if the id is unknown or the record was already terminal (fn not called).
func (r *Registry) recordTerminal(id string, fn func(*Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}
	fn(rec)
	if rec.Status.Terminal() {
		r.appendHistory(rec)
	}
	return true
}

// History returns up to limit entries, most recent first. limit <= 0 or
// beyond capacity returns everything retained.
func (r *Registry) History(limit int) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// Cleanup removes terminal live records whose end time is older than
// maxAge. History entries are unaffected. Returns the eviction count.
func (r *Registry) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.records {
		if rec.Status.Terminal() && rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
