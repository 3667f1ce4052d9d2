package session

import (
	"sync"
	"time"

	"github.com/harun/ggbconnect/pkg/engine"
)

// Record is one active session. A record exists if and only if the session
// holds a live engine handle; release removes the record entirely.
type Record struct {
	ID           string
	Version      string
	Handle       engine.Handle
	CreatedAt    time.Time
	lastActivity time.Time
	snapshot     string // last persisted document export
}

// Registry is the in-process session store: a unique-key map from session
// id to record. It is constructor-injected so tests can run isolated
// instances; nothing here is process-global.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// Put stores a new record. When a record already exists for the id, the
// existing record is returned unchanged and created is false.
func (r *Registry) Put(record *Record) (existing *Record, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.records[record.ID]; exists {
		return prev, false
	}

	now := time.Now()
	record.CreatedAt = now
	record.lastActivity = now
	r.records[record.ID] = record
	return record, true
}

// Get retrieves a record by session id
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	return record, exists
}

// Has reports whether a record exists for the id
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.records[id]
	return exists
}

// Remove deletes the record for the id, returning it when present
func (r *Registry) Remove(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if exists {
		delete(r.records, id)
	}
	return record, exists
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// Touch updates the record's last activity time
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, exists := r.records[id]; exists {
		record.lastActivity = time.Now()
	}
}

// SetSnapshot stores the last persisted document export on the record
func (r *Registry) SetSnapshot(id, doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, exists := r.records[id]; exists {
		record.snapshot = doc
	}
}

// Snapshot returns the record's last persisted document export
func (r *Registry) Snapshot(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return "", false
	}
	return record.snapshot, true
}

// IdleSessions returns the ids of sessions with no activity since the cutoff
func (r *Registry) IdleSessions(olderThan time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var ids []string
	for id, record := range r.records {
		if record.lastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
