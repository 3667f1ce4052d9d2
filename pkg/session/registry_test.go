package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()

	record := &Record{ID: "s1", Version: "1.0"}
	stored, created := r.Put(record)
	require.True(t, created)
	assert.False(t, stored.CreatedAt.IsZero())

	got, exists := r.Get("s1")
	require.True(t, exists)
	assert.Equal(t, record, got)
	assert.True(t, r.Has("s1"))
	assert.Equal(t, 1, r.Count())

	removed, exists := r.Remove("s1")
	require.True(t, exists)
	assert.Equal(t, record, removed)
	assert.False(t, r.Has("s1"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_PutKeepsExisting(t *testing.T) {
	r := NewRegistry()

	first := &Record{ID: "s1", Version: "1.0"}
	_, created := r.Put(first)
	require.True(t, created)

	second := &Record{ID: "s1", Version: "2.0"}
	existing, created := r.Put(second)
	assert.False(t, created)
	assert.Same(t, first, existing)

	got, _ := r.Get("s1")
	assert.Equal(t, "1.0", got.Version)
}

func TestRegistry_RemoveMissing(t *testing.T) {
	r := NewRegistry()

	record, exists := r.Remove("ghost")
	assert.False(t, exists)
	assert.Nil(t, record)
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Put(&Record{ID: "s1", Version: "1.0"})

	snapshot, exists := r.Snapshot("s1")
	require.True(t, exists)
	assert.Empty(t, snapshot)

	r.SetSnapshot("s1", "doc-bytes")
	snapshot, exists = r.Snapshot("s1")
	require.True(t, exists)
	assert.Equal(t, "doc-bytes", snapshot)

	_, exists = r.Snapshot("ghost")
	assert.False(t, exists)
}

func TestRegistry_IdleSessions(t *testing.T) {
	r := NewRegistry()
	r.Put(&Record{ID: "stale", Version: "1.0"})
	r.Put(&Record{ID: "fresh", Version: "1.0"})

	// Backdate one record's activity
	r.mu.Lock()
	r.records["stale"].lastActivity = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	ids := r.IdleSessions(30 * time.Minute)
	assert.Equal(t, []string{"stale"}, ids)

	r.Touch("stale")
	assert.Empty(t, r.IdleSessions(30*time.Minute))
}
