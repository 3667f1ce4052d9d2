package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaper_ReleasesIdleSessions(t *testing.T) {
	m, factory, _ := newTestManager(t)

	_, err := m.Handshake(context.Background(), "stale", "1.0")
	require.NoError(t, err)
	staleHandle := factory.lastHandle()

	_, err = m.Handshake(context.Background(), "fresh", "1.0")
	require.NoError(t, err)

	registry := m.Registry()
	registry.mu.Lock()
	registry.records["stale"].lastActivity = time.Now().Add(-time.Hour)
	registry.mu.Unlock()

	reaper := NewReaper(m, 30*time.Minute, "@every 1h", m.logger)
	reaper.reap()

	assert.False(t, registry.Has("stale"))
	assert.True(t, registry.Has("fresh"))
	assert.Equal(t, 1, staleHandle.released)
}

func TestReaper_NoIdleSessionsIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Handshake(context.Background(), "fresh", "1.0")
	require.NoError(t, err)

	reaper := NewReaper(m, 30*time.Minute, "@every 1h", m.logger)
	reaper.reap()

	assert.True(t, m.Registry().Has("fresh"))
}

func TestReaper_StartStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	reaper := NewReaper(m, 30*time.Minute, "@every 1h", m.logger)

	require.NoError(t, reaper.Start())
	assert.Error(t, reaper.Start(), "double start must fail")
	require.NoError(t, reaper.Stop())
	assert.Error(t, reaper.Stop(), "double stop must fail")
}

func TestReaper_InvalidSchedule(t *testing.T) {
	m, _, _ := newTestManager(t)
	reaper := NewReaper(m, 30*time.Minute, "not a schedule", m.logger)

	assert.Error(t, reaper.Start())
}

func TestNewReaper_DefaultIdleAge(t *testing.T) {
	m, _, _ := newTestManager(t)
	reaper := NewReaper(m, 0, "@every 1h", m.logger)

	assert.Equal(t, DefaultIdleAge, reaper.idleAge)
}
