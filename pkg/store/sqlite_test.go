package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *SQLiteGateway {
	t.Helper()

	g, err := NewSQLiteGateway(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestUpsertSession_CreateIfAbsent(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertSession(ctx, "s1", "1.0"))

	s, err := g.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)
	assert.Equal(t, "1.0", s.Version)
	assert.Nil(t, s.Doc)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestUpsertSession_ConflictPreservesVersion(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertSession(ctx, "s1", "1.0"))
	require.NoError(t, g.UpsertSession(ctx, "s1", "2.0"))

	s, err := g.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "1.0", s.Version)
}

func TestUpdateDocument(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertSession(ctx, "s1", "1.0"))
	require.NoError(t, g.UpdateDocument(ctx, "s1", "UEsDBA=="))

	s, err := g.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s.Doc)
	assert.Equal(t, "UEsDBA==", *s.Doc)
}

func TestUpdateDocument_MissingRow(t *testing.T) {
	g := newTestGateway(t)

	err := g.UpdateDocument(context.Background(), "ghost", "doc")
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestGetSession_MissingRow(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.GetSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRowNotFound)
}
