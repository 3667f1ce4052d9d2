// Package store implements the durable session record gateway.
//
// One row per session: id (primary key), version tag, creation time, and an
// optional serialized document snapshot. Rows are created by handshake with
// create-if-absent semantics and are never deleted by this subsystem.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrRowNotFound is returned when a document write addresses an id with no row.
var ErrRowNotFound = errors.New("session row not found")

// Session is one durable session record
type Session struct {
	ID        string
	Version   string
	CreatedAt time.Time
	Doc       *string
}

// Gateway is the persistence boundary consumed by the session manager
type Gateway interface {
	// UpsertSession creates the row if absent. An existing row keeps its
	// stored version; the call succeeds either way.
	UpsertSession(ctx context.Context, id, version string) error

	// UpdateDocument stores the serialized document snapshot. Returns
	// ErrRowNotFound when no row exists for the id.
	UpdateDocument(ctx context.Context, id, doc string) error

	// GetSession reads one row, ErrRowNotFound when absent.
	GetSession(ctx context.Context, id string) (*Session, error)

	Close() error
}
