// Package engine defines the rendering engine boundary.
//
// A Handle is one live engine instance: it executes script commands,
// exports its current state, and emits change events through handlers
// registered with OnEvent. Handles are owned by exactly one session and
// released exactly once.
package engine

import (
	"context"
	"fmt"
)

// EventKind identifies one of the four change notifications an engine emits.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventRemove EventKind = "remove"
	EventUpdate EventKind = "update"
	EventRename EventKind = "rename"
)

// EventKinds lists every change notification kind.
var EventKinds = []EventKind{EventAdd, EventRemove, EventUpdate, EventRename}

// EventHandler receives the engine's positional arguments for one change event.
// The argument list is opaque to the relay; it is forwarded as-is.
type EventHandler func(args ...interface{})

// Format selects a state export encoding.
type Format string

const (
	FormatGGB Format = "ggb" // document format
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
	FormatSVG Format = "svg"
)

// ParseFormat validates a caller-supplied format selector
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatGGB, FormatPNG, FormatPDF, FormatSVG:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format: %q", s)
}

// Handle is an addressable engine instance bound to one session.
type Handle interface {
	// EvalScript executes a single script instruction and waits for completion.
	EvalScript(ctx context.Context, script string) error

	// Export returns a point-in-time serialization of the engine state.
	Export(ctx context.Context, format Format) ([]byte, error)

	// Export64 returns the export as a base64 string.
	Export64(ctx context.Context, format Format) (string, error)

	// OnEvent registers the handler invoked for the given change kind.
	// At most one handler per kind; a later call replaces the earlier one.
	OnEvent(kind EventKind, handler EventHandler)

	// Release frees the underlying engine resources. Must be called at
	// most once; the handle is unusable afterwards.
	Release(ctx context.Context) error
}

// Factory allocates engine handles for new sessions.
type Factory interface {
	Acquire(ctx context.Context) (Handle, error)
	Close() error
}
