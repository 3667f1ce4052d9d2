package session

import "errors"

// Error sentinels for the operation failure taxonomy. Callers classify
// failures with errors.Is; the transport layer maps them to status codes.
var (
	// ErrInvalidInput marks missing or malformed identifiers and scripts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks operations addressing an id with no active record.
	ErrNotFound = errors.New("session not found")

	// ErrEngine marks commands or exports the engine handle rejected or failed.
	ErrEngine = errors.New("engine failure")

	// ErrPersistence marks failed durable writes. In-memory state is not
	// rolled back; the snapshot write happens only after a durable success.
	ErrPersistence = errors.New("persistence failure")

	// ErrTimeout marks engine or persistence calls that exceeded the
	// configured deadline.
	ErrTimeout = errors.New("operation timed out")
)
