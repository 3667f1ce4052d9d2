package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/ggbconnect/internal/observability"
	"github.com/harun/ggbconnect/pkg/commandqueue"
	"github.com/harun/ggbconnect/pkg/engine"
	"github.com/harun/ggbconnect/pkg/relay"
	"github.com/harun/ggbconnect/pkg/store"
)

// DefaultOpTimeout bounds engine and persistence calls
const DefaultOpTimeout = 30 * time.Second

// Descriptor identifies a session to external callers
type Descriptor struct {
	SessionID     string `json:"sessionId"`
	WebsocketLink string `json:"websocketLink"`
}

// Manager orchestrates the session lifecycle
type Manager struct {
	registry *Registry
	engines  engine.Factory
	gateway  store.Gateway
	relay    *relay.Relay
	queue    *commandqueue.Queue
	timeout  time.Duration
	logger   zerolog.Logger

	// Serializes handle acquisition per id so a duplicate handshake can
	// never allocate a second engine handle.
	handshakeLocks map[string]*sync.Mutex
	locksMu        sync.Mutex
}

// Config holds manager dependencies
type Config struct {
	Engines   engine.Factory
	Gateway   store.Gateway
	Relay     *relay.Relay
	Queue     *commandqueue.Queue
	OpTimeout time.Duration
	Logger    zerolog.Logger
}

// NewManager creates a session manager
func NewManager(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Engines == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("persistence gateway is required")
	}
	if cfg.Relay == nil {
		return nil, fmt.Errorf("event relay is required")
	}
	if cfg.Queue == nil {
		cfg.Queue = commandqueue.New()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}

	return &Manager{
		registry:       NewRegistry(),
		engines:        cfg.Engines,
		gateway:        cfg.Gateway,
		relay:          cfg.Relay,
		queue:          cfg.Queue,
		timeout:        cfg.OpTimeout,
		logger:         cfg.Logger.With().Str("component", "session-manager").Logger(),
		handshakeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Registry exposes the session store, primarily for the reaper and tests
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) handshakeLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.handshakeLocks[id]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.handshakeLocks[id] = lock
	return lock
}

func websocketLink(id string) string {
	return "/session/" + url.PathEscape(id)
}

// Handshake activates a session: durable row, engine handle, relay binding,
// registry record. A duplicate handshake is a no-op returning the existing
// descriptor without allocating a second handle.
func (m *Manager) Handshake(ctx context.Context, id, version string) (Descriptor, error) {
	if id == "" || version == "" {
		return Descriptor{}, fmt.Errorf("%w: sessionId and version are required", ErrInvalidInput)
	}

	if m.registry.Has(id) {
		return Descriptor{SessionID: id, WebsocketLink: websocketLink(id)}, nil
	}

	lock := m.handshakeLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: a concurrent handshake may have won
	if m.registry.Has(id) {
		return Descriptor{SessionID: id, WebsocketLink: websocketLink(id)}, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.gateway.UpsertSession(opCtx, id, version); err != nil {
		return Descriptor{}, m.classify(err, ErrPersistence)
	}

	handle, err := m.engines.Acquire(opCtx)
	if err != nil {
		// Nothing was registered; the durable row is harmless and kept
		return Descriptor{}, m.classify(err, ErrEngine)
	}

	m.relay.Bind(id, handle)

	record := &Record{
		ID:      id,
		Version: version,
		Handle:  handle,
	}
	if _, created := m.registry.Put(record); !created {
		// Unreachable while the handshake lock is held; release defensively
		_ = handle.Release(context.Background())
		return Descriptor{SessionID: id, WebsocketLink: websocketLink(id)}, nil
	}

	observability.RecordHandshake()
	observability.SetActiveSessions(m.registry.Count())

	m.logger.Info().
		Str("sessionId", id).
		Str("version", version).
		Msg("Session created")

	return Descriptor{SessionID: id, WebsocketLink: websocketLink(id)}, nil
}

// Command forwards one script instruction to the session's engine handle
// and waits for completion.
func (m *Manager) Command(ctx context.Context, id, script string) error {
	if id == "" || script == "" {
		return fmt.Errorf("%w: sessionId and command are required", ErrInvalidInput)
	}

	start := time.Now()
	_, err := m.queue.Enqueue(ctx, id, func(taskCtx context.Context) (interface{}, error) {
		record, exists := m.registry.Get(id)
		if !exists {
			return nil, ErrNotFound
		}

		opCtx, cancel := context.WithTimeout(taskCtx, m.timeout)
		defer cancel()

		if err := record.Handle.EvalScript(opCtx, script); err != nil {
			return nil, m.classify(err, ErrEngine)
		}

		m.registry.Touch(id)
		return nil, nil
	})

	observability.RecordCommand(time.Since(start), err == nil)

	if err != nil {
		m.logger.Debug().Str("sessionId", id).Err(err).Msg("Command failed")
		return err
	}
	return nil
}

// ExportState returns a point-in-time serialization of the engine state as
// raw bytes. Read-only; the record is not mutated.
func (m *Manager) ExportState(ctx context.Context, id string, format engine.Format) ([]byte, error) {
	encoded, err := m.ExportState64(ctx, id, format)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: engine returned malformed base64: %v", ErrEngine, err)
	}
	return data, nil
}

// ExportState64 returns the export as a base64 string
func (m *Manager) ExportState64(ctx context.Context, id string, format engine.Format) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	start := time.Now()
	value, err := m.queue.Enqueue(ctx, id, func(taskCtx context.Context) (interface{}, error) {
		record, exists := m.registry.Get(id)
		if !exists {
			return nil, ErrNotFound
		}

		opCtx, cancel := context.WithTimeout(taskCtx, m.timeout)
		defer cancel()

		encoded, err := record.Handle.Export64(opCtx, format)
		if err != nil {
			return nil, m.classify(err, ErrEngine)
		}
		return encoded, nil
	})
	if err != nil {
		return "", err
	}

	observability.RecordExport(string(format), time.Since(start))
	return value.(string), nil
}

// Persist exports the document, writes it durably, then stores the same
// value as the in-memory snapshot. Returns the persisted document.
func (m *Manager) Persist(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	start := time.Now()
	value, err := m.queue.Enqueue(ctx, id, func(taskCtx context.Context) (interface{}, error) {
		record, exists := m.registry.Get(id)
		if !exists {
			return nil, ErrNotFound
		}

		opCtx, cancel := context.WithTimeout(taskCtx, m.timeout)
		defer cancel()

		doc, err := record.Handle.Export64(opCtx, engine.FormatGGB)
		if err != nil {
			return nil, m.classify(err, ErrEngine)
		}

		if err := m.gateway.UpdateDocument(opCtx, id, doc); err != nil {
			return nil, m.classify(err, ErrPersistence)
		}

		// Snapshot write happens only after the durable write succeeded
		m.registry.SetSnapshot(id, doc)
		m.registry.Touch(id)
		return doc, nil
	})
	if err != nil {
		return "", err
	}

	observability.RecordPersist(time.Since(start))

	m.logger.Debug().Str("sessionId", id).Msg("Session persisted")
	return value.(string), nil
}

// Release frees the engine handle and removes the record. A second release
// for the same id reports not found: the record is gone and re-releasing a
// resource that no longer exists is meaningless.
func (m *Manager) Release(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}

	_, err := m.queue.Enqueue(ctx, id, func(taskCtx context.Context) (interface{}, error) {
		record, exists := m.registry.Get(id)
		if !exists {
			return nil, ErrNotFound
		}

		opCtx, cancel := context.WithTimeout(taskCtx, m.timeout)
		defer cancel()

		releaseErr := record.Handle.Release(opCtx)

		// The record is removed even when the engine release fails: the
		// handle must never be released twice, and a stuck record would
		// pin a dead handle forever.
		m.registry.Remove(id)

		if releaseErr != nil {
			return nil, m.classify(releaseErr, ErrEngine)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	observability.RecordRelease()
	observability.SetActiveSessions(m.registry.Count())

	m.logger.Info().Str("sessionId", id).Msg("Session released")
	return nil
}

// Subscribe joins a realtime subscriber to the session's broadcast group.
// Rejected when no record exists for the id.
func (m *Manager) Subscribe(id string, sub relay.Subscriber) error {
	if id == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if !m.registry.Has(id) {
		return ErrNotFound
	}

	m.relay.Join(id, sub)
	return nil
}

// Unsubscribe removes a subscriber from every broadcast group
func (m *Manager) Unsubscribe(subscriberID string) {
	m.relay.LeaveAll(subscriberID)
}

// classify wraps an operation failure with its taxonomy sentinel,
// preferring the timeout and not-found classes when they apply.
func (m *Manager) classify(err error, class error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", class, err)
	}
}
