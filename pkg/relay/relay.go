// Package relay fans engine change events out to realtime subscribers
// grouped by session id. It performs no buffering or transformation;
// each event is forwarded synchronously in emission order.
package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/ggbconnect/internal/observability"
	"github.com/harun/ggbconnect/pkg/engine"
)

// Event is one relayed change notification
type Event struct {
	Event     string        `json:"event"` // add, remove, update, rename
	SessionID string        `json:"sessionId"`
	Args      []interface{} `json:"args"`
	Seq       int64         `json:"seq"`
	Timestamp int64         `json:"timestamp"`
}

// Subscriber receives relayed events for the groups it has joined
type Subscriber interface {
	ID() string
	Send(event Event) error
}

// Relay manages per-session broadcast groups
type Relay struct {
	logger zerolog.Logger
	seq    uint64

	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

// New creates an empty relay
func New(logger zerolog.Logger) *Relay {
	observability.EnsureRegistered()

	return &Relay{
		logger: logger.With().Str("component", "relay").Logger(),
		groups: make(map[string]map[string]Subscriber),
	}
}

// Bind registers the relay's listener for every change kind on a handle.
// Called once per session at handshake time.
func (r *Relay) Bind(sessionID string, handle engine.Handle) {
	for _, kind := range engine.EventKinds {
		kind := kind
		handle.OnEvent(kind, func(args ...interface{}) {
			r.Publish(sessionID, kind, args)
		})
	}
}

// Join adds a subscriber to a session's broadcast group
func (r *Relay) Join(sessionID string, sub Subscriber) {
	r.mu.Lock()
	group, exists := r.groups[sessionID]
	if !exists {
		group = make(map[string]Subscriber)
		r.groups[sessionID] = group
	}
	group[sub.ID()] = sub
	total := r.subscriberCountLocked()
	r.mu.Unlock()

	observability.SetActiveSubscribers(total)
	r.logger.Debug().
		Str("sessionId", sessionID).
		Str("subscriberId", sub.ID()).
		Msg("Subscriber joined")
}

// Leave removes a subscriber from one session's group
func (r *Relay) Leave(sessionID, subscriberID string) {
	r.mu.Lock()
	if group, exists := r.groups[sessionID]; exists {
		delete(group, subscriberID)
		if len(group) == 0 {
			delete(r.groups, sessionID)
		}
	}
	total := r.subscriberCountLocked()
	r.mu.Unlock()

	observability.SetActiveSubscribers(total)
}

// LeaveAll removes a subscriber from every group it has joined.
// Used when a realtime connection closes.
func (r *Relay) LeaveAll(subscriberID string) {
	r.mu.Lock()
	for sessionID, group := range r.groups {
		delete(group, subscriberID)
		if len(group) == 0 {
			delete(r.groups, sessionID)
		}
	}
	total := r.subscriberCountLocked()
	r.mu.Unlock()

	observability.SetActiveSubscribers(total)
}

// Publish forwards one engine event to every subscriber in the session's
// group, synchronously and in call order.
func (r *Relay) Publish(sessionID string, kind engine.EventKind, args []interface{}) {
	event := Event{
		Event:     string(kind),
		SessionID: sessionID,
		Args:      args,
		Seq:       int64(atomic.AddUint64(&r.seq, 1)),
		Timestamp: time.Now().UnixMilli(),
	}

	r.mu.RLock()
	group := r.groups[sessionID]
	subs := make([]Subscriber, 0, len(group))
	for _, sub := range group {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	observability.RecordBroadcast(string(kind))

	if len(subs) == 0 {
		return
	}

	failed := 0
	for _, sub := range subs {
		if err := sub.Send(event); err != nil {
			failed++
			r.logger.Warn().
				Err(err).
				Str("sessionId", sessionID).
				Str("subscriberId", sub.ID()).
				Str("event", event.Event).
				Msg("Failed to deliver event")
		}
	}

	r.logger.Debug().
		Str("sessionId", sessionID).
		Str("event", event.Event).
		Int64("seq", event.Seq).
		Int("delivered", len(subs)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// GroupSize returns the subscriber count for one session
func (r *Relay) GroupSize(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[sessionID])
}

// SubscriberCount returns the total subscriber count across all groups
func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscriberCountLocked()
}

func (r *Relay) subscriberCountLocked() int {
	total := 0
	for _, group := range r.groups {
		total += len(group)
	}
	return total
}
