// Package events provides the audit event capture sink.
package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b0ase/kintsugi/internal/domain"
)

// Event is a capture request.
type Event struct {
	Source     string
	EventType  domain.EventType
	ExternalID string
	SessionID  string
	Payload    any
	Metadata   map[string]any
}

// Sink receives audit events. Callers treat capture as best-effort.
type Sink interface {
	Capture(ctx context.Context, ev Event) error
}

// Store persists audit events.
type Store interface {
	CreateEvent(ctx context.Context, event *domain.Event) error
}

// Recorder is a Sink that stamps events and writes them to a Store.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Capture records an event.
func (r *Recorder) Capture(ctx context.Context, ev Event) error {
	event, err := Build(ev, r.now())
	if err != nil {
		return err
	}
	return r.store.CreateEvent(ctx, event)
}

// Build converts a capture request into a persisted event record.
func Build(ev Event, ts time.Time) (*domain.Event, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var metadata json.RawMessage
	if len(ev.Metadata) > 0 {
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	source := ev.Source
	if source == "" {
		source = domain.EventSourceAgent
	}

	return &domain.Event{
		EventID:     "evt_" + uuid.New().String(),
		Source:      source,
		Type:        ev.EventType,
		ExternalID:  ev.ExternalID,
		SessionID:   ev.SessionID,
		Payload:     payload,
		Metadata:    metadata,
		ContentHash: ContentHash(ev.EventType, ev.ExternalID, payload),
		Ts:          ts,
	}, nil
}

// ContentHash is the hex SHA-256 of the event type, external id and payload,
// separated by newlines.
func ContentHash(eventType domain.EventType, externalID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte{'\n'})
	h.Write([]byte(externalID))
	h.Write([]byte{'\n'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MemorySink keeps captured events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes subsequent captures return err after recording.
func (m *MemorySink) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Capture records ev.
func (m *MemorySink) Capture(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

// Events returns a copy of the captured events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType returns captured events with the given type.
func (m *MemorySink) OfType(t domain.EventType) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}
