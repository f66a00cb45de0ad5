// Package events fans out state transitions, material changes and
// evaluation snapshots to in-process subscribers. Publication is
// fire-and-forget: a slow subscriber loses events after a short deadline
// and the core never stalls on it.
package events

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/extrusight/extrusight/internal/models"
	"github.com/extrusight/extrusight/internal/telemetry"
)

// Type tags the payload carried by an event.
type Type string

const (
	TypeStateTransition Type = "state_transition"
	TypeMaterialChange  Type = "material_change"
	TypeEvaluation      Type = "evaluation"
)

// Event is one sink notification. Payload holds a models.StateTransition,
// models.MaterialChange or models.Evaluation depending on Type.
type Event struct {
	ID      string      `json:"id"`
	Type    Type        `json:"type"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// Sink receives core notifications. Implementations must not block the
// caller beyond the configured deadline.
type Sink interface {
	PublishTransition(t models.StateTransition)
	PublishMaterialChange(m models.MaterialChange)
	PublishEvaluation(e models.Evaluation)
}

// DefaultPublishTimeout bounds how long a publish may wait on one
// subscriber before the event is dropped for it.
const DefaultPublishTimeout = 2 * time.Second

// Hub is the in-process Sink implementation.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	timeout     time.Duration
	entropy     *ulid.MonotonicEntropy
	entropyMu   sync.Mutex
}

// NewHub creates a hub. timeout <= 0 selects DefaultPublishTimeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		timeout:     timeout,
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Subscribe registers a subscriber and returns its ID and channel. The
// buffer absorbs bursts; events beyond it are dropped after the deadline.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id := h.newID()

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// PublishTransition implements Sink.
func (h *Hub) PublishTransition(t models.StateTransition) {
	h.publish(Event{ID: h.newID(), Type: TypeStateTransition, At: t.At, Payload: t})
}

// PublishMaterialChange implements Sink.
func (h *Hub) PublishMaterialChange(m models.MaterialChange) {
	h.publish(Event{ID: h.newID(), Type: TypeMaterialChange, At: m.At, Payload: m})
}

// PublishEvaluation implements Sink.
func (h *Hub) PublishEvaluation(e models.Evaluation) {
	h.publish(Event{ID: h.newID(), Type: TypeEvaluation, At: e.At, Payload: e})
}

func (h *Hub) publish(event Event) {
	h.mu.RLock()
	subscribers := make([]chan Event, 0, len(h.subscribers))
	for _, ch := range h.subscribers {
		subscribers = append(subscribers, ch)
	}
	h.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	// One deadline shared by all subscribers: once it expires, remaining
	// full buffers drop immediately.
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	expired := false

	for _, ch := range subscribers {
		select {
		case ch <- event:
			continue
		default:
		}
		if expired {
			h.drop(event)
			continue
		}
		select {
		case ch <- event:
		case <-timer.C:
			expired = true
			h.drop(event)
		}
	}
}

func (h *Hub) drop(event Event) {
	telemetry.DroppedEvents.WithLabelValues(string(event.Type)).Inc()
	log.Debug().Str("type", string(event.Type)).Msg("Event dropped, subscriber too slow")
}

func (h *Hub) newID() string {
	h.entropyMu.Lock()
	defer h.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), h.entropy).String()
}
