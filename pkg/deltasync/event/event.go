// Package event provides the in-process notification bus through which the
// host reports catalog changes to the capture buffers.
//
// Events carry a typed payload, an identity and a timestamp. Subscribers
// receive events of their topics in publish order on a dedicated goroutine,
// so a slow handler never blocks the publisher beyond its buffer.
package event

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is the core interface for all events on the bus.
type Event interface {
	ID() string     // Unique event identifier
	Type() string   // Topic, e.g. "catalog.item.updated"
	Source() string // Publisher, e.g. the host adapter name

	Timestamp() time.Time // When the event occurred

	Data() any         // Typed payload
	DataBytes() []byte // Serialized payload for logging and transport
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID     string    `json:"id"`
	EventType   string    `json:"type"`
	EventSource string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// BaseEvent provides a generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.Meta.EventID
}

// Type returns the event topic.
func (e *BaseEvent[T]) Type() string {
	return e.Meta.EventType
}

// Source returns the event source.
func (e *BaseEvent[T]) Source() string {
	return e.Meta.EventSource
}

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload.
// The result is cached for efficiency.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort; errors are ignored for interface compliance
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id        string
	timestamp time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new event with the given topic, source, and payload.
func New[T any](eventType, source string, payload T, opts ...EventOption) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:     cfg.id,
			EventType:   eventType,
			EventSource: source,
			Timestamp:   cfg.timestamp,
		},
		Payload: payload,
	}
}

// Handler processes events.
type Handler interface {
	// Handle processes an event.
	Handle(ctx context.Context, evt Event) error

	// Handles returns the topics this handler processes.
	// An empty slice means the handler accepts all topics.
	Handles() []string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Handles returns nil (accepts all topics).
func (f HandlerFunc) Handles() []string {
	return nil
}

// TypedHandler wraps a function handling a specific payload type.
func TypedHandler[T any](
	eventTypes []string,
	fn func(ctx context.Context, payload T, meta Metadata) error,
) Handler {
	return &typedHandler[T]{
		eventTypes: eventTypes,
		fn:         fn,
	}
}

type typedHandler[T any] struct {
	eventTypes []string
	fn         func(ctx context.Context, payload T, meta Metadata) error
}

func (h *typedHandler[T]) Handle(ctx context.Context, evt Event) error {
	var payload T

	switch d := evt.Data().(type) {
	case T:
		payload = d
	case *T:
		if d == nil {
			return &EventError{Event: evt, Message: "nil payload"}
		}
		payload = *d
	default:
		// Payloads that crossed a serialization boundary
		if err := json.Unmarshal(evt.DataBytes(), &payload); err != nil {
			return &EventError{
				Event:   evt,
				Message: "unexpected payload type",
				Err:     err,
			}
		}
	}

	meta := Metadata{
		EventID:     evt.ID(),
		EventType:   evt.Type(),
		EventSource: evt.Source(),
		Timestamp:   evt.Timestamp(),
	}
	return h.fn(ctx, payload, meta)
}

func (h *typedHandler[T]) Handles() []string {
	return h.eventTypes
}

// Router dispatches an event to the first handler registered for its topic.
// It lets one subscription serve several typed handlers while keeping a
// single delivery order across their topics.
type Router struct {
	handlers map[string]Handler
	topics   []string
}

// NewRouter creates a Router over handlers, keyed by each handler's topics.
func NewRouter(handlers ...Handler) *Router {
	r := &Router{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		for _, t := range h.Handles() {
			if _, ok := r.handlers[t]; ok {
				continue
			}
			r.handlers[t] = h
			r.topics = append(r.topics, t)
		}
	}
	return r
}

// Handle implements Handler. Events with no registered handler are ignored.
func (r *Router) Handle(ctx context.Context, evt Event) error {
	h, ok := r.handlers[evt.Type()]
	if !ok {
		return nil
	}
	return h.Handle(ctx, evt)
}

// Handles returns the union of the routed topics.
func (r *Router) Handles() []string {
	return r.topics
}
