// Package events is the in-process lifecycle event bus. The runtime
// publishes entity, link, action and mixin events; metrics and the NATS
// forwarder subscribe.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event names.
const (
	EntityCreated      = "entity.created"
	EntityUpdated      = "entity.updated"
	EntityDeleted      = "entity.deleted"
	LinkCreated        = "link.created"
	LinkDeleted        = "link.deleted"
	ActionTriggered    = "action.triggered"
	StateChanged       = "state.changed"
	MixinDeclared      = "mixin.declared"
	MixinRemoved       = "mixin.removed"
	MixinAssociated    = "mixin.associated"
	MixinDisassociated = "mixin.disassociated"
)

// Event represents a published event.
type Event struct {
	// Name is the event name, e.g. "entity.created".
	Name string `json:"name"`

	// Location is the location of the entity or mixin concerned.
	Location string `json:"location"`

	// Category is the identifier of the kind, mixin or action concerned.
	Category string `json:"category,omitempty"`

	// Data carries the event payload, typically attribute values.
	Data map[string]any `json:"data,omitempty"`

	// Time is when the event was published.
	Time time.Time `json:"time"`
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers a handler for an event.
// Supports wildcard subscriptions:
//   - "entity.created" - exact match
//   - "entity.*" - all entity events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

func (b *Bus) matching(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	matched = append(matched, b.handlers[name]...)
	if prefix, _, ok := strings.Cut(name, "."); ok {
		matched = append(matched, b.handlers[prefix+".*"]...)
	}
	matched = append(matched, b.handlers["*"]...)
	return matched
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order, exact matches
// first. Handler errors are logged and do not stop delivery.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = b.now()
	}

	b.logger.Debug().
		Str("event", event.Name).
		Str("location", event.Location).
		Str("category", event.Category).
		Msg("event emitted")

	for _, handler := range b.matching(event.Name) {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler error")
		}
	}
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(context.WithoutCancel(ctx), event)
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.matching(event)) > 0
}
