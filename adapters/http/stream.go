package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/events"
)

const (
	// streamBuffer is the number of events a slow client may lag behind
	// before events are dropped for it.
	streamBuffer = 64

	// DefaultKeepAlive is the interval of comment lines on idle streams.
	DefaultKeepAlive = 15 * time.Second

	streamRetry = 2000
)

// EventStream fans lifecycle events out to clients of a
// text/event-stream endpoint.
type EventStream struct {
	mu        sync.Mutex
	clients   map[*streamClient]struct{}
	seq       uint64
	keepAlive time.Duration
	logger    zerolog.Logger
}

type streamClient struct {
	filter string
	ch     chan SSEEvent
}

// NewEventStream creates an event stream. Call Subscribe to feed it.
func NewEventStream(logger zerolog.Logger) *EventStream {
	return &EventStream{
		clients:   make(map[*streamClient]struct{}),
		keepAlive: DefaultKeepAlive,
		logger:    logger,
	}
}

// SetKeepAlive changes the idle keep-alive interval.
func (s *EventStream) SetKeepAlive(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepAlive = d
}

// Subscribe feeds every event of bus into the stream.
func (s *EventStream) Subscribe(bus *events.Bus) {
	bus.Subscribe("*", s.broadcast)
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *EventStream) broadcast(_ context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := SSEEvent{Event: e.Name, ID: strconv.FormatUint(s.seq, 10), Data: string(data)}
	for c := range s.clients {
		if !matchEvent(c.filter, e.Name) {
			continue
		}
		select {
		case c.ch <- msg:
		default:
			s.logger.Warn().Str("event", e.Name).Msg("event stream client too slow, event dropped")
		}
	}
	return nil
}

// matchEvent applies the bus wildcard rules to a client filter.
func matchEvent(filter, name string) bool {
	if filter == "" || filter == "*" || filter == name {
		return true
	}
	if prefix, ok := strings.CutSuffix(filter, ".*"); ok {
		return strings.HasPrefix(name, prefix+".")
	}
	return false
}

func (s *EventStream) register(filter string) *streamClient {
	c := &streamClient{filter: filter, ch: make(chan SSEEvent, streamBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *EventStream) unregister(c *streamClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ServeHTTP streams events until the client goes away. The event query
// parameter filters by name, e.g. ?event=entity.* .
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug().Err(err).Msg("clear write deadline")
	}

	c := s.register(r.URL.Query().Get("event"))
	defer s.unregister(c)

	s.mu.Lock()
	keepAlive := s.keepAlive
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := WriteSSE(w, SSEEvent{Event: "ready", Data: "{}", Retry: streamRetry}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("event stream requires a flushable writer")
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-c.ch:
			if err := WriteSSE(w, msg); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
