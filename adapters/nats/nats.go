// Package nats forwards lifecycle events to a NATS server.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/events"
)

// DefaultSubjectPrefix is prepended to the event name.
const DefaultSubjectPrefix = "occi"

// Publisher is the part of *nats.Conn the forwarder uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials url with reconnect handling that logs through logger.
func Connect(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DrainTimeout(10 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to nats")
	return conn, nil
}

// Forwarder publishes every event as JSON on <prefix>.<event name>.
type Forwarder struct {
	pub    Publisher
	prefix string
	logger zerolog.Logger
}

// NewForwarder creates a forwarder. An empty prefix uses
// DefaultSubjectPrefix.
func NewForwarder(pub Publisher, prefix string, logger zerolog.Logger) *Forwarder {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		logger: logger.With().Str("component", "nats").Logger(),
	}
}

// Subscribe forwards all events published on bus.
func (f *Forwarder) Subscribe(bus *events.Bus) {
	bus.Subscribe("*", f.Forward)
}

// Subject returns the subject an event is published on.
func (f *Forwarder) Subject(e events.Event) string {
	return f.prefix + "." + e.Name
}

// Forward publishes one event. Publishing is buffered by the client, so
// this does not wait for the server.
func (f *Forwarder) Forward(_ context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	subject := f.Subject(e)
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	f.logger.Debug().Str("subject", subject).Str("location", e.Location).Msg("event forwarded")
	return nil
}
