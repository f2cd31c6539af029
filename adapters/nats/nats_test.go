package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/occigate/adapters/nats"
	"github.com/artpar/occigate/core/events"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject: subject, data: data})
	return nil
}

func TestForwarder_Subscribe(t *testing.T) {
	pub := &fakePublisher{}
	bus := events.NewBus(zerolog.Nop())
	nats.NewForwarder(pub, "cloud", zerolog.Nop()).Subscribe(bus)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), events.Event{
		Name:     events.EntityCreated,
		Location: "/compute/vm-1",
		Category: "http://schemas.ogf.org/occi/infrastructure#compute",
		Data:     map[string]any{"id": "vm-1"},
		Time:     at,
	})
	bus.Publish(context.Background(), events.Event{Name: events.MixinDeclared, Category: "http://example.com/tags#prod"})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "cloud.entity.created", pub.msgs[0].subject)
	assert.Equal(t, "cloud.mixin.declared", pub.msgs[1].subject)

	var got events.Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "/compute/vm-1", got.Location)
	assert.Equal(t, "vm-1", got.Data["id"])
	assert.True(t, got.Time.Equal(at))
}

func TestForwarder_DefaultPrefix(t *testing.T) {
	f := nats.NewForwarder(&fakePublisher{}, "", zerolog.Nop())
	assert.Equal(t, "occi.state.changed", f.Subject(events.Event{Name: events.StateChanged}))
}

func TestForwarder_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	f := nats.NewForwarder(pub, "occi", zerolog.Nop())

	err := f.Forward(context.Background(), events.Event{Name: events.EntityDeleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "occi.entity.deleted")
}
