package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestNewBus(t *testing.T) {
	bus := NewBus(testLogger())
	if bus == nil {
		t.Fatal("NewBus returned nil")
	}
	if bus.HasSubscribers(EntityCreated) {
		t.Error("new bus should have no subscribers")
	}
}

func TestPublish_Order(t *testing.T) {
	bus := NewBus(testLogger())

	var got []string
	bus.Subscribe("*", func(ctx context.Context, e Event) error {
		got = append(got, "all")
		return nil
	})
	bus.Subscribe("entity.*", func(ctx context.Context, e Event) error {
		got = append(got, "entity")
		return nil
	})
	bus.Subscribe(EntityCreated, func(ctx context.Context, e Event) error {
		got = append(got, "exact")
		return nil
	})
	bus.Subscribe(LinkCreated, func(ctx context.Context, e Event) error {
		got = append(got, "link")
		return nil
	})

	bus.Publish(context.Background(), Event{Name: EntityCreated, Location: "/compute/1"})

	want := []string{"exact", "entity", "all"}
	if len(got) != len(want) {
		t.Fatalf("handlers called = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublish_ErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	called := false
	bus.Subscribe(StateChanged, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(StateChanged, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Name: StateChanged})
	if !called {
		t.Error("second handler should still run")
	}
}

func TestPublish_SetsTime(t *testing.T) {
	bus := NewBus(testLogger())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var got Event
	bus.Subscribe("*", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})
	bus.Publish(context.Background(), Event{Name: MixinDeclared})
	if !got.Time.Equal(fixed) {
		t.Errorf("Time = %v, want %v", got.Time, fixed)
	}
}

func TestPublish_SubscribeFromHandler(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Subscribe(EntityDeleted, func(ctx context.Context, e Event) error {
		bus.Subscribe(EntityDeleted, func(context.Context, Event) error { return nil })
		return nil
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), Event{Name: EntityDeleted})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish deadlocked when a handler subscribed")
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(testLogger())
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(ActionTriggered, func(ctx context.Context, e Event) error {
		defer wg.Done()
		if e.Category != "start" {
			t.Errorf("Category = %q, want start", e.Category)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.PublishAsync(ctx, Event{Name: ActionTriggered, Category: "start"})
	cancel()
	wg.Wait()
}

func TestHasSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	bus.Subscribe("mixin.*", func(context.Context, Event) error { return nil })

	if !bus.HasSubscribers(MixinAssociated) {
		t.Error("wildcard subscription should count")
	}
	if bus.HasSubscribers(EntityCreated) {
		t.Error("unrelated event should have no subscribers")
	}
}
