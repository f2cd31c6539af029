package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/backend/dummy"
	"github.com/artpar/occigate/adapters/idgen"
	"github.com/artpar/occigate/adapters/metrics"
	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/domain/infrastructure"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.Entities == nil {
		t.Error("Entities is nil")
	}
	if m.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if m.BackendDuration == nil {
		t.Error("BackendDuration is nil")
	}
	if m.ConfigReloads == nil {
		t.Error("ConfigReloads is nil")
	}
}

func TestRequestsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestsTotal.WithLabelValues("GET", "/compute/", "200").Inc()
	m.RequestsTotal.WithLabelValues("POST", "/compute/", "201").Add(5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "occigate_requests_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("occigate_requests_total not found")
	}
}

func TestSubscribe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	bus := events.NewBus(zerolog.Nop())
	m.Subscribe(bus)

	ctx := context.Background()
	const compute = "http://schemas.ogf.org/occi/infrastructure#compute"
	bus.Publish(ctx, events.Event{Name: events.EntityCreated, Location: "/compute/a", Category: compute})
	bus.Publish(ctx, events.Event{Name: events.EntityCreated, Location: "/compute/b", Category: compute})
	bus.Publish(ctx, events.Event{Name: events.EntityDeleted, Location: "/compute/a", Category: compute})
	bus.Publish(ctx, events.Event{
		Name:     events.ActionTriggered,
		Location: "/compute/b",
		Category: "http://schemas.ogf.org/occi/infrastructure/compute/action#start",
	})
	bus.Publish(ctx, events.Event{
		Name:     events.StateChanged,
		Location: "/compute/b",
		Data:     map[string]any{"kind": compute, "from": "inactive", "to": "active"},
	})

	if got := testutil.ToFloat64(m.Entities.WithLabelValues(compute)); got != 1 {
		t.Errorf("entities = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues(events.EntityCreated)); got != 2 {
		t.Errorf("entity.created events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActionsTotal.WithLabelValues("http://schemas.ogf.org/occi/infrastructure/compute/action#start")); got != 1 {
		t.Errorf("start actions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StateTransitions.WithLabelValues(compute, "inactive", "active")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	inner := dummy.New(zerolog.Nop())
	inner.FailOn("stop", errors.New("hypervisor unreachable"))
	p := m.Instrument(inner)

	if p.Name() != inner.Name() {
		t.Errorf("Name() = %q, want %q", p.Name(), inner.Name())
	}

	rt := runtime.New(runtime.Config{IDs: idgen.NewSequential("vm"), Logger: zerolog.Nop()})
	cat := infrastructure.New(infrastructure.Deps{
		Delegator:     rt.Delegator(),
		Provider:      p,
		OnStateChange: rt.StateChanged,
		Logger:        zerolog.Nop(),
	})
	if err := rt.Bootstrap(cat.Categories()...); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	ctx := context.Background()
	vm, err := rt.CreateResource(ctx, runtime.CreateRequest{Kind: cat.Compute})
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if _, err := rt.Trigger(ctx, vm.Location(), cat.Start, nil); err != nil {
		t.Fatalf("Trigger(start) error = %v", err)
	}
	if _, err := rt.Trigger(ctx, vm.Location(), cat.Stop, nil); err == nil {
		t.Fatal("Trigger(stop) should fail")
	}

	if got := testutil.CollectAndCount(m.BackendDuration, "occigate_backend_duration_seconds"); got < 3 {
		t.Errorf("backend duration series = %d, want deploy, start and stop at least", got)
	}
	if got := testutil.ToFloat64(m.BackendErrors.WithLabelValues(inner.Name(), "stop")); got != 1 {
		t.Errorf("stop errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BackendErrors.WithLabelValues(inner.Name(), "start")); got != 0 {
		t.Errorf("start errors = %v, want 0", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/", "/"},
		{"/-/", "/-/"},
		{"/compute/", "/compute/"},
		{"/compute/6a1f2c", "/compute/:id"},
		{"/users/alice/vms/vm1", "/users/alice/vms/:id"},
		{"/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := metrics.NormalizePath(tt.input)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
