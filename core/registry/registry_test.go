package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/artpar/occigate/core/schema"
)

const scheme = "http://example.com/occi#"

func makeKind(term string) *schema.Kind {
	return schema.NewKind(scheme, term, term, nil, "/"+term+"/", nil)
}

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New() returned nil")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New()
	compute := makeKind("compute")

	if err := r.Register(compute); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := r.Get(scheme + "compute")
	if !ok {
		t.Fatal("Get() should find registered kind")
	}
	if got != compute {
		t.Error("Get() returned a different object")
	}
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	r := New()
	if err := r.Register(makeKind("compute")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Same identity, different object: still a duplicate.
	err := r.Register(makeKind("compute"))
	if !errors.Is(err, schema.ErrDuplicateCategory) {
		t.Errorf("Register() error = %v, want duplicate category", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Bootstrap(t *testing.T) {
	r := New()
	compute := makeKind("compute")
	storage := makeKind("storage")

	if err := r.Bootstrap(compute, storage); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := r.Bootstrap(compute, storage); err != nil {
		t.Errorf("Bootstrap() of the same objects should be a no-op, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	network := makeKind("network")
	err := r.Bootstrap(network, makeKind("compute"))
	if !errors.Is(err, schema.ErrDuplicateCategory) {
		t.Fatalf("Bootstrap() error = %v, want duplicate category", err)
	}
	if _, ok := r.Get(network.Identifier()); ok {
		t.Error("a failed Bootstrap() should register nothing")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := New()
	compute := makeKind("compute")
	_ = r.Register(compute)

	if err := r.Unregister(compute.Identifier()); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, ok := r.Get(compute.Identifier()); ok {
		t.Error("Get() should not find unregistered kind")
	}

	err := r.Unregister(compute.Identifier())
	if !errors.Is(err, schema.ErrCategoryNotFound) {
		t.Errorf("Unregister() error = %v, want category not found", err)
	}

	// The identity is free again.
	if err := r.Register(makeKind("compute")); err != nil {
		t.Errorf("Register() after Unregister() error = %v", err)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := New()
	_, err := r.Lookup(scheme + "missing")
	if !errors.Is(err, schema.ErrCategoryNotFound) {
		t.Errorf("Lookup() error = %v, want category not found", err)
	}
}

func TestRegistry_SelectAndRequire(t *testing.T) {
	r := New()
	compute := makeKind("compute")
	tpl := schema.NewMixin(scheme, "tpl", "Template", nil, "/tpl/", nil)
	start := schema.NewAction(scheme, "start", "Start", nil)
	if err := r.Bootstrap(compute, tpl, start); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	refs := []schema.Ref{
		{Scheme: scheme, Term: "tpl"},
		{Scheme: scheme, Term: "unknown"},
		{Scheme: scheme, Term: "compute"},
	}

	got := r.Select(refs, nil)
	if len(got) != 2 || got[0] != tpl || got[1] != compute {
		t.Errorf("Select() = %v, want [tpl compute]", got)
	}

	got = r.Select(refs, OfClass(schema.ClassKind))
	if len(got) != 1 || got[0] != compute {
		t.Errorf("Select(kinds) = %v, want [compute]", got)
	}

	if _, err := r.Require(schema.Ref{Scheme: scheme, Term: "start"}, OfClass(schema.ClassAction)); err != nil {
		t.Errorf("Require() error = %v", err)
	}
	_, err := r.Require(schema.Ref{Scheme: scheme, Term: "start"}, OfClass(schema.ClassKind))
	if !errors.Is(err, schema.ErrCategoryNotFound) {
		t.Errorf("Require() with filter error = %v, want category not found", err)
	}
}

func TestRegistry_ByClass(t *testing.T) {
	r := New()
	_ = r.Bootstrap(
		makeKind("a"),
		schema.NewMixin(scheme, "m", "", nil, "/m/", nil),
		makeKind("b"),
		schema.NewAction(scheme, "x", "", nil),
	)

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0].Term != "a" || kinds[1].Term != "b" {
		t.Errorf("Kinds() = %v, want [a b] in registration order", kinds)
	}
	if len(r.Mixins()) != 1 {
		t.Errorf("Mixins() has %d entries, want 1", len(r.Mixins()))
	}
	if len(r.Actions()) != 1 {
		t.Errorf("Actions() has %d entries, want 1", len(r.Actions()))
	}
	if len(r.All(nil)) != 4 {
		t.Errorf("All() has %d entries, want 4", len(r.All(nil)))
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Register(makeKind("compute"))
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("%d concurrent registrations succeeded, want exactly 1", ok)
	}
}
