// Package registry is the category registry: the catalogue of every kind,
// mixin and action known to the server, keyed by "scheme#term".
package registry

import (
	"sync"

	"github.com/artpar/occigate/core/schema"
)

// Filter restricts which categories a lookup may return. A nil Filter
// accepts everything.
type Filter func(schema.Type) bool

// OfClass returns a filter accepting the given category classes.
func OfClass(classes ...schema.Class) Filter {
	return func(t schema.Type) bool {
		for _, c := range classes {
			if t.Class() == c {
				return true
			}
		}
		return false
	}
}

func (f Filter) accepts(t schema.Type) bool {
	return f == nil || f(t)
}

// Registry holds categories in registration order.
type Registry struct {
	mu sync.RWMutex

	byID  map[string]schema.Type
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID: make(map[string]schema.Type),
	}
}

// Register adds a category. It fails with DuplicateCategory if the
// identifier is taken.
func (r *Registry) Register(t schema.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.register(t)
}

func (r *Registry) register(t schema.Type) error {
	id := t.Identifier()
	if _, exists := r.byID[id]; exists {
		return schema.Errorf(schema.CodeDuplicateCategory, "category %s already registered", id)
	}
	r.byID[id] = t
	r.order = append(r.order, id)
	return nil
}

// Bootstrap registers the given categories at start-up. Registering the
// same object twice is a no-op; a different object under a taken identifier
// still fails. Nothing is registered if any category conflicts.
func (r *Registry) Bootstrap(ts ...schema.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]schema.Type, len(ts))
	for _, t := range ts {
		id := t.Identifier()
		existing, ok := r.byID[id]
		if !ok {
			existing, ok = seen[id]
		}
		if ok && existing != t {
			return schema.Errorf(schema.CodeDuplicateCategory, "category %s already registered", id)
		}
		seen[id] = t
	}

	for _, t := range ts {
		if _, ok := r.byID[t.Identifier()]; ok {
			continue
		}
		if err := r.register(t); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a category. It fails with CategoryNotFound if absent.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return schema.Errorf(schema.CodeCategoryNotFound, "category %s not found", id)
	}
	delete(r.byID, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the category with the given identifier.
func (r *Registry) Get(id string) (schema.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	return t, ok
}

// Lookup is Get in error form.
func (r *Registry) Lookup(id string) (schema.Type, error) {
	t, ok := r.Get(id)
	if !ok {
		return nil, schema.Errorf(schema.CodeCategoryNotFound, "category %s not found", id)
	}
	return t, nil
}

// Require resolves a reference that passes filter, failing with
// CategoryNotFound otherwise.
func (r *Registry) Require(ref schema.Ref, filter Filter) (schema.Type, error) {
	t, ok := r.Get(ref.Identifier())
	if !ok || !filter.accepts(t) {
		return nil, schema.Errorf(schema.CodeCategoryNotFound, "category %s not found", ref.Identifier())
	}
	return t, nil
}

// Select resolves references that pass filter, in the given order.
// Unknown or filtered references are dropped.
func (r *Registry) Select(refs []schema.Ref, filter Filter) []schema.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schema.Type
	for _, ref := range refs {
		if t, ok := r.byID[ref.Identifier()]; ok && filter.accepts(t) {
			out = append(out, t)
		}
	}
	return out
}

// All returns the categories passing filter in registration order.
func (r *Registry) All(filter Filter) []schema.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.Type, 0, len(r.order))
	for _, id := range r.order {
		if t := r.byID[id]; filter.accepts(t) {
			out = append(out, t)
		}
	}
	return out
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []*schema.Kind {
	var out []*schema.Kind
	for _, t := range r.All(OfClass(schema.ClassKind)) {
		out = append(out, t.(*schema.Kind))
	}
	return out
}

// Mixins returns all registered mixins.
func (r *Registry) Mixins() []*schema.Mixin {
	var out []*schema.Mixin
	for _, t := range r.All(OfClass(schema.ClassMixin)) {
		out = append(out, t.(*schema.Mixin))
	}
	return out
}

// Actions returns all registered actions.
func (r *Registry) Actions() []*schema.Action {
	var out []*schema.Action
	for _, t := range r.All(OfClass(schema.ClassAction)) {
		out = append(out, t.(*schema.Action))
	}
	return out
}

// Len returns the number of registered categories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
