// Package location is the bidirectional registry between URL paths and the
// objects (entities, kinds, mixins) served at them.
package location

import (
	"net/url"
	"strings"
	"sync"

	"github.com/artpar/occigate/core/schema"
)

// Registry maps locations to objects and back.
type Registry struct {
	mu sync.RWMutex

	objects   map[string]any
	locations map[any]string
	order     []string
}

// New creates an empty location registry.
func New() *Registry {
	return &Registry{
		objects:   make(map[string]any),
		locations: make(map[any]string),
	}
}

// Normalize reduces an absolute URL to its path and guarantees a leading slash.
func Normalize(loc string) string {
	if strings.Contains(loc, "://") {
		if u, err := url.Parse(loc); err == nil {
			loc = u.Path
		}
	}
	if !strings.HasPrefix(loc, "/") {
		loc = "/" + loc
	}
	return loc
}

// Register binds obj at loc. Binding the same pair twice is a no-op. It
// fails with LocationAlreadyBound if loc holds another object or obj is
// already bound elsewhere.
func (r *Registry) Register(loc string, obj any) error {
	loc = Normalize(loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.objects[loc]; ok {
		if existing == obj {
			return nil
		}
		return schema.Errorf(schema.CodeLocationAlreadyBound, "location %s is already bound", loc)
	}
	if other, ok := r.locations[obj]; ok {
		return schema.Errorf(schema.CodeLocationAlreadyBound, "object is already bound at %s", other)
	}

	r.objects[loc] = obj
	r.locations[obj] = loc
	r.order = append(r.order, loc)
	return nil
}

// Unregister removes the binding at loc. It fails with LocationNotFound if
// nothing is bound there.
func (r *Registry) Unregister(loc string) error {
	loc = Normalize(loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[loc]
	if !ok {
		return schema.Errorf(schema.CodeLocationNotFound, "nothing bound at %s", loc)
	}
	delete(r.objects, loc)
	delete(r.locations, obj)
	for i, l := range r.order {
		if l == loc {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// UnregisterObject removes the binding of obj, if any.
func (r *Registry) UnregisterObject(obj any) {
	r.mu.RLock()
	loc, ok := r.locations[obj]
	r.mu.RUnlock()
	if ok {
		_ = r.Unregister(loc)
	}
}

// Get returns the object bound at loc.
func (r *Registry) Get(loc string) (any, bool) {
	loc = Normalize(loc)

	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[loc]
	return obj, ok
}

// Lookup is Get in error form.
func (r *Registry) Lookup(loc string) (any, error) {
	obj, ok := r.Get(loc)
	if !ok {
		return nil, schema.Errorf(schema.CodeLocationNotFound, "nothing bound at %s", Normalize(loc))
	}
	return obj, nil
}

// LocationOf returns the location obj is bound at.
func (r *Registry) LocationOf(obj any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[obj]
	return loc, ok
}

// Below returns the entities whose location starts with prefix, in
// registration order. Every category in filter must match: kinds by
// inheritance, mixins by association.
func (r *Registry) Below(prefix string, filter ...schema.Type) []schema.Instance {
	prefix = Normalize(prefix)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schema.Instance
	for _, loc := range r.order {
		if !strings.HasPrefix(loc, prefix) {
			continue
		}
		inst, ok := r.objects[loc].(schema.Instance)
		if !ok || !matches(inst, filter) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// Locations returns every bound location starting with prefix, in
// registration order.
func (r *Registry) Locations(prefix string) []string {
	prefix = Normalize(prefix)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, loc := range r.order {
		if strings.HasPrefix(loc, prefix) {
			out = append(out, loc)
		}
	}
	return out
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

func matches(inst schema.Instance, filter []schema.Type) bool {
	for _, f := range filter {
		switch c := f.(type) {
		case *schema.Kind:
			if !inst.Kind().IsA(c) {
				return false
			}
		case *schema.Mixin:
			if !schema.HasMixin(inst.Mixins(), c) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
