package schema

import (
	"strings"
	"sync"
)

// Class distinguishes the three category flavours.
type Class string

const (
	ClassKind   Class = "kind"
	ClassMixin  Class = "mixin"
	ClassAction Class = "action"
)

// Category is the identity shared by kinds, mixins and actions.
type Category struct {
	// Scheme is the namespace URI, conventionally ending in "#".
	Scheme string

	// Term is the name within the scheme.
	Term string

	// Title is a human-readable description.
	Title string
}

// Identifier returns the registry key "scheme#term".
func (c Category) Identifier() string {
	return Identity(c.Scheme, c.Term)
}

// Base returns the category itself.
func (c Category) Base() Category {
	return c
}

// Ref returns the (scheme, term) reference of the category.
func (c Category) Ref() Ref {
	return Ref{Scheme: c.Scheme, Term: c.Term}
}

// Identity joins a scheme and a term into a category identifier.
func Identity(scheme, term string) string {
	if scheme != "" && !strings.HasSuffix(scheme, "#") {
		scheme += "#"
	}
	return scheme + term
}

// Ref is a reference to a category by scheme and term, as parsed from the wire.
type Ref struct {
	Scheme string
	Term   string
}

// Identifier returns the registry key of the referenced category.
func (r Ref) Identifier() string {
	return Identity(r.Scheme, r.Term)
}

// Type is implemented by *Kind, *Mixin and *Action.
type Type interface {
	Identifier() string
	Base() Category
	Class() Class
}

// Instance is the view the type model has of a runtime entity.
type Instance interface {
	ID() string
	Kind() *Kind
	Mixins() []*Mixin
}

// members tracks the live instances of a kind or mixin.
type members struct {
	mu   sync.RWMutex
	list []Instance
}

// Attach records an instance. It reports false if it was already present.
func (m *members) Attach(i Instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.list {
		if e == i {
			return false
		}
	}
	m.list = append(m.list, i)
	return true
}

// Detach forgets an instance. It reports false if it was not present.
func (m *members) Detach(i Instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for idx, e := range m.list {
		if e == i {
			m.list = append(m.list[:idx:idx], m.list[idx+1:]...)
			return true
		}
	}
	return false
}

// Has reports whether the instance is attached.
func (m *members) Has(i Instance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.list {
		if e == i {
			return true
		}
	}
	return false
}

// Entities returns a snapshot of the attached instances in attach order.
func (m *members) Entities() []Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Instance, len(m.list))
	copy(out, m.list)
	return out
}
