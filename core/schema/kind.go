package schema

import "context"

// Factory builds instances of a kind. It is how the core instantiates
// compute, storage or link entities without knowing their concrete types.
type Factory interface {
	New(ctx context.Context, in FactoryInput) (Instance, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, in FactoryInput) (Instance, error)

// New calls f(ctx, in).
func (f FactoryFunc) New(ctx context.Context, in FactoryInput) (Instance, error) {
	return f(ctx, in)
}

// FactoryInput carries everything a factory needs to build an instance.
type FactoryInput struct {
	// ID is the identifier assigned to the new instance.
	ID string

	// Attributes are the client-supplied attribute values.
	Attributes Values

	// Mixins are the mixins to attach on creation.
	Mixins []*Mixin
}

// Kind is the primary type of an entity.
type Kind struct {
	Category

	// Parent is the kind this kind specialises, nil for the root.
	Parent *Kind

	// Attributes is the kind's own attribute schema.
	Attributes Attributes

	// Actions lists the actions instances of this kind support.
	Actions []*Action

	// Location is the collection prefix, e.g. "/compute/".
	Location string

	// Factory builds new instances. Abstract kinds have none.
	Factory Factory

	members
}

// NewKind creates a kind.
func NewKind(scheme, term, title string, parent *Kind, location string, attrs Attributes, actions ...*Action) *Kind {
	return &Kind{
		Category:   Category{Scheme: scheme, Term: term, Title: title},
		Parent:     parent,
		Attributes: attrs,
		Actions:    actions,
		Location:   location,
	}
}

// Class returns ClassKind.
func (k *Kind) Class() Class {
	return ClassKind
}

// Lineage returns the parent chain, root first, ending with k itself.
func (k *Kind) Lineage() []*Kind {
	var chain []*Kind
	for c := k; c != nil; c = c.Parent {
		chain = append([]*Kind{c}, chain...)
	}
	return chain
}

// IsA reports whether k is other or descends from it.
func (k *Kind) IsA(other *Kind) bool {
	for c := k; c != nil; c = c.Parent {
		if c == other {
			return true
		}
	}
	return false
}

// Action returns the supported action with the given identifier.
func (k *Kind) Action(id string) (*Action, bool) {
	for _, c := range k.Lineage() {
		for _, a := range c.Actions {
			if a.Identifier() == id {
				return a, true
			}
		}
	}
	return nil, false
}
