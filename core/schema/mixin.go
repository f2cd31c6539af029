package schema

// Mixin layers attributes and actions onto an entity without changing its kind.
type Mixin struct {
	Category

	// Related is the kind or mixin this mixin applies to, if any.
	Related Type

	// Attributes is the mixin's own attribute schema.
	Attributes Attributes

	// Actions added by the mixin.
	Actions []*Action

	// Location is the collection of entities carrying the mixin.
	Location string

	// UserDefined marks mixins declared through the query interface.
	// Only those may be removed again.
	UserDefined bool

	members
}

// NewMixin creates a mixin.
func NewMixin(scheme, term, title string, related Type, location string, attrs Attributes, actions ...*Action) *Mixin {
	return &Mixin{
		Category:   Category{Scheme: scheme, Term: term, Title: title},
		Related:    related,
		Attributes: attrs,
		Actions:    actions,
		Location:   location,
	}
}

// Class returns ClassMixin.
func (m *Mixin) Class() Class {
	return ClassMixin
}

// HasMixin reports whether mixins contains m.
func HasMixin(mixins []*Mixin, m *Mixin) bool {
	for _, x := range mixins {
		if x == m {
			return true
		}
	}
	return false
}
