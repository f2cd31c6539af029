package schema

// Action is a named operation with its own parameter schema.
type Action struct {
	Category

	// Attributes is the parameter schema, e.g. "method" for stop.
	Attributes Attributes
}

// NewAction creates an action.
func NewAction(scheme, term, title string, params Attributes) *Action {
	return &Action{
		Category:   Category{Scheme: scheme, Term: term, Title: title},
		Attributes: params,
	}
}

// Class returns ClassAction.
func (a *Action) Class() Class {
	return ClassAction
}
