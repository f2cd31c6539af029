package schema

import "sort"

// Attribute defines one attribute of a kind, mixin or action schema.
type Attribute struct {
	// Name is the fully qualified attribute name, e.g. "occi.compute.cores".
	Name string

	// Type restricts the accepted value type. TypeAny accepts all.
	Type ValueType

	// Mutable attributes may be written by clients after creation.
	Mutable bool

	// Mandatory attributes must hold a non-empty value.
	Mandatory bool

	// Unique attributes may not share a value with another instance of
	// the same kind or mixin.
	Unique bool

	// Default is applied on creation when no value is supplied.
	Default Value

	// Description for documentation and rendering.
	Description string
}

// Attributes is an ordered attribute schema.
type Attributes []Attribute

// Get returns the definition with the given name.
func (as Attributes) Get(name string) (Attribute, bool) {
	for _, a := range as {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Names returns the attribute names in schema order.
func (as Attributes) Names() []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name
	}
	return names
}

// merge combines two definitions of the same attribute. The strictest
// constraint wins on every flag.
func (a Attribute) merge(b Attribute) Attribute {
	out := a
	out.Mandatory = a.Mandatory || b.Mandatory
	out.Unique = a.Unique || b.Unique
	out.Mutable = a.Mutable && b.Mutable
	if out.Type == TypeAny {
		out.Type = b.Type
	}
	if !out.Default.IsSet() {
		out.Default = b.Default
	}
	if out.Description == "" {
		out.Description = b.Description
	}
	return out
}

// Union merges schemas in order. Attributes keep the position of their first
// definition; repeated definitions are merged with the strictest-wins policy.
func Union(schemas ...Attributes) Attributes {
	var out Attributes
	index := make(map[string]int)
	for _, s := range schemas {
		for _, a := range s {
			if i, ok := index[a.Name]; ok {
				out[i] = out[i].merge(a)
				continue
			}
			index[a.Name] = len(out)
			out = append(out, a)
		}
	}
	return out
}

// EffectiveAttributes returns the schema of an instance of kind carrying mixins:
// the kind's parent chain (root first), the kind itself, then each mixin.
func EffectiveAttributes(kind *Kind, mixins []*Mixin) Attributes {
	var schemas []Attributes
	if kind != nil {
		for _, k := range kind.Lineage() {
			schemas = append(schemas, k.Attributes)
		}
	}
	for _, m := range mixins {
		schemas = append(schemas, m.Attributes)
	}
	return Union(schemas...)
}

// EffectiveActions returns the actions applicable to an instance of kind
// carrying mixins, de-duplicated by identifier.
func EffectiveActions(kind *Kind, mixins []*Mixin) []*Action {
	var out []*Action
	seen := make(map[string]bool)
	add := func(actions []*Action) {
		for _, a := range actions {
			if !seen[a.Identifier()] {
				seen[a.Identifier()] = true
				out = append(out, a)
			}
		}
	}
	if kind != nil {
		for _, k := range kind.Lineage() {
			add(k.Actions)
		}
	}
	for _, m := range mixins {
		add(m.Actions)
	}
	return out
}

// SortedNames returns the keys of vs in lexical order.
func SortedNames(vs Values) []string {
	names := make([]string, 0, len(vs))
	for k := range vs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
