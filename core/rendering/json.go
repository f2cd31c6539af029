package rendering

import (
	"strings"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
)

// Document is the application/json rendering, used for both requests and
// responses.
type Document struct {
	Kinds     []CategoryJSON `json:"kinds,omitempty"`
	Mixins    []CategoryJSON `json:"mixins,omitempty"`
	Actions   []CategoryJSON `json:"actions,omitempty"`
	Resources []EntityJSON   `json:"resources,omitempty"`
	Links     []EntityJSON   `json:"links,omitempty"`
	Locations []string       `json:"locations,omitempty"`
	Error     *ErrorJSON     `json:"error,omitempty"`
}

// CategoryJSON renders a kind, mixin or action.
type CategoryJSON struct {
	Scheme     string                   `json:"scheme"`
	Term       string                   `json:"term"`
	Title      string                   `json:"title,omitempty"`
	Class      string                   `json:"class,omitempty"`
	Related    []string                 `json:"related,omitempty"`
	Location   string                   `json:"location,omitempty"`
	Attributes map[string]AttributeJSON `json:"attributes,omitempty"`
	Actions    []string                 `json:"actions,omitempty"`
}

// AttributeJSON renders an attribute definition.
type AttributeJSON struct {
	Type        string `json:"type,omitempty"`
	Mutable     bool   `json:"mutable"`
	Required    bool   `json:"required"`
	Unique      bool   `json:"unique,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// EntityJSON renders a resource or link.
type EntityJSON struct {
	Kind       string         `json:"kind"`
	Mixins     []string       `json:"mixins,omitempty"`
	ID         string         `json:"id,omitempty"`
	Location   string         `json:"location,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Actions    []string       `json:"actions,omitempty"`
	Links      []LinkJSON     `json:"links,omitempty"`
	Source     string         `json:"source,omitempty"`
	Target     string         `json:"target,omitempty"`
}

// LinkJSON renders a link inline in its source resource.
type LinkJSON struct {
	Target     string         `json:"target"`
	Rel        string         `json:"rel"`
	Self       string         `json:"self,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ErrorJSON renders an error.
type ErrorJSON struct {
	Code       string             `json:"code,omitempty"`
	Message    string             `json:"message"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

// splitIdentifier cuts "scheme#term" after the '#'.
func splitIdentifier(id string) (scheme, term string) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", id
	}
	return id[:i+1], id[i+1:]
}

func (c CategoryJSON) decl() (CategoryDecl, error) {
	if c.Term == "" || c.Scheme == "" {
		return CategoryDecl{}, schema.Errorf(schema.CodeMalformedHeader, "category needs scheme and term")
	}
	d := CategoryDecl{
		Term:     c.Term,
		Scheme:   c.Scheme,
		Class:    schema.Class(c.Class),
		Title:    c.Title,
		Rel:      c.Related,
		Location: c.Location,
		Actions:  c.Actions,
	}
	names := make(schema.Values, len(c.Attributes))
	for name := range c.Attributes {
		names[name] = schema.Value{}
	}
	for _, name := range schema.SortedNames(names) {
		a := c.Attributes[name]
		d.Attributes = append(d.Attributes, schema.Attribute{Name: name, Mutable: a.Mutable, Mandatory: a.Required})
	}
	return d, nil
}

func (e EntityJSON) mergeInto(req *Request) error {
	if e.Kind != "" {
		scheme, term := splitIdentifier(e.Kind)
		req.Categories = append(req.Categories, CategoryDecl{Scheme: scheme, Term: term, Class: schema.ClassKind})
	}
	for _, m := range e.Mixins {
		scheme, term := splitIdentifier(m)
		req.Categories = append(req.Categories, CategoryDecl{Scheme: scheme, Term: term, Class: schema.ClassMixin})
	}

	attrs, err := valuesFromJSON(e.Attributes)
	if err != nil {
		return err
	}
	if req.Attributes == nil {
		req.Attributes = schema.Values{}
	}
	for k, v := range attrs {
		req.Attributes[k] = v
	}
	if e.Source != "" {
		req.Attributes[entity.AttrSource] = schema.String(e.Source)
	}
	if e.Target != "" {
		req.Attributes[entity.AttrTarget] = schema.String(e.Target)
	}

	for _, l := range e.Links {
		la, err := valuesFromJSON(l.Attributes)
		if err != nil {
			return err
		}
		req.Links = append(req.Links, LinkDecl{
			Target:     l.Target,
			Rel:        strings.Fields(l.Rel),
			Self:       l.Self,
			Categories: strings.Fields(l.Kind),
			Attributes: la,
		})
	}
	return nil
}

func valuesFromJSON(in map[string]any) (schema.Values, error) {
	out := make(schema.Values, len(in))
	for k, raw := range in {
		v, err := schema.ValueOf(raw)
		if err != nil {
			return nil, schema.Wrap(schema.CodeMalformedHeader, "attribute "+k, err)
		}
		out[k] = v
	}
	return out, nil
}

func valuesToJSON(vs schema.Values) map[string]any {
	if len(vs) == 0 {
		return nil
	}
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Interface()
	}
	return out
}

func categoryJSON(t schema.Type) CategoryJSON {
	c := t.Base()
	out := CategoryJSON{
		Scheme: c.Scheme,
		Term:   c.Term,
		Title:  c.Title,
		Class:  string(t.Class()),
	}

	var attrs schema.Attributes
	var actions []*schema.Action
	switch x := t.(type) {
	case *schema.Kind:
		if x.Parent != nil {
			out.Related = []string{x.Parent.Identifier()}
		}
		out.Location = x.Location
		attrs, actions = x.Attributes, x.Actions
	case *schema.Mixin:
		if x.Related != nil {
			out.Related = []string{x.Related.Identifier()}
		}
		out.Location = x.Location
		attrs, actions = x.Attributes, x.Actions
	case *schema.Action:
		attrs = x.Attributes
	}

	if len(attrs) > 0 {
		out.Attributes = make(map[string]AttributeJSON, len(attrs))
		for _, a := range attrs {
			aj := AttributeJSON{
				Mutable:     a.Mutable,
				Required:    a.Mandatory,
				Unique:      a.Unique,
				Default:     a.Default.Interface(),
				Description: a.Description,
			}
			if a.Type != schema.TypeAny {
				aj.Type = a.Type.String()
			}
			out.Attributes[a.Name] = aj
		}
	}
	for _, a := range actions {
		out.Actions = append(out.Actions, a.Identifier())
	}
	return out
}

func (r *Response) entityJSON(e entity.Entity) EntityJSON {
	out := EntityJSON{
		Kind:       e.Kind().Identifier(),
		ID:         e.ID(),
		Location:   r.url(e.Location()),
		Attributes: valuesToJSON(e.Attributes()),
	}
	for _, m := range e.Mixins() {
		out.Mixins = append(out.Mixins, m.Identifier())
	}

	switch x := e.(type) {
	case *entity.Resource:
		for _, a := range x.Actions() {
			out.Actions = append(out.Actions, a.Identifier())
		}
		for _, l := range x.Links() {
			out.Links = append(out.Links, LinkJSON{
				Target:     r.url(l.Target()),
				Rel:        l.Rel(),
				Self:       r.url(l.Location()),
				Kind:       l.Kind().Identifier(),
				Attributes: valuesToJSON(linkAttributes(l)),
			})
		}
	case *entity.Link:
		out.Source = r.url(x.Source())
		out.Target = r.url(x.Target())
	}
	return out
}
