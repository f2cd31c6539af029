package rendering

import (
	"strings"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
)

// RenderCategory renders a Category entry. The full form used by the query
// interface adds the relation, location, attribute and action lists.
func RenderCategory(t schema.Type, full bool) string {
	c := t.Base()
	var b strings.Builder
	b.WriteString(c.Term)
	b.WriteString("; scheme=")
	b.WriteString(quote(schemeOf(c)))
	b.WriteString("; class=")
	b.WriteString(quote(string(t.Class())))
	if c.Title != "" {
		b.WriteString("; title=")
		b.WriteString(quote(c.Title))
	}
	if !full {
		return b.String()
	}

	var (
		rel      string
		location string
		attrs    schema.Attributes
		actions  []*schema.Action
	)
	switch x := t.(type) {
	case *schema.Kind:
		if x.Parent != nil {
			rel = x.Parent.Identifier()
		}
		location, attrs, actions = x.Location, x.Attributes, x.Actions
	case *schema.Mixin:
		if x.Related != nil {
			rel = x.Related.Identifier()
		}
		location, attrs, actions = x.Location, x.Attributes, x.Actions
	case *schema.Action:
		attrs = x.Attributes
	}

	if rel != "" {
		b.WriteString("; rel=")
		b.WriteString(quote(rel))
	}
	if location != "" {
		b.WriteString("; location=")
		b.WriteString(quote(location))
	}
	if len(attrs) > 0 {
		b.WriteString("; attributes=")
		b.WriteString(quote(renderAttributeList(attrs)))
	}
	if len(actions) > 0 {
		ids := make([]string, len(actions))
		for i, a := range actions {
			ids[i] = a.Identifier()
		}
		b.WriteString("; actions=")
		b.WriteString(quote(strings.Join(ids, " ")))
	}
	return b.String()
}

func schemeOf(c schema.Category) string {
	if c.Scheme != "" && !strings.HasSuffix(c.Scheme, "#") {
		return c.Scheme + "#"
	}
	return c.Scheme
}

func renderAttributeList(attrs schema.Attributes) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		var props []string
		if !a.Mutable {
			props = append(props, "immutable")
		}
		if a.Mandatory {
			props = append(props, "required")
		}
		if len(props) > 0 {
			parts[i] = a.Name + "{" + strings.Join(props, " ") + "}"
		} else {
			parts[i] = a.Name
		}
	}
	return strings.Join(parts, " ")
}

// RenderAttributes renders one name=value entry per attribute, sorted by name.
// Strings are always quoted so that parsing yields the identical values.
func RenderAttributes(vs schema.Values) []string {
	names := schema.SortedNames(vs)
	out := make([]string, 0, len(names))
	for _, name := range names {
		v := vs[name]
		if !v.IsSet() {
			continue
		}
		out = append(out, name+"="+formatValue(v))
	}
	return out
}

// RenderLink renders a link held by a resource.
func RenderLink(l *entity.Link, url func(string) string) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(url(l.Target()))
	b.WriteString(">; rel=")
	rel := l.Rel()
	if rel == "" {
		rel = l.Kind().Identifier()
	}
	b.WriteString(quote(rel))
	b.WriteString("; self=")
	b.WriteString(quote(url(l.Location())))
	categories := []string{l.Kind().Identifier()}
	for _, m := range l.Mixins() {
		categories = append(categories, m.Identifier())
	}
	b.WriteString("; category=")
	b.WriteString(quote(strings.Join(categories, " ")))
	for _, attr := range RenderAttributes(linkAttributes(l)) {
		b.WriteString("; ")
		b.WriteString(attr)
	}
	return b.String()
}

// linkAttributes drops the attributes already carried by the link syntax.
func linkAttributes(l *entity.Link) schema.Values {
	attrs := l.Attributes()
	delete(attrs, entity.AttrID)
	delete(attrs, entity.AttrSource)
	delete(attrs, entity.AttrTarget)
	return attrs
}

// RenderActionLink renders the link advertising action on the entity at loc.
func RenderActionLink(loc string, a *schema.Action) string {
	return "<" + loc + "?action=" + a.Term + ">; rel=" + quote(a.Identifier())
}

// RenderLocations renders a location list.
func RenderLocations(locs []string) string {
	return strings.Join(locs, ", ")
}
