package entity

import "github.com/artpar/occigate/core/schema"

// Link connects a source resource to a target location.
type Link struct {
	Base

	source string
	target string
	rel    string
}

// NewLink builds and validates a link. The endpoints are mirrored into
// occi.core.source and occi.core.target when the schema defines them.
func NewLink(opts Options, source, target string) (*Link, error) {
	l := &Link{source: source, target: target}
	system := schema.Values{
		AttrSource: schema.String(source),
		AttrTarget: schema.String(target),
	}
	if err := l.init(l, opts, system); err != nil {
		return nil, err
	}
	return l, nil
}

// Source returns the location of the source resource.
func (l *Link) Source() string { return l.source }

// Target returns the location of the target.
func (l *Link) Target() string { return l.target }

// Rel returns the kind identifier of the target.
func (l *Link) Rel() string { return l.rel }

// SetRel records the kind identifier of the target. It is set once, before
// the link is published.
func (l *Link) SetRel(rel string) { l.rel = rel }

// Touches reports whether either end of the link is loc.
func (l *Link) Touches(loc string) bool {
	return l.source == loc || l.target == loc
}
