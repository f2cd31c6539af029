// Package entity holds the runtime instances of the type model: resources
// and the links between them.
package entity

import (
	"context"
	"sync"

	"github.com/artpar/occigate/core/schema"
)

// Core attribute names.
const (
	AttrID      = "occi.core.id"
	AttrTitle   = "occi.core.title"
	AttrSummary = "occi.core.summary"
	AttrSource  = "occi.core.source"
	AttrTarget  = "occi.core.target"
)

// Backend provisions entities. Every call receives the outer entity so
// implementations can switch on *Resource or *Link. Update is called after
// the server changed attributes, mixins or the lifecycle state.
type Backend interface {
	Deploy(ctx context.Context, e Entity) error
	Refresh(ctx context.Context, e Entity) error
	Update(ctx context.Context, e Entity) error
	Delete(ctx context.Context, e Entity) error
}

// Entity is the common view of resources and links.
type Entity interface {
	schema.Instance

	Location() string
	Attributes() schema.Values
	Attribute(name string) (schema.Value, bool)
	Schema() schema.Attributes

	SetAttributes(changes schema.Values) error
	CheckAttributes(changes schema.Values) error
	SetSystem(changes schema.Values) error

	SetMixins(mixins []*schema.Mixin) error
	AddMixin(m *schema.Mixin) error
	RemoveMixin(m *schema.Mixin) error
	CheckMixins(mixins []*schema.Mixin) error

	ApplyChange(c Change) error
	CheckChange(c Change) error

	Attach()
	AttachUnique() error
	Detach()

	Deploy(ctx context.Context) error
	Refresh(ctx context.Context) error
	Update(ctx context.Context) error
	Delete(ctx context.Context) error

	base() *Base
}

// Options configures a new entity.
type Options struct {
	ID         string
	Kind       *schema.Kind
	Mixins     []*schema.Mixin
	Attributes schema.Values
	Backend    Backend
}

// Base implements the state shared by resources and links.
type Base struct {
	// writeMu serialises writers; mu guards the fields below and is only
	// held while copying in or out.
	writeMu sync.Mutex
	mu      sync.RWMutex

	id       string
	kind     *schema.Kind
	mixins   []*schema.Mixin
	attrs    schema.Values
	attached bool

	backend Backend
	self    Entity
}

func (b *Base) init(self Entity, opts Options, system schema.Values) error {
	if opts.Kind == nil {
		return schema.Errorf(schema.CodeValidation, "entity %s has no kind", opts.ID)
	}
	b.id = opts.ID
	b.kind = opts.Kind
	b.mixins = append([]*schema.Mixin(nil), opts.Mixins...)
	b.backend = opts.Backend
	b.self = self

	attrs := schema.EffectiveAttributes(b.kind, b.mixins)
	values := schema.ApplyDefaults(attrs, opts.Attributes)
	if _, ok := attrs.Get(AttrID); ok {
		if v, given := values[AttrID]; given && v.Text() != b.id {
			return schema.Errorf(schema.CodeValidation, "%s %q does not match entity id %q", AttrID, v.Text(), b.id)
		}
		values[AttrID] = schema.String(b.id)
	}
	for name, v := range system {
		if _, ok := attrs.Get(name); ok {
			values[name] = v
		}
	}

	if err := schema.ValidateCreate(attrs, values); err != nil {
		return err
	}
	if err := b.checkUnique(attrs, b.kind, b.mixins, values); err != nil {
		return err
	}
	b.attrs = values
	return nil
}

func (b *Base) base() *Base { return b }

// ID returns the entity identifier.
func (b *Base) ID() string { return b.id }

// Kind returns the entity's kind.
func (b *Base) Kind() *schema.Kind { return b.kind }

// Mixins returns a copy of the associated mixins.
func (b *Base) Mixins() []*schema.Mixin {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]*schema.Mixin(nil), b.mixins...)
}

// Location returns the kind location followed by the id.
func (b *Base) Location() string {
	return b.kind.Location + b.id
}

// Attributes returns a copy of the attribute values.
func (b *Base) Attributes() schema.Values {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.attrs.Clone()
}

// Attribute returns a single attribute value.
func (b *Base) Attribute(name string) (schema.Value, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.attrs[name]
	return v, ok
}

// Schema returns the effective attribute schema.
func (b *Base) Schema() schema.Attributes {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return schema.EffectiveAttributes(b.kind, b.mixins)
}

// Title returns occi.core.title.
func (b *Base) Title() string {
	v, _ := b.Attribute(AttrTitle)
	return v.Text()
}

func (b *Base) snapshot() (schema.Values, []*schema.Mixin) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.attrs.Clone(), append([]*schema.Mixin(nil), b.mixins...)
}

// Change is a client update of one entity. Attributes are merged into the
// current values; the mixin set is only replaced when ReplaceMixins is set.
type Change struct {
	Attributes    schema.Values
	Mixins        []*schema.Mixin
	ReplaceMixins bool
}

// CheckChange validates c without applying it.
func (b *Base) CheckChange(c Change) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_, _, err := b.prepare(c)
	return err
}

// ApplyChange validates and applies c as a whole. Immutable attributes
// cannot change, mandatory attributes must stay set and unique values may
// not collide.
func (b *Base) ApplyChange(c Change) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	uniqueMu.Lock()
	defer uniqueMu.Unlock()

	next, mixins, err := b.prepare(c)
	if err != nil {
		return err
	}

	b.mu.Lock()
	old := b.mixins
	b.mixins = mixins
	b.attrs = next
	attached := b.attached
	b.mu.Unlock()

	if attached && c.ReplaceMixins {
		for _, m := range old {
			if !schema.HasMixin(mixins, m) {
				m.Detach(b.self)
			}
		}
		for _, m := range mixins {
			m.Attach(b.self)
		}
	}
	return nil
}

// prepare computes the attribute values and mixin set c leads to. The
// caller holds writeMu.
func (b *Base) prepare(c Change) (schema.Values, []*schema.Mixin, error) {
	current, mixins := b.snapshot()
	if c.ReplaceMixins {
		mixins = append([]*schema.Mixin(nil), c.Mixins...)
	}
	attrs := schema.EffectiveAttributes(b.kind, mixins)

	// Attributes only defined by dropped mixins go away.
	kept := make(schema.Values, len(current))
	for name, v := range current {
		if _, ok := attrs.Get(name); ok {
			kept[name] = v
		}
	}
	kept = schema.ApplyDefaults(attrs, kept)

	if err := schema.ValidateUpdate(attrs, kept, c.Attributes); err != nil {
		return nil, nil, err
	}
	next := kept.Merge(c.Attributes)
	if err := b.checkUnique(attrs, b.kind, mixins, next); err != nil {
		return nil, nil, err
	}
	return next, mixins, nil
}

// CheckAttributes validates client changes without applying them.
func (b *Base) CheckAttributes(changes schema.Values) error {
	return b.CheckChange(Change{Attributes: changes})
}

// SetAttributes applies client changes.
func (b *Base) SetAttributes(changes schema.Values) error {
	return b.ApplyChange(Change{Attributes: changes})
}

// SetSystem applies server-side changes such as state mirroring. Mutability
// is not enforced; types and mandatory attributes are.
func (b *Base) SetSystem(changes schema.Values) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	current, mixins := b.snapshot()
	attrs := schema.EffectiveAttributes(b.kind, mixins)
	next := current.Merge(changes)
	if err := schema.ValidateState(attrs, next); err != nil {
		return err
	}
	b.mu.Lock()
	b.attrs = next
	b.mu.Unlock()
	return nil
}

// CheckMixins validates replacing the mixin set without applying it.
func (b *Base) CheckMixins(mixins []*schema.Mixin) error {
	return b.CheckChange(Change{Mixins: mixins, ReplaceMixins: true})
}

// SetMixins replaces the mixin set.
func (b *Base) SetMixins(mixins []*schema.Mixin) error {
	return b.ApplyChange(Change{Mixins: mixins, ReplaceMixins: true})
}

// AddMixin associates a mixin. Adding a mixin twice is a no-op.
func (b *Base) AddMixin(m *schema.Mixin) error {
	current := b.Mixins()
	if schema.HasMixin(current, m) {
		return nil
	}
	return b.SetMixins(append(current, m))
}

// RemoveMixin disassociates a mixin. Removing an absent mixin is a no-op.
func (b *Base) RemoveMixin(m *schema.Mixin) error {
	current := b.Mixins()
	next := make([]*schema.Mixin, 0, len(current))
	for _, x := range current {
		if x != m {
			next = append(next, x)
		}
	}
	if len(next) == len(current) {
		return nil
	}
	return b.SetMixins(next)
}

// Attach adds the entity to the member lists of its kind and mixins.
func (b *Base) Attach() {
	b.mu.Lock()
	b.attached = true
	mixins := b.mixins
	b.mu.Unlock()

	b.kind.Attach(b.self)
	for _, m := range mixins {
		m.Attach(b.self)
	}
}

// AttachUnique re-checks unique attribute values against the current
// members of the kind and mixins and attaches the entity only when none
// collide. Of two entities created concurrently with the same value, one
// is attached and the other gets a validation error.
func (b *Base) AttachUnique() error {
	uniqueMu.Lock()
	defer uniqueMu.Unlock()

	values, mixins := b.snapshot()
	if err := b.checkUnique(schema.EffectiveAttributes(b.kind, mixins), b.kind, mixins, values); err != nil {
		return err
	}
	b.Attach()
	return nil
}

// Detach removes the entity from the member lists of its kind and mixins.
func (b *Base) Detach() {
	b.mu.Lock()
	b.attached = false
	mixins := b.mixins
	b.mu.Unlock()

	b.kind.Detach(b.self)
	for _, m := range mixins {
		m.Detach(b.self)
	}
}

// Deploy provisions the entity through the backend.
func (b *Base) Deploy(ctx context.Context) error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Deploy(ctx, b.self)
}

// Refresh updates the entity from the backend.
func (b *Base) Refresh(ctx context.Context) error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Refresh(ctx, b.self)
}

// Update pushes the current entity to the backend.
func (b *Base) Update(ctx context.Context) error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Update(ctx, b.self)
}

// Delete deprovisions the entity through the backend.
func (b *Base) Delete(ctx context.Context) error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Delete(ctx, b.self)
}

// uniqueMu orders uniqueness checks with the membership changes they
// depend on.
var uniqueMu sync.Mutex

// checkUnique rejects values of unique attributes that another member of
// the kind or one of the mixins already holds.
func (b *Base) checkUnique(attrs schema.Attributes, kind *schema.Kind, mixins []*schema.Mixin, values schema.Values) error {
	var unique []schema.Attribute
	for _, a := range attrs {
		if a.Unique {
			if v, ok := values[a.Name]; ok && v.IsSet() {
				unique = append(unique, a)
			}
		}
	}
	if len(unique) == 0 {
		return nil
	}

	peers := kind.Entities()
	for _, m := range mixins {
		peers = append(peers, m.Entities()...)
	}

	var vs schema.Violations
	for _, a := range unique {
		for _, p := range peers {
			other, ok := p.(Entity)
			if !ok || other.base() == b {
				continue
			}
			if ov, ok := other.Attribute(a.Name); ok && ov.Equal(values[a.Name]) {
				vs.Add(a.Name, schema.ConstraintUnique, "value %q is already in use by %s", ov.Text(), other.Location())
				break
			}
		}
	}
	return vs.Err()
}
