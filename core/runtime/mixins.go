package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/location"
	"github.com/artpar/occigate/core/registry"
	"github.com/artpar/occigate/core/schema"
)

// MixinDecl describes a user-defined mixin.
type MixinDecl struct {
	Scheme   string
	Term     string
	Title    string
	Location string
	Related  []schema.Ref
}

// DeclareMixin registers a user-defined mixin and binds it at its
// location. Declaring an existing mixin fails with MixinAlreadyExists.
func (rt *Runtime) DeclareMixin(ctx context.Context, d MixinDecl) (*schema.Mixin, error) {
	if d.Term == "" || d.Scheme == "" || d.Location == "" {
		return nil, schema.Errorf(schema.CodeValidation, "mixin declarations need term, scheme and location")
	}
	id := schema.Identity(d.Scheme, d.Term)
	if t, ok := rt.categories.Get(id); ok {
		if t.Class() == schema.ClassMixin {
			return nil, schema.Errorf(schema.CodeMixinAlreadyExists, "mixin %s already exists", id)
		}
		return nil, schema.Errorf(schema.CodeDuplicateCategory, "category %s already exists", id)
	}

	loc := location.Normalize(d.Location)
	if !strings.HasSuffix(loc, "/") {
		loc += "/"
	}
	if _, taken := rt.locations.Get(loc); taken {
		return nil, schema.Errorf(schema.CodeLocationAlreadyBound, "location %s is already bound", loc)
	}

	var related schema.Type
	for _, ref := range d.Related {
		t, err := rt.categories.Require(ref, registry.OfClass(schema.ClassKind, schema.ClassMixin))
		if err != nil {
			return nil, err
		}
		if related == nil {
			related = t
		}
	}

	m := schema.NewMixin(d.Scheme, d.Term, d.Title, related, loc, nil)
	m.UserDefined = true
	if err := rt.categories.Register(m); err != nil {
		if schema.CodeOf(err) == schema.CodeDuplicateCategory {
			return nil, schema.Errorf(schema.CodeMixinAlreadyExists, "mixin %s already exists", id)
		}
		return nil, err
	}
	if err := rt.locations.Register(loc, m); err != nil {
		if uerr := rt.categories.Unregister(m.Identifier()); uerr != nil {
			rt.logger.Error().Err(uerr).Str("mixin", id).Msg("rollback of mixin declaration")
		}
		return nil, err
	}

	rt.logger.Info().Str("mixin", id).Str("location", loc).Msg("mixin declared")
	data := map[string]any{"location": loc, "title": d.Title}
	if related != nil {
		data["related"] = related.Identifier()
	}
	rt.publish(ctx, events.MixinDeclared, nil, id, data)
	return m, nil
}

// RemoveMixin disassociates a user-defined mixin from every entity, then
// unbinds and unregisters it. Built-in mixins cannot be removed.
func (rt *Runtime) RemoveMixin(ctx context.Context, ref schema.Ref) error {
	t, err := rt.categories.Require(ref, registry.OfClass(schema.ClassMixin))
	if err != nil {
		return err
	}
	m := t.(*schema.Mixin)
	if !m.UserDefined {
		return schema.Errorf(schema.CodeValidation, "mixin %s is built in and cannot be removed", m.Identifier())
	}

	members := entities(m.Entities())
	for _, e := range members {
		if err := e.CheckChange(entity.Change{Mixins: without(e.Mixins(), m), ReplaceMixins: true}); err != nil {
			return fmt.Errorf("%s: %w", e.Location(), err)
		}
	}
	for _, e := range members {
		if err := rt.disassociate(ctx, e, m); err != nil {
			return err
		}
	}

	rt.locations.UnregisterObject(m)
	if err := rt.categories.Unregister(m.Identifier()); err != nil {
		return err
	}

	rt.logger.Info().Str("mixin", m.Identifier()).Int("entities", len(members)).Msg("mixin removed")
	rt.publish(ctx, events.MixinRemoved, nil, m.Identifier(), nil)
	return nil
}

// Associate adds the mixin bound at mixinLoc to the entities at locs. All
// entities are validated before any of them changes.
func (rt *Runtime) Associate(ctx context.Context, mixinLoc string, locs []string) error {
	m, targets, err := rt.mixinTargets(mixinLoc, locs)
	if err != nil {
		return err
	}
	for _, e := range targets {
		if err := applicable(e.Kind(), []*schema.Mixin{m}); err != nil {
			return err
		}
		if schema.HasMixin(e.Mixins(), m) {
			continue
		}
		if err := e.CheckChange(entity.Change{Mixins: append(e.Mixins(), m), ReplaceMixins: true}); err != nil {
			return fmt.Errorf("%s: %w", e.Location(), err)
		}
	}

	for _, e := range targets {
		if schema.HasMixin(e.Mixins(), m) {
			continue
		}
		if err := e.AddMixin(m); err != nil {
			return fmt.Errorf("%s: %w", e.Location(), err)
		}
		if err := rt.update(ctx, e); err != nil {
			return err
		}
		rt.publish(ctx, events.MixinAssociated, e, m.Identifier(), nil)
	}
	rt.logger.Info().Str("mixin", m.Identifier()).Int("entities", len(targets)).Msg("entities associated")
	return nil
}

// Disassociate removes the mixin bound at mixinLoc from the entities at
// locs.
func (rt *Runtime) Disassociate(ctx context.Context, mixinLoc string, locs []string) error {
	m, targets, err := rt.mixinTargets(mixinLoc, locs)
	if err != nil {
		return err
	}
	for _, e := range targets {
		if err := e.CheckChange(entity.Change{Mixins: without(e.Mixins(), m), ReplaceMixins: true}); err != nil {
			return fmt.Errorf("%s: %w", e.Location(), err)
		}
	}
	for _, e := range targets {
		if err := rt.disassociate(ctx, e, m); err != nil {
			return err
		}
	}
	rt.logger.Info().Str("mixin", m.Identifier()).Int("entities", len(targets)).Msg("entities disassociated")
	return nil
}

func (rt *Runtime) disassociate(ctx context.Context, e entity.Entity, m *schema.Mixin) error {
	if !schema.HasMixin(e.Mixins(), m) {
		return nil
	}
	if err := e.RemoveMixin(m); err != nil {
		return fmt.Errorf("%s: %w", e.Location(), err)
	}
	if err := rt.update(ctx, e); err != nil {
		return err
	}
	rt.publish(ctx, events.MixinDisassociated, e, m.Identifier(), nil)
	return nil
}

func (rt *Runtime) mixinTargets(mixinLoc string, locs []string) (*schema.Mixin, []entity.Entity, error) {
	obj, err := rt.locations.Lookup(mixinLoc)
	if err != nil {
		return nil, nil, err
	}
	m, ok := obj.(*schema.Mixin)
	if !ok {
		return nil, nil, schema.Errorf(schema.CodeCategoryNotFound, "no mixin is bound at %s", location.Normalize(mixinLoc))
	}
	if len(locs) == 0 {
		return nil, nil, schema.Errorf(schema.CodeValidation, "no entity locations given")
	}

	targets := make([]entity.Entity, 0, len(locs))
	for _, loc := range locs {
		e, err := rt.entityAt(loc)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, e)
	}
	return m, targets, nil
}

func without(mixins []*schema.Mixin, m *schema.Mixin) []*schema.Mixin {
	out := make([]*schema.Mixin, 0, len(mixins))
	for _, x := range mixins {
		if x != m {
			out = append(out, x)
		}
	}
	return out
}
