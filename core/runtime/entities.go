package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/location"
	"github.com/artpar/occigate/core/schema"
)

// CreateRequest describes a new resource.
type CreateRequest struct {
	Kind       *schema.Kind
	Mixins     []*schema.Mixin
	Attributes schema.Values

	// Links are created together with the resource, which is their source.
	Links []LinkRequest
}

// LinkRequest describes a new link.
type LinkRequest struct {
	// Kind defaults to DefaultLinkKind.
	Kind       *schema.Kind
	Mixins     []*schema.Mixin
	Attributes schema.Values
	Source     string
	Target     string
}

// UpdateRequest describes a change applied to every target of a PUT.
type UpdateRequest struct {
	Attributes schema.Values

	// Mixins replaces the mixin set when ReplaceMixins is set.
	Mixins        []*schema.Mixin
	ReplaceMixins bool

	// Links are added to every target.
	Links []LinkRequest
}

// CreateResource validates, deploys and binds a new resource together with
// its inline links. Nothing stays registered if any step fails.
func (rt *Runtime) CreateResource(ctx context.Context, req CreateRequest) (*entity.Resource, error) {
	kind := req.Kind
	if kind == nil {
		return nil, schema.Errorf(schema.CodeValidation, "no kind given")
	}
	if kind.Factory == nil {
		return nil, schema.Errorf(schema.CodeValidation, "kind %s cannot be instantiated", kind.Identifier())
	}
	if err := applicable(kind, req.Mixins); err != nil {
		return nil, err
	}
	attrs, err := coerce(schema.EffectiveAttributes(kind, req.Mixins), req.Attributes)
	if err != nil {
		return nil, err
	}

	id := rt.ids.New()
	loc := kind.Location + id
	if _, taken := rt.locations.Get(loc); taken {
		return nil, schema.Errorf(schema.CodeLocationAlreadyBound, "location %s is already bound", loc)
	}

	inst, err := kind.Factory.New(ctx, schema.FactoryInput{ID: id, Attributes: attrs, Mixins: req.Mixins})
	if err != nil {
		rt.delegator.UnregisterResource(loc)
		return nil, err
	}
	r, ok := inst.(*entity.Resource)
	if !ok {
		rt.delegator.UnregisterResource(loc)
		return nil, schema.Errorf(schema.CodeValidation, "kind %s does not describe resources", kind.Identifier())
	}

	links := make([]*entity.Link, 0, len(req.Links))
	for _, lr := range req.Links {
		l, err := rt.buildLink(ctx, lr, r.Location(), "")
		if err != nil {
			rt.delegator.UnregisterResource(loc)
			return nil, err
		}
		links = append(links, l)
	}

	if err := rt.deploy(ctx, r); err != nil {
		rt.delegator.UnregisterResource(loc)
		return nil, err
	}
	if err := rt.locations.Register(loc, r); err != nil {
		rt.undeploy(ctx, r)
		rt.delegator.UnregisterResource(loc)
		return nil, err
	}
	if err := r.AttachUnique(); err != nil {
		_ = rt.locations.Unregister(loc)
		rt.undeploy(ctx, r)
		rt.delegator.UnregisterResource(loc)
		return nil, err
	}

	rt.logger.Info().Str("location", loc).Str("kind", kind.Identifier()).Msg("resource created")
	rt.publish(ctx, events.EntityCreated, r, "", map[string]any{"id": id})

	for _, l := range links {
		if err := rt.commitLink(ctx, l, r); err != nil {
			if _, derr := rt.removeAll(ctx, r); derr != nil {
				rt.logger.Error().Err(derr).Str("location", loc).Msg("rollback of resource creation")
			}
			return nil, err
		}
	}
	return r, nil
}

// CreateLink validates, deploys and binds a link between two existing
// entities. The source must be a resource.
func (rt *Runtime) CreateLink(ctx context.Context, req LinkRequest) (*entity.Link, error) {
	source := req.Source
	if source == "" {
		source = req.Attributes.Text(entity.AttrSource)
	}
	if source == "" {
		return nil, schema.Errorf(schema.CodeValidation, "link has no source")
	}
	r, err := rt.resourceAt(source)
	if err != nil {
		return nil, err
	}
	l, err := rt.buildLink(ctx, req, r.Location(), "")
	if err != nil {
		return nil, err
	}
	if err := rt.commitLink(ctx, l, r); err != nil {
		return nil, err
	}
	return l, nil
}

// buildLink instantiates a link without deploying or binding it. An empty
// id is generated.
func (rt *Runtime) buildLink(ctx context.Context, req LinkRequest, source, id string) (*entity.Link, error) {
	kind := req.Kind
	if kind == nil {
		t, err := rt.categories.Lookup(DefaultLinkKind)
		if err != nil {
			return nil, err
		}
		kind = t.(*schema.Kind)
	}
	if kind.Factory == nil {
		return nil, schema.Errorf(schema.CodeValidation, "kind %s cannot be instantiated", kind.Identifier())
	}
	if err := applicable(kind, req.Mixins); err != nil {
		return nil, err
	}

	target := req.Target
	if target == "" {
		target = req.Attributes.Text(entity.AttrTarget)
	}
	if target == "" {
		return nil, schema.Errorf(schema.CodeValidation, "link has no target")
	}
	target = location.Normalize(target)
	te, err := rt.entityAt(target)
	if err != nil {
		return nil, fmt.Errorf("link target: %w", err)
	}

	attrs := req.Attributes.Clone()
	attrs[entity.AttrSource] = schema.String(source)
	attrs[entity.AttrTarget] = schema.String(target)
	attrs, err = coerce(schema.EffectiveAttributes(kind, req.Mixins), attrs)
	if err != nil {
		return nil, err
	}

	if id == "" {
		id = rt.ids.New()
	}
	if _, taken := rt.locations.Get(kind.Location + id); taken {
		return nil, schema.Errorf(schema.CodeLocationAlreadyBound, "location %s is already bound", kind.Location+id)
	}
	inst, err := kind.Factory.New(ctx, schema.FactoryInput{ID: id, Attributes: attrs, Mixins: req.Mixins})
	if err != nil {
		return nil, err
	}
	l, ok := inst.(*entity.Link)
	if !ok {
		return nil, schema.Errorf(schema.CodeValidation, "kind %s does not describe links", kind.Identifier())
	}
	l.SetRel(te.Kind().Identifier())
	return l, nil
}

// commitLink deploys and binds a built link and adds it to both ends.
func (rt *Runtime) commitLink(ctx context.Context, l *entity.Link, source *entity.Resource) error {
	if err := rt.deploy(ctx, l); err != nil {
		return err
	}
	if err := rt.locations.Register(l.Location(), l); err != nil {
		rt.undeploy(ctx, l)
		return err
	}
	if err := l.AttachUnique(); err != nil {
		_ = rt.locations.Unregister(l.Location())
		rt.undeploy(ctx, l)
		return err
	}
	source.AddLink(l)
	if target, ok := rt.locations.Get(l.Target()); ok {
		if tr, isResource := target.(*entity.Resource); isResource && tr != source {
			tr.AddLink(l)
		}
	}

	rt.logger.Info().Str("location", l.Location()).Str("source", l.Source()).Str("target", l.Target()).Msg("link created")
	rt.publish(ctx, events.LinkCreated, l, "", map[string]any{
		"source": l.Source(),
		"target": l.Target(),
	})
	return nil
}

// Update applies req to every target of loc. All targets are validated
// before any of them changes.
func (rt *Runtime) Update(ctx context.Context, loc string, req UpdateRequest) ([]entity.Entity, error) {
	targets, err := rt.Targets(loc)
	if err != nil {
		return nil, err
	}

	changes := make([]entity.Change, len(targets))
	for i, e := range targets {
		c := entity.Change{Mixins: req.Mixins, ReplaceMixins: req.ReplaceMixins}
		mixins := e.Mixins()
		if req.ReplaceMixins {
			mixins = req.Mixins
			if err := applicable(e.Kind(), mixins); err != nil {
				return nil, err
			}
		}
		if c.Attributes, err = coerce(schema.EffectiveAttributes(e.Kind(), mixins), req.Attributes); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Location(), err)
		}
		if err := e.CheckChange(c); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Location(), err)
		}
		changes[i] = c
	}

	type pending struct {
		link   *entity.Link
		source *entity.Resource
	}
	var links []pending
	if len(req.Links) > 0 {
		for _, e := range targets {
			r, ok := e.(*entity.Resource)
			if !ok {
				return nil, schema.Errorf(schema.CodeValidation, "%s is not a resource and cannot carry links", e.Location())
			}
			for _, lr := range req.Links {
				l, err := rt.buildLink(ctx, lr, r.Location(), "")
				if err != nil {
					return nil, err
				}
				links = append(links, pending{l, r})
			}
		}
	}

	for i, e := range targets {
		if err := e.ApplyChange(changes[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Location(), err)
		}
		if err := rt.update(ctx, e); err != nil {
			return nil, err
		}
		rt.publish(ctx, events.EntityUpdated, e, "", map[string]any{"attributes": len(changes[i].Attributes)})
	}
	for _, p := range links {
		if err := rt.commitLink(ctx, p.link, p.source); err != nil {
			return nil, err
		}
	}

	rt.logger.Info().Str("location", loc).Int("entities", len(targets)).Msg("entities updated")
	return targets, nil
}

// Delete removes the entity at loc, or every entity below it. Deleting a
// resource deletes the links touching it. It stops at the first failure
// and returns the locations deleted so far.
func (rt *Runtime) Delete(ctx context.Context, loc string) ([]string, error) {
	targets, err := rt.Targets(loc)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, e := range targets {
		// Removed as a link of an earlier target.
		if _, bound := rt.locations.LocationOf(e); !bound {
			continue
		}
		locs, err := rt.removeAll(ctx, e)
		deleted = append(deleted, locs...)
		if err != nil {
			return deleted, err
		}
	}

	rt.logger.Info().Str("location", loc).Int("entities", len(deleted)).Msg("entities deleted")
	return deleted, nil
}

// removeAll removes e and, for a resource, the links touching it first.
// A resource is removed under its action lock so no handler runs against
// it mid-delete.
func (rt *Runtime) removeAll(ctx context.Context, e entity.Entity) ([]string, error) {
	r, ok := e.(*entity.Resource)
	if !ok {
		if err := rt.remove(ctx, e); err != nil {
			return nil, err
		}
		return []string{e.Location()}, nil
	}

	var deleted []string
	err := r.Serialize(func() error {
		if _, bound := rt.locations.LocationOf(r); !bound {
			return nil
		}
		for _, l := range r.Links() {
			if err := rt.remove(ctx, l); err != nil {
				return err
			}
			deleted = append(deleted, l.Location())
		}
		if err := rt.remove(ctx, r); err != nil {
			return err
		}
		deleted = append(deleted, r.Location())
		return nil
	})
	return deleted, err
}

// remove deprovisions and unbinds one entity.
func (rt *Runtime) remove(ctx context.Context, e entity.Entity) error {
	bctx, cancel := rt.backend(ctx)
	defer cancel()

	if err := e.Delete(bctx); err != nil {
		return fmt.Errorf("delete %s: %w", e.Location(), err)
	}

	loc := e.Location()
	if err := rt.locations.Unregister(loc); err != nil && !errors.Is(err, schema.ErrLocationNotFound) {
		return err
	}
	e.Detach()

	switch x := e.(type) {
	case *entity.Link:
		for _, end := range []string{x.Source(), x.Target()} {
			if obj, ok := rt.locations.Get(end); ok {
				if r, isResource := obj.(*entity.Resource); isResource {
					r.RemoveLink(x)
				}
			}
		}
		rt.publish(ctx, events.LinkDeleted, x, "", nil)
	case *entity.Resource:
		rt.delegator.UnregisterResource(loc)
		rt.publish(ctx, events.EntityDeleted, x, "", nil)
	}
	return nil
}

func (rt *Runtime) deploy(ctx context.Context, e entity.Entity) error {
	ctx, cancel := rt.backend(ctx)
	defer cancel()

	if err := e.Deploy(ctx); err != nil {
		return fmt.Errorf("deploy %s: %w", e.Location(), err)
	}
	return nil
}

// undeploy compensates a successful deploy.
func (rt *Runtime) undeploy(ctx context.Context, e entity.Entity) {
	ctx, cancel := rt.backend(context.WithoutCancel(ctx))
	defer cancel()

	if err := e.Delete(ctx); err != nil {
		rt.logger.Error().Err(err).Str("location", e.Location()).Msg("undeploy after failed creation")
	}
}

func (rt *Runtime) update(ctx context.Context, e entity.Entity) error {
	ctx, cancel := rt.backend(ctx)
	defer cancel()

	if err := e.Update(ctx); err != nil {
		return fmt.Errorf("update %s: %w", e.Location(), err)
	}
	return nil
}
