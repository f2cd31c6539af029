package runtime

import (
	"context"
	"fmt"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/registry"
	"github.com/artpar/occigate/core/schema"
)

// Record is an entity as kept by an inventory backend.
type Record struct {
	ID         string
	Kind       string
	Mixins     []string
	Attributes schema.Values

	// State is the lifecycle state of a resource, "" for links.
	State string
}

// Restore rebuilds entities from records without deploying them again.
// Resources must precede the links between them. It returns the number of
// entities restored before the first failure.
func (rt *Runtime) Restore(ctx context.Context, recs []Record) (int, error) {
	for i, rec := range recs {
		if err := rt.restore(ctx, rec); err != nil {
			return i, fmt.Errorf("restore %s: %w", rec.ID, err)
		}
	}
	if len(recs) > 0 {
		rt.logger.Info().Int("entities", len(recs)).Msg("inventory restored")
	}
	return len(recs), nil
}

func (rt *Runtime) restore(ctx context.Context, rec Record) error {
	t, err := rt.categories.Require(schemaRef(rec.Kind), registry.OfClass(schema.ClassKind))
	if err != nil {
		return err
	}
	kind := t.(*schema.Kind)
	if kind.Factory == nil {
		return schema.Errorf(schema.CodeValidation, "kind %s cannot be instantiated", kind.Identifier())
	}

	mixins := make([]*schema.Mixin, 0, len(rec.Mixins))
	for _, id := range rec.Mixins {
		t, err := rt.categories.Require(schemaRef(id), registry.OfClass(schema.ClassMixin))
		if err != nil {
			return err
		}
		mixins = append(mixins, t.(*schema.Mixin))
	}

	if source := rec.Attributes.Text(entity.AttrSource); source != "" {
		r, err := rt.resourceAt(source)
		if err != nil {
			return err
		}
		l, err := rt.buildLink(ctx, LinkRequest{Kind: kind, Mixins: mixins, Attributes: rec.Attributes}, r.Location(), rec.ID)
		if err != nil {
			return err
		}
		if err := rt.locations.Register(l.Location(), l); err != nil {
			return err
		}
		l.Attach()
		r.AddLink(l)
		if target, ok := rt.locations.Get(l.Target()); ok {
			if tr, isResource := target.(*entity.Resource); isResource && tr != r {
				tr.AddLink(l)
			}
		}
		return nil
	}

	loc := kind.Location + rec.ID
	if _, taken := rt.locations.Get(loc); taken {
		return schema.Errorf(schema.CodeLocationAlreadyBound, "location %s is already bound", loc)
	}
	attrs, err := coerce(schema.EffectiveAttributes(kind, mixins), rec.Attributes)
	if err != nil {
		return err
	}
	inst, err := kind.Factory.New(ctx, schema.FactoryInput{ID: rec.ID, Attributes: attrs, Mixins: mixins})
	if err != nil {
		rt.delegator.UnregisterResource(loc)
		return err
	}
	r, ok := inst.(*entity.Resource)
	if !ok {
		rt.delegator.UnregisterResource(loc)
		return schema.Errorf(schema.CodeValidation, "kind %s does not describe resources", kind.Identifier())
	}
	if rec.State != "" {
		if err := r.RestoreState(rec.State); err != nil {
			rt.delegator.UnregisterResource(loc)
			return err
		}
	}
	if err := rt.locations.Register(loc, r); err != nil {
		rt.delegator.UnregisterResource(loc)
		return err
	}
	r.Attach()
	return nil
}

// schemaRef splits an identifier "scheme#term" into a reference.
func schemaRef(id string) schema.Ref {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '#' {
			return schema.Ref{Scheme: id[:i+1], Term: id[i+1:]}
		}
	}
	return schema.Ref{Term: id}
}
