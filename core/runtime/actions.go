package runtime

import (
	"context"
	"fmt"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/location"
	"github.com/artpar/occigate/core/registry"
	"github.com/artpar/occigate/core/schema"
)

// ResolveAction finds the action a request names with ?action=term. The
// request's action categories take precedence; without one, the term must
// identify a single registered action.
func (rt *Runtime) ResolveAction(term string, refs []schema.Ref) (*schema.Action, error) {
	for _, t := range rt.categories.Select(refs, registry.OfClass(schema.ClassAction)) {
		if a := t.(*schema.Action); a.Term == term {
			return a, nil
		}
	}

	var found *schema.Action
	for _, a := range rt.categories.Actions() {
		if a.Term != term {
			continue
		}
		if found != nil {
			return nil, schema.Errorf(schema.CodeCategoryNotFound, "action %q is ambiguous, name its category", term)
		}
		found = a
	}
	if found == nil {
		return nil, schema.Errorf(schema.CodeCategoryNotFound, "action %q not found", term)
	}
	return found, nil
}

// Trigger runs action on the resource at loc, or on every resource below
// loc that supports it. Actions on one resource are serialised. It stops
// at the first failure and returns the resources the action ran on.
func (rt *Runtime) Trigger(ctx context.Context, loc string, action *schema.Action, params schema.Values) ([]*entity.Resource, error) {
	loc = location.Normalize(loc)
	targets, err := rt.Targets(loc)
	if err != nil {
		return nil, err
	}
	single := len(targets) == 1 && targets[0].Location() == loc

	params, err = coerce(action.Attributes, params)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", action.Term, err)
	}

	var done []*entity.Resource
	for _, e := range targets {
		r, ok := e.(*entity.Resource)
		if !ok || !supports(r, action) {
			if single {
				return nil, schema.Errorf(schema.CodeNoHandlerRegistered, "%s does not support action %s", e.Location(), action.Identifier())
			}
			continue
		}

		if err := r.Serialize(func() error { return rt.trigger(ctx, r, action, params) }); err != nil {
			return done, err
		}
		done = append(done, r)
	}
	return done, nil
}

// trigger delegates without refreshing first: the action sees the state
// the runtime holds, and a rejected action leaves the resource untouched.
func (rt *Runtime) trigger(ctx context.Context, r *entity.Resource, action *schema.Action, params schema.Values) error {
	if _, bound := rt.locations.LocationOf(r); !bound {
		return schema.Errorf(schema.CodeLocationNotFound, "%s was deleted", r.Location())
	}

	bctx, cancel := rt.backend(ctx)
	defer cancel()

	from := r.State()
	if err := rt.delegator.Delegate(bctx, action, params, r); err != nil {
		rt.logger.Warn().Err(err).Str("location", r.Location()).Str("action", action.Identifier()).Msg("action failed")
		return fmt.Errorf("%s: %w", r.Location(), err)
	}
	if err := r.Update(bctx); err != nil {
		return fmt.Errorf("update %s: %w", r.Location(), err)
	}

	rt.logger.Info().
		Str("location", r.Location()).
		Str("action", action.Identifier()).
		Str("from", from).
		Str("to", r.State()).
		Msg("action triggered")
	rt.publish(ctx, events.ActionTriggered, r, action.Identifier(), map[string]any{
		"kind":  r.Kind().Identifier(),
		"state": r.State(),
	})
	return nil
}

func supports(r *entity.Resource, action *schema.Action) bool {
	for _, a := range schema.EffectiveActions(r.Kind(), r.Mixins()) {
		if a == action {
			return true
		}
	}
	return false
}
