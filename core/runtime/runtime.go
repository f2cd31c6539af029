// Package runtime executes the protocol verbs. It owns the category and
// location registries, the action delegator and the event bus, and keeps
// them consistent across creation, update, action and deletion requests.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/delegator"
	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/location"
	"github.com/artpar/occigate/core/registry"
	"github.com/artpar/occigate/core/schema"
)

// DefaultLinkKind is used for links that name no kind of their own.
const DefaultLinkKind = "http://schemas.ogf.org/occi/core#link"

// IDGenerator generates entity identifiers.
type IDGenerator interface {
	New() string
}

type uuidGenerator struct{}

func (uuidGenerator) New() string { return uuid.NewString() }

// Config configures the runtime.
type Config struct {
	// IDs generates entity identifiers. Defaults to random UUIDs.
	IDs IDGenerator

	// BackendTimeout bounds every backend call. Zero means no limit
	// beyond the request context.
	BackendTimeout time.Duration

	// Logger for verb operations.
	Logger zerolog.Logger
}

// Runtime is the protocol engine behind the HTTP channel.
type Runtime struct {
	categories *registry.Registry
	locations  *location.Registry
	delegator  *delegator.Delegator
	events     *events.Bus

	ids     IDGenerator
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a runtime with empty registries.
func New(cfg Config) *Runtime {
	ids := cfg.IDs
	if ids == nil {
		ids = uuidGenerator{}
	}
	return &Runtime{
		categories: registry.New(),
		locations:  location.New(),
		delegator:  delegator.New(),
		events:     events.NewBus(cfg.Logger.With().Str("component", "events").Logger()),
		ids:        ids,
		timeout:    cfg.BackendTimeout,
		logger:     cfg.Logger.With().Str("component", "runtime").Logger(),
	}
}

// Categories returns the category registry.
func (rt *Runtime) Categories() *registry.Registry {
	return rt.categories
}

// Locations returns the location registry.
func (rt *Runtime) Locations() *location.Registry {
	return rt.locations
}

// Delegator returns the action delegator. Resource factories register
// their handlers with it.
func (rt *Runtime) Delegator() *delegator.Delegator {
	return rt.delegator
}

// Events returns the lifecycle event bus.
func (rt *Runtime) Events() *events.Bus {
	return rt.events
}

// Bootstrap registers categories and binds the kinds and mixins at their
// locations. Repeating it with the same objects is a no-op.
func (rt *Runtime) Bootstrap(ts ...schema.Type) error {
	for _, t := range ts {
		loc := locationOfType(t)
		if loc == "" {
			continue
		}
		if obj, ok := rt.locations.Get(loc); ok && obj != t {
			return schema.Errorf(schema.CodeLocationAlreadyBound, "location %s of %s is already bound", loc, t.Identifier())
		}
	}

	if err := rt.categories.Bootstrap(ts...); err != nil {
		return err
	}
	for _, t := range ts {
		if loc := locationOfType(t); loc != "" {
			if err := rt.locations.Register(loc, t); err != nil {
				return fmt.Errorf("bind %s: %w", t.Identifier(), err)
			}
		}
	}

	rt.logger.Debug().Int("categories", len(ts)).Msg("categories registered")
	return nil
}

// Define registers the actions and mixins of extension definitions. Each
// definition may refer to categories registered before it.
func (rt *Runtime) Define(defs ...schema.Definition) error {
	for _, d := range defs {
		actions, mixins, err := d.Build(rt.categories.Get)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Source, err)
		}
		ts := make([]schema.Type, 0, len(actions)+len(mixins))
		for _, a := range actions {
			ts = append(ts, a)
		}
		for _, m := range mixins {
			ts = append(ts, m)
		}
		if err := rt.Bootstrap(ts...); err != nil {
			return fmt.Errorf("%s: %w", d.Source, err)
		}
		rt.logger.Info().
			Str("source", d.Source).
			Int("actions", len(actions)).
			Int("mixins", len(mixins)).
			Msg("extension categories loaded")
	}
	return nil
}

// Query returns the registered categories in registration order. With
// refs, only the referenced categories are returned; unknown references
// are ignored.
func (rt *Runtime) Query(refs []schema.Ref) []schema.Type {
	if len(refs) == 0 {
		return rt.categories.All(nil)
	}
	return rt.categories.Select(refs, nil)
}

// Object returns whatever is bound at loc: an entity, a kind or a mixin.
func (rt *Runtime) Object(loc string) (any, error) {
	return rt.locations.Lookup(loc)
}

// Members returns the locations of the entities of a kind (including its
// sub-kinds) or carrying a mixin.
func (rt *Runtime) Members(t schema.Type) []string {
	var out []string
	for _, inst := range rt.locations.Below("/", t) {
		if e, ok := inst.(entity.Entity); ok {
			out = append(out, e.Location())
		}
	}
	return out
}

// Get returns the entity at loc after refreshing it from its backend.
func (rt *Runtime) Get(ctx context.Context, loc string) (entity.Entity, error) {
	e, err := rt.entityAt(loc)
	if err != nil {
		return nil, err
	}
	if err := rt.refresh(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the entities below prefix, refreshed from their backends.
// Every known category in refs must match: kinds by inheritance, mixins by
// association. Unknown categories are ignored.
func (rt *Runtime) List(ctx context.Context, prefix string, refs []schema.Ref) ([]entity.Entity, error) {
	filter := rt.categories.Select(refs, registry.OfClass(schema.ClassKind, schema.ClassMixin))

	out := entities(rt.locations.Below(prefix, filter...))
	for _, e := range out {
		if err := rt.refresh(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Targets resolves the entities a request on loc applies to: the entity
// bound at loc, or every entity below loc when loc is a collection.
func (rt *Runtime) Targets(loc string) ([]entity.Entity, error) {
	loc = location.Normalize(loc)
	obj, ok := rt.locations.Get(loc)
	if e, isEntity := obj.(entity.Entity); ok && isEntity {
		return []entity.Entity{e}, nil
	}
	if !ok && !strings.HasSuffix(loc, "/") {
		return nil, schema.Errorf(schema.CodeLocationNotFound, "nothing is bound at %s", loc)
	}
	return entities(rt.locations.Below(loc)), nil
}

// StateChanged publishes a lifecycle transition. Resource factories call it
// from their state machine observers.
func (rt *Runtime) StateChanged(r *entity.Resource, from, to, action string) {
	rt.logger.Debug().
		Str("location", r.Location()).
		Str("from", from).
		Str("to", to).
		Str("action", action).
		Msg("state changed")
	rt.publish(context.Background(), events.StateChanged, r, action, map[string]any{
		"kind": r.Kind().Identifier(),
		"from": from,
		"to":   to,
	})
}

func (rt *Runtime) entityAt(loc string) (entity.Entity, error) {
	obj, err := rt.locations.Lookup(loc)
	if err != nil {
		return nil, err
	}
	e, ok := obj.(entity.Entity)
	if !ok {
		return nil, schema.Errorf(schema.CodeLocationNotFound, "no entity is bound at %s", location.Normalize(loc))
	}
	return e, nil
}

func (rt *Runtime) resourceAt(loc string) (*entity.Resource, error) {
	e, err := rt.entityAt(loc)
	if err != nil {
		return nil, err
	}
	r, ok := e.(*entity.Resource)
	if !ok {
		return nil, schema.Errorf(schema.CodeValidation, "%s is not a resource", e.Location())
	}
	return r, nil
}

// backend bounds ctx by the configured backend timeout.
func (rt *Runtime) backend(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rt.timeout)
}

func (rt *Runtime) refresh(ctx context.Context, e entity.Entity) error {
	ctx, cancel := rt.backend(ctx)
	defer cancel()

	if err := e.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh %s: %w", e.Location(), err)
	}
	return nil
}

func (rt *Runtime) publish(ctx context.Context, name string, e entity.Entity, category string, data map[string]any) {
	ev := events.Event{Name: name, Category: category, Data: data}
	if e != nil {
		ev.Location = e.Location()
		if ev.Category == "" {
			ev.Category = e.Kind().Identifier()
		}
	}
	rt.events.Publish(ctx, ev)
}

func locationOfType(t schema.Type) string {
	switch c := t.(type) {
	case *schema.Kind:
		return c.Location
	case *schema.Mixin:
		return c.Location
	default:
		return ""
	}
}

func entities(insts []schema.Instance) []entity.Entity {
	out := make([]entity.Entity, 0, len(insts))
	for _, inst := range insts {
		if e, ok := inst.(entity.Entity); ok {
			out = append(out, e)
		}
	}
	return out
}

// coerce converts string values to the type the schema declares for them.
// The text renderings carry numbers and booleans as quoted strings too.
func coerce(attrs schema.Attributes, values schema.Values) (schema.Values, error) {
	out := values.Clone()
	var vs schema.Violations
	for _, name := range schema.SortedNames(values) {
		def, ok := attrs.Get(name)
		s, isString := values[name].AsString()
		if !ok || !isString || def.Type == schema.TypeAny || def.Type == schema.TypeString {
			continue
		}
		v, err := schema.Coerce(s, def.Type)
		if err != nil {
			vs.Add(name, schema.ConstraintType, "%v", err)
			continue
		}
		out[name] = v
	}
	if err := vs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// applicable rejects mixins whose related kind the entity kind does not
// descend from.
func applicable(kind *schema.Kind, mixins []*schema.Mixin) error {
	for _, m := range mixins {
		related, ok := m.Related.(*schema.Kind)
		if ok && !kind.IsA(related) {
			return schema.Errorf(schema.CodeValidation, "mixin %s applies to %s, not %s", m.Identifier(), related.Identifier(), kind.Identifier())
		}
	}
	return nil
}
