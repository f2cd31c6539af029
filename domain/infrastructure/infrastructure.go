// Package infrastructure defines the built-in OCCI core and infrastructure
// categories: the entity/resource/link kinds, compute, storage and network
// resources, their links, and the standard mixins.
//
// Resource kinds carry factories that build the resource, its lifecycle
// state machine and the backend-bound action handlers.
package infrastructure

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/delegator"
	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/core/statemachine"
	"github.com/artpar/occigate/ports"
)

// Schemes.
const (
	CoreScheme             = "http://schemas.ogf.org/occi/core#"
	InfraScheme            = "http://schemas.ogf.org/occi/infrastructure#"
	ComputeActionScheme    = "http://schemas.ogf.org/occi/infrastructure/compute/action#"
	StorageActionScheme    = "http://schemas.ogf.org/occi/infrastructure/storage/action#"
	NetworkActionScheme    = "http://schemas.ogf.org/occi/infrastructure/network/action#"
	NetworkScheme          = "http://schemas.ogf.org/occi/infrastructure/network#"
	NetworkInterfaceScheme = "http://schemas.ogf.org/occi/infrastructure/networkinterface#"
)

// StateChangeFunc is told about every lifecycle transition.
type StateChangeFunc func(r *entity.Resource, from, to, action string)

// Deps are the collaborators the factories need.
type Deps struct {
	Delegator     *delegator.Delegator
	Provider      ports.Provider
	OnStateChange StateChangeFunc
	Logger        zerolog.Logger
}

// Catalog holds the built-in categories.
type Catalog struct {
	Entity   *schema.Kind
	Resource *schema.Kind
	Link     *schema.Kind

	Compute          *schema.Kind
	Storage          *schema.Kind
	Network          *schema.Kind
	NetworkInterface *schema.Kind
	StorageLink      *schema.Kind

	Start, Stop, Restart, Suspend             *schema.Action
	Online, Offline, Backup, Snapshot, Resize *schema.Action
	Up, Down                                  *schema.Action

	OSTemplate         *schema.Mixin
	ResourceTemplate   *schema.Mixin
	IPNetwork          *schema.Mixin
	IPNetworkInterface *schema.Mixin
	Reservation        *schema.Mixin

	deps    Deps
	methods map[string][]string
}

// New builds the catalog and wires the resource factories to deps.
func New(deps Deps) *Catalog {
	c := &Catalog{deps: deps, methods: make(map[string][]string)}
	c.defineCore()
	c.defineCompute()
	c.defineStorage()
	c.defineNetwork()
	c.defineLinks()
	c.defineMixins()
	return c
}

// Categories returns every built-in category in registration order:
// actions first, then kinds parent before child, then mixins.
func (c *Catalog) Categories() []schema.Type {
	return []schema.Type{
		c.Start, c.Stop, c.Restart, c.Suspend,
		c.Online, c.Offline, c.Backup, c.Snapshot, c.Resize,
		c.Up, c.Down,
		c.Entity, c.Resource, c.Link,
		c.Compute, c.Storage, c.Network,
		c.NetworkInterface, c.StorageLink,
		c.OSTemplate, c.ResourceTemplate,
		c.IPNetwork, c.IPNetworkInterface, c.Reservation,
	}
}

func (c *Catalog) defineCore() {
	c.Entity = schema.NewKind(CoreScheme, "entity", "Entity", nil, "/entity/", schema.Attributes{
		{Name: entity.AttrID, Type: schema.TypeString, Mandatory: true, Unique: true, Description: "Entity identifier"},
		{Name: entity.AttrTitle, Type: schema.TypeString, Mutable: true, Description: "Display name"},
	})
	c.Resource = schema.NewKind(CoreScheme, "resource", "Resource", c.Entity, "/resource/", schema.Attributes{
		{Name: entity.AttrSummary, Type: schema.TypeString, Mutable: true, Description: "Textual description"},
	})
	c.Link = schema.NewKind(CoreScheme, "link", "Link", c.Entity, "/link/", schema.Attributes{
		{Name: entity.AttrSource, Type: schema.TypeString, Mandatory: true, Description: "Location of the source resource"},
		{Name: entity.AttrTarget, Type: schema.TypeString, Mandatory: true, Description: "Location of the target"},
	})
}

// method declares the "method" parameter of an action and records the
// accepted values.
func (c *Catalog) method(a *schema.Action, def string, allowed ...string) *schema.Action {
	a.Attributes = append(a.Attributes, schema.Attribute{
		Name:        "method",
		Type:        schema.TypeString,
		Default:     schema.String(def),
		Description: fmt.Sprintf("one of %v", allowed),
	})
	c.methods[a.Identifier()] = allowed
	return a
}

func (c *Catalog) checkMethod(a *schema.Action, params schema.Values) error {
	allowed, ok := c.methods[a.Identifier()]
	if !ok {
		return nil
	}
	got := params.Text("method")
	for _, m := range allowed {
		if m == got {
			return nil
		}
	}
	var vs schema.Violations
	vs.Add("method", "enum", "%q is not one of %v", got, allowed)
	return vs.Err()
}

// actionFunc matches the action methods of the backend ports.
type actionFunc func(ctx context.Context, r *entity.Resource, params schema.Values) error

type lifecycle struct {
	stateAttr string
	order     []string
	table     statemachine.Table
}

// newResource builds a resource with its state machine and registers one
// delegator handler per action in bind.
func (c *Catalog) newResource(in schema.FactoryInput, kind *schema.Kind, backend entity.Backend, lc lifecycle, bind map[*schema.Action]actionFunc) (schema.Instance, error) {
	if v, ok := in.Attributes[lc.stateAttr]; ok {
		def, _ := kind.Attributes.Get(lc.stateAttr)
		if !v.Equal(def.Default) {
			var vs schema.Violations
			vs.Add(lc.stateAttr, schema.ConstraintImmutable, "state is changed by actions only")
			return nil, vs.Err()
		}
	}

	r, err := entity.NewResource(entity.Options{
		ID:         in.ID,
		Kind:       kind,
		Mixins:     in.Mixins,
		Attributes: in.Attributes,
		Backend:    backend,
	})
	if err != nil {
		return nil, err
	}

	initial := r.Attributes().Text(lc.stateAttr)
	m, err := lc.table.Build(initial, lc.order, c.observer(r, lc.stateAttr))
	if err != nil {
		var vs schema.Violations
		vs.Add(lc.stateAttr, "enum", "unknown state %q", initial)
		return nil, vs.Err()
	}
	r.SetMachine(m, lc.stateAttr)

	for a, run := range bind {
		c.deps.Delegator.Register(a.Identifier(), r.Location(), c.handler(r, a, run))
	}
	return r, nil
}

// handler checks the transition, calls the backend and then moves the state
// machine. The runtime serialises handlers per resource.
func (c *Catalog) handler(r *entity.Resource, a *schema.Action, run actionFunc) delegator.Handler {
	return delegator.HandlerFunc(func(ctx context.Context, params schema.Values) error {
		m := r.Machine()
		if !m.Can(a.Identifier()) {
			return schema.Errorf(schema.CodeInvalidTransition, "action %s is not allowed in state %s", a.Term, m.Current())
		}
		if err := c.checkMethod(a, params); err != nil {
			return err
		}
		if err := run(ctx, r, params); err != nil {
			return fmt.Errorf("%s %s: %w", a.Term, r.Location(), err)
		}
		return m.Trigger(a.Identifier())
	})
}

func (c *Catalog) observer(r *entity.Resource, attr string) statemachine.Observer {
	return func(from, to, action string) {
		if err := r.SetSystem(schema.Values{attr: schema.String(to)}); err != nil {
			c.deps.Logger.Error().Err(err).Str("location", r.Location()).Msg("mirror state")
		}
		if c.deps.OnStateChange != nil {
			c.deps.OnStateChange(r, from, to, action)
		}
	}
}

// newLink builds a link from the occi.core.source and occi.core.target
// attributes.
func (c *Catalog) newLink(in schema.FactoryInput, kind *schema.Kind, backend entity.Backend) (schema.Instance, error) {
	source := in.Attributes.Text(entity.AttrSource)
	target := in.Attributes.Text(entity.AttrTarget)
	return entity.NewLink(entity.Options{
		ID:         in.ID,
		Kind:       kind,
		Mixins:     in.Mixins,
		Attributes: in.Attributes,
		Backend:    backend,
	}, source, target)
}
