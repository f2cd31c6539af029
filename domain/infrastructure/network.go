package infrastructure

import (
	"context"

	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/core/statemachine"
)

// Network states.
const (
	NetworkInactive = "inactive"
	NetworkActive   = "active"
)

// NetworkStateAttr mirrors the network lifecycle state.
const NetworkStateAttr = "occi.network.state"

func (c *Catalog) defineNetwork() {
	c.Up = schema.NewAction(NetworkActionScheme, "up", "Activate network", nil)
	c.Down = schema.NewAction(NetworkActionScheme, "down", "Deactivate network", nil)

	c.Network = schema.NewKind(InfraScheme, "network", "Network Resource", c.Resource, "/network/", schema.Attributes{
		{Name: "occi.network.vlan", Type: schema.TypeNumber, Mutable: true, Unique: true, Description: "802.1q VLAN identifier"},
		{Name: "occi.network.label", Type: schema.TypeString, Mutable: true, Description: "Tag based VLAN label"},
		{Name: NetworkStateAttr, Type: schema.TypeString, Mandatory: true, Default: schema.String(NetworkInactive), Description: "Lifecycle state"},
	}, c.Up, c.Down)

	c.Network.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		backend := c.deps.Provider.Network()
		return c.newResource(in, c.Network, backend, lifecycle{
			stateAttr: NetworkStateAttr,
			order:     []string{NetworkInactive, NetworkActive},
			table: statemachine.Table{
				NetworkInactive: {c.Up.Identifier(): NetworkActive},
				NetworkActive:   {c.Down.Identifier(): NetworkInactive},
			},
		}, map[*schema.Action]actionFunc{
			c.Up:   backend.Up,
			c.Down: backend.Down,
		})
	})
}
