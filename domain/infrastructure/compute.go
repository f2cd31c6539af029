package infrastructure

import (
	"context"

	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/core/statemachine"
)

// Compute states.
const (
	ComputeInactive  = "inactive"
	ComputeActive    = "active"
	ComputeSuspended = "suspended"
)

// ComputeStateAttr mirrors the compute lifecycle state.
const ComputeStateAttr = "occi.compute.state"

func (c *Catalog) defineCompute() {
	c.Start = schema.NewAction(ComputeActionScheme, "start", "Start compute", nil)
	c.Stop = c.method(schema.NewAction(ComputeActionScheme, "stop", "Stop compute", nil),
		"graceful", "graceful", "acpioff", "poweroff")
	c.Restart = c.method(schema.NewAction(ComputeActionScheme, "restart", "Restart compute", nil),
		"graceful", "graceful", "warm", "cold")
	c.Suspend = c.method(schema.NewAction(ComputeActionScheme, "suspend", "Suspend compute", nil),
		"suspend", "hibernate", "suspend")

	c.Compute = schema.NewKind(InfraScheme, "compute", "Compute Resource", c.Resource, "/compute/", schema.Attributes{
		{Name: "occi.compute.architecture", Type: schema.TypeString, Mutable: true, Description: "CPU architecture, e.g. x86 or x64"},
		{Name: "occi.compute.cores", Type: schema.TypeNumber, Mutable: true, Description: "Number of CPU cores"},
		{Name: "occi.compute.hostname", Type: schema.TypeString, Mutable: true, Description: "Fully qualified hostname"},
		{Name: "occi.compute.memory", Type: schema.TypeNumber, Mutable: true, Description: "RAM in gigabytes"},
		{Name: "occi.compute.speed", Type: schema.TypeNumber, Mutable: true, Description: "CPU clock in gigahertz"},
		{Name: ComputeStateAttr, Type: schema.TypeString, Mandatory: true, Default: schema.String(ComputeInactive), Description: "Lifecycle state"},
	}, c.Start, c.Stop, c.Restart, c.Suspend)

	c.Compute.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		backend := c.deps.Provider.Compute()
		return c.newResource(in, c.Compute, backend, c.computeLifecycle(), map[*schema.Action]actionFunc{
			c.Start:   backend.Start,
			c.Stop:    backend.Stop,
			c.Restart: backend.Restart,
			c.Suspend: backend.Suspend,
		})
	})
}

func (c *Catalog) computeLifecycle() lifecycle {
	return lifecycle{
		stateAttr: ComputeStateAttr,
		order:     []string{ComputeInactive, ComputeActive, ComputeSuspended},
		table: statemachine.Table{
			ComputeInactive: {
				c.Start.Identifier(): ComputeActive,
			},
			ComputeActive: {
				c.Stop.Identifier():    ComputeInactive,
				c.Suspend.Identifier(): ComputeSuspended,
				c.Restart.Identifier(): ComputeActive,
			},
			ComputeSuspended: {
				c.Start.Identifier(): ComputeActive,
			},
		},
	}
}
