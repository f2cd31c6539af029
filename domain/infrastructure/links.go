package infrastructure

import (
	"context"

	"github.com/artpar/occigate/core/schema"
)

func (c *Catalog) defineLinks() {
	c.Link.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		return c.newLink(in, c.Link, c.deps.Provider.Links())
	})

	c.NetworkInterface = schema.NewKind(InfraScheme, "networkinterface", "Network Interface", c.Link, "/link/networkinterface/", schema.Attributes{
		{Name: "occi.networkinterface.interface", Type: schema.TypeString, Description: "Interface name, e.g. eth0"},
		{Name: "occi.networkinterface.mac", Type: schema.TypeString, Mutable: true, Unique: true, Description: "MAC address"},
		{Name: "occi.networkinterface.state", Type: schema.TypeString, Mandatory: true, Default: schema.String("inactive"), Description: "Link state"},
	})
	c.NetworkInterface.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		return c.newLink(in, c.NetworkInterface, c.deps.Provider.Links())
	})

	c.StorageLink = schema.NewKind(InfraScheme, "storagelink", "Storage Link", c.Link, "/link/storagelink/", schema.Attributes{
		{Name: "occi.storagelink.deviceid", Type: schema.TypeString, Mutable: true, Description: "Device identifier"},
		{Name: "occi.storagelink.mountpoint", Type: schema.TypeString, Mutable: true, Description: "Mount point"},
		{Name: "occi.storagelink.state", Type: schema.TypeString, Mandatory: true, Default: schema.String("inactive"), Description: "Link state"},
	})
	c.StorageLink.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		return c.newLink(in, c.StorageLink, c.deps.Provider.Links())
	})
}
