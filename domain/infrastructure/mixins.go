package infrastructure

import "github.com/artpar/occigate/core/schema"

func (c *Catalog) defineMixins() {
	c.OSTemplate = schema.NewMixin(InfraScheme, "os_tpl", "Operating system template", nil, "/mixins/os_tpl/", nil)
	c.ResourceTemplate = schema.NewMixin(InfraScheme, "resource_tpl", "Resource template", nil, "/mixins/resource_tpl/", nil)

	c.IPNetwork = schema.NewMixin(NetworkScheme, "ipnetwork", "IP network", c.Network, "/mixins/ipnetwork/", schema.Attributes{
		{Name: "occi.network.address", Type: schema.TypeString, Mutable: true, Description: "CIDR block, e.g. 192.168.0.0/24"},
		{Name: "occi.network.gateway", Type: schema.TypeString, Mutable: true, Description: "Gateway address"},
		{Name: "occi.network.allocation", Type: schema.TypeString, Mutable: true, Default: schema.String("dynamic"), Description: "dynamic or static"},
	})
	c.IPNetworkInterface = schema.NewMixin(NetworkInterfaceScheme, "ipnetworkinterface", "IP network interface", c.NetworkInterface, "/mixins/ipnetworkinterface/", schema.Attributes{
		{Name: "occi.networkinterface.address", Type: schema.TypeString, Mutable: true, Description: "IP address"},
		{Name: "occi.networkinterface.gateway", Type: schema.TypeString, Mutable: true, Description: "Gateway address"},
		{Name: "occi.networkinterface.allocation", Type: schema.TypeString, Mutable: true, Default: schema.String("dynamic"), Description: "dynamic or static"},
	})
	c.Reservation = schema.NewMixin(InfraScheme, "reservation", "Advance reservation", c.Resource, "/mixins/reservation/", schema.Attributes{
		{Name: "occi.reservation.start", Type: schema.TypeString, Mutable: true, Description: "RFC 3339 start time"},
		{Name: "occi.reservation.end", Type: schema.TypeString, Mutable: true, Description: "RFC 3339 end time"},
	})
}
