package infrastructure

import (
	"context"

	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/core/statemachine"
)

// Storage states.
const (
	StorageOffline  = "offline"
	StorageOnline   = "online"
	StorageBackup   = "backup"
	StorageSnapshot = "snapshot"
	StorageResize   = "resize"
	StorageDegraded = "degraded"
)

// StorageStateAttr mirrors the storage lifecycle state.
const StorageStateAttr = "occi.storage.state"

func (c *Catalog) defineStorage() {
	c.Online = schema.NewAction(StorageActionScheme, "online", "Bring storage online", nil)
	c.Offline = schema.NewAction(StorageActionScheme, "offline", "Take storage offline", nil)
	c.Backup = schema.NewAction(StorageActionScheme, "backup", "Back up storage", nil)
	c.Snapshot = schema.NewAction(StorageActionScheme, "snapshot", "Snapshot storage", nil)
	c.Resize = schema.NewAction(StorageActionScheme, "resize", "Resize storage", schema.Attributes{
		{Name: "size", Type: schema.TypeNumber, Mandatory: true, Description: "New size in gigabytes"},
	})

	c.Storage = schema.NewKind(InfraScheme, "storage", "Storage Resource", c.Resource, "/storage/", schema.Attributes{
		{Name: "occi.storage.size", Type: schema.TypeNumber, Mutable: true, Description: "Size in gigabytes"},
		{Name: StorageStateAttr, Type: schema.TypeString, Mandatory: true, Default: schema.String(StorageOffline), Description: "Lifecycle state"},
	}, c.Online, c.Offline, c.Backup, c.Snapshot, c.Resize)

	c.Storage.Factory = schema.FactoryFunc(func(_ context.Context, in schema.FactoryInput) (schema.Instance, error) {
		backend := c.deps.Provider.Storage()
		return c.newResource(in, c.Storage, backend, c.storageLifecycle(), map[*schema.Action]actionFunc{
			c.Online:   backend.Online,
			c.Offline:  backend.Offline,
			c.Backup:   backend.Backup,
			c.Snapshot: backend.Snapshot,
			c.Resize:   backend.Resize,
		})
	})
}

// storageLifecycle treats backup, snapshot and resize as completing within
// the backend call, so they leave the storage online. The intermediate
// states are reachable when a backend reports them on refresh.
func (c *Catalog) storageLifecycle() lifecycle {
	online := map[string]string{
		c.Offline.Identifier():  StorageOffline,
		c.Backup.Identifier():   StorageOnline,
		c.Snapshot.Identifier(): StorageOnline,
		c.Resize.Identifier():   StorageOnline,
	}
	busy := map[string]string{
		c.Online.Identifier(): StorageOnline,
	}
	return lifecycle{
		stateAttr: StorageStateAttr,
		order:     []string{StorageOffline, StorageOnline, StorageBackup, StorageSnapshot, StorageResize, StorageDegraded},
		table: statemachine.Table{
			StorageOffline:  {c.Online.Identifier(): StorageOnline},
			StorageOnline:   online,
			StorageBackup:   busy,
			StorageSnapshot: busy,
			StorageResize:   busy,
			StorageDegraded: {
				c.Online.Identifier():  StorageOnline,
				c.Offline.Identifier(): StorageOffline,
			},
		},
	}
}
