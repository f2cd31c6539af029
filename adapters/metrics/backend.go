package metrics

import (
	"context"
	"time"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/ports"
)

// Instrument wraps a provider so that every backend call is timed.
func (c *Collector) Instrument(p ports.Provider) ports.Provider {
	return &provider{inner: p, c: c}
}

type provider struct {
	inner ports.Provider
	c     *Collector
}

func (p *provider) Name() string { return p.inner.Name() }

func (p *provider) Compute() ports.ComputeBackend {
	b := p.inner.Compute()
	return &backend{name: p.inner.Name(), c: p.c, entity: b, compute: b}
}

func (p *provider) Storage() ports.StorageBackend {
	b := p.inner.Storage()
	return &backend{name: p.inner.Name(), c: p.c, entity: b, storage: b}
}

func (p *provider) Network() ports.NetworkBackend {
	b := p.inner.Network()
	return &backend{name: p.inner.Name(), c: p.c, entity: b, network: b}
}

func (p *provider) Links() ports.EntityBackend {
	return &backend{name: p.inner.Name(), c: p.c, entity: p.inner.Links()}
}

func (p *provider) Close() error { return p.inner.Close() }

// backend times the calls of whichever port it wraps. Only the port it
// was created for is set.
type backend struct {
	name string
	c    *Collector

	entity  ports.EntityBackend
	compute ports.ComputeBackend
	storage ports.StorageBackend
	network ports.NetworkBackend
}

func (b *backend) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	b.c.BackendDuration.WithLabelValues(b.name, op).Observe(time.Since(start).Seconds())
	if err != nil {
		b.c.BackendErrors.WithLabelValues(b.name, op).Inc()
	}
	return err
}

func (b *backend) Deploy(ctx context.Context, e entity.Entity) error {
	return b.observe("deploy", func() error { return b.entity.Deploy(ctx, e) })
}

func (b *backend) Refresh(ctx context.Context, e entity.Entity) error {
	return b.observe("refresh", func() error { return b.entity.Refresh(ctx, e) })
}

func (b *backend) Update(ctx context.Context, e entity.Entity) error {
	return b.observe("update", func() error { return b.entity.Update(ctx, e) })
}

func (b *backend) Delete(ctx context.Context, e entity.Entity) error {
	return b.observe("delete", func() error { return b.entity.Delete(ctx, e) })
}

func (b *backend) Start(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("start", func() error { return b.compute.Start(ctx, r, params) })
}

func (b *backend) Stop(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("stop", func() error { return b.compute.Stop(ctx, r, params) })
}

func (b *backend) Restart(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("restart", func() error { return b.compute.Restart(ctx, r, params) })
}

func (b *backend) Suspend(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("suspend", func() error { return b.compute.Suspend(ctx, r, params) })
}

func (b *backend) Online(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("online", func() error { return b.storage.Online(ctx, r, params) })
}

func (b *backend) Offline(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("offline", func() error { return b.storage.Offline(ctx, r, params) })
}

func (b *backend) Backup(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("backup", func() error { return b.storage.Backup(ctx, r, params) })
}

func (b *backend) Snapshot(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("snapshot", func() error { return b.storage.Snapshot(ctx, r, params) })
}

func (b *backend) Resize(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("resize", func() error { return b.storage.Resize(ctx, r, params) })
}

func (b *backend) Up(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("up", func() error { return b.network.Up(ctx, r, params) })
}

func (b *backend) Down(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.observe("down", func() error { return b.network.Down(ctx, r, params) })
}

var _ ports.Provider = (*provider)(nil)
