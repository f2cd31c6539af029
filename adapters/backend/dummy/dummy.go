// Package dummy is an in-memory backend that provisions nothing. It records
// every call, which makes it the default for development and tests.
package dummy

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/ports"
)

// Name is the backend type selected in the configuration.
const Name = "dummy"

// Call is one recorded backend invocation.
type Call struct {
	Backend  string
	Op       string
	Location string
	Params   schema.Values
}

// Provider implements ports.Provider in memory.
type Provider struct {
	logger zerolog.Logger

	mu       sync.Mutex
	deployed map[string]bool
	calls    []Call
	failures map[string]error
}

// New creates a dummy provider.
func New(logger zerolog.Logger) *Provider {
	return &Provider{
		logger:   logger.With().Str("backend", Name).Logger(),
		deployed: make(map[string]bool),
		failures: make(map[string]error),
	}
}

// Name returns "dummy".
func (p *Provider) Name() string { return Name }

// Compute returns the compute backend.
func (p *Provider) Compute() ports.ComputeBackend { return &backend{p: p, name: "compute"} }

// Storage returns the storage backend.
func (p *Provider) Storage() ports.StorageBackend { return &backend{p: p, name: "storage"} }

// Network returns the network backend.
func (p *Provider) Network() ports.NetworkBackend { return &backend{p: p, name: "network"} }

// Links returns the link backend.
func (p *Provider) Links() ports.EntityBackend { return &backend{p: p, name: "link"} }

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// FailOn makes every future call of op fail with err. A nil err clears it.
func (p *Provider) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Call(nil), p.calls...)
}

// Deployed reports whether the entity at loc is provisioned.
func (p *Provider) Deployed(loc string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.deployed[loc]
}

func (p *Provider) record(ctx context.Context, name, op, loc string, params schema.Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Backend: name, Op: op, Location: loc, Params: params})
	p.logger.Debug().Str("op", op).Str("location", loc).Msg("dummy backend call")

	if err := p.failures[op]; err != nil {
		return fmt.Errorf("dummy %s: %w", op, err)
	}
	switch op {
	case "deploy":
		p.deployed[loc] = true
	case "delete":
		delete(p.deployed, loc)
	}
	return nil
}

// backend serves every port; name only labels the calls.
type backend struct {
	p    *Provider
	name string
}

// Deploy assigns a hostname to compute resources created without one, the
// way a real cloud would report one.
func (b *backend) Deploy(ctx context.Context, e entity.Entity) error {
	if err := b.p.record(ctx, b.name, "deploy", e.Location(), nil); err != nil {
		return err
	}
	if b.name != "compute" {
		return nil
	}
	if v, ok := e.Attribute("occi.compute.hostname"); ok && !v.IsEmpty() {
		return nil
	}
	return e.SetSystem(schema.Values{"occi.compute.hostname": schema.String("dummy-" + e.ID())})
}

// Refresh only records the call; nothing changes behind a dummy resource.
func (b *backend) Refresh(ctx context.Context, e entity.Entity) error {
	return b.p.record(ctx, b.name, "refresh", e.Location(), nil)
}

func (b *backend) Update(ctx context.Context, e entity.Entity) error {
	return b.p.record(ctx, b.name, "update", e.Location(), nil)
}

func (b *backend) Delete(ctx context.Context, e entity.Entity) error {
	return b.p.record(ctx, b.name, "delete", e.Location(), nil)
}

func (b *backend) action(ctx context.Context, op string, r *entity.Resource, params schema.Values) error {
	return b.p.record(ctx, b.name, op, r.Location(), params)
}

func (b *backend) Start(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "start", r, params)
}

func (b *backend) Stop(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "stop", r, params)
}

func (b *backend) Restart(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "restart", r, params)
}

func (b *backend) Suspend(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "suspend", r, params)
}

func (b *backend) Online(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "online", r, params)
}

func (b *backend) Offline(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "offline", r, params)
}

func (b *backend) Backup(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "backup", r, params)
}

func (b *backend) Snapshot(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "snapshot", r, params)
}

func (b *backend) Resize(ctx context.Context, r *entity.Resource, params schema.Values) error {
	if err := b.action(ctx, "resize", r, params); err != nil {
		return err
	}
	return r.SetSystem(schema.Values{"occi.storage.size": params["size"]})
}

func (b *backend) Up(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "up", r, params)
}

func (b *backend) Down(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.action(ctx, "down", r, params)
}

var _ ports.Provider = (*Provider)(nil)
