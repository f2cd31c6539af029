// Package ports defines the contracts between the protocol engine and the
// backends that provision resources. Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates entity identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides password hashing for the basic auth credentials.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Backend Ports
// -----------------------------------------------------------------------------

// EntityBackend provisions a single entity.
type EntityBackend = entity.Backend

// ComputeBackend carries out compute actions.
type ComputeBackend interface {
	EntityBackend
	Start(ctx context.Context, r *entity.Resource, params schema.Values) error
	Stop(ctx context.Context, r *entity.Resource, params schema.Values) error
	Restart(ctx context.Context, r *entity.Resource, params schema.Values) error
	Suspend(ctx context.Context, r *entity.Resource, params schema.Values) error
}

// StorageBackend carries out storage actions.
type StorageBackend interface {
	EntityBackend
	Online(ctx context.Context, r *entity.Resource, params schema.Values) error
	Offline(ctx context.Context, r *entity.Resource, params schema.Values) error
	Backup(ctx context.Context, r *entity.Resource, params schema.Values) error
	Snapshot(ctx context.Context, r *entity.Resource, params schema.Values) error
	Resize(ctx context.Context, r *entity.Resource, params schema.Values) error
}

// NetworkBackend carries out network actions.
type NetworkBackend interface {
	EntityBackend
	Up(ctx context.Context, r *entity.Resource, params schema.Values) error
	Down(ctx context.Context, r *entity.Resource, params schema.Values) error
}

// Provider bundles the backends of one cloud.
type Provider interface {
	Name() string
	Compute() ComputeBackend
	Storage() StorageBackend
	Network() NetworkBackend
	Links() EntityBackend
	Close() error
}
