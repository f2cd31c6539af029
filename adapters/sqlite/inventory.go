package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/ports"
)

// Name is the backend type selected in the configuration.
const Name = "sqlite"

// Inventory implements ports.Provider by recording every provisioned
// entity. It provisions nothing itself; a restart restores the server's
// entities from it.
type Inventory struct {
	db     *DB
	clock  ports.Clock
	logger zerolog.Logger
}

// NewInventory creates an inventory over a migrated database.
func NewInventory(db *DB, clock ports.Clock, logger zerolog.Logger) *Inventory {
	return &Inventory{
		db:     db,
		clock:  clock,
		logger: logger.With().Str("backend", Name).Logger(),
	}
}

// Name returns "sqlite".
func (inv *Inventory) Name() string { return Name }

// Compute returns the compute backend.
func (inv *Inventory) Compute() ports.ComputeBackend { return &backend{inv: inv} }

// Storage returns the storage backend.
func (inv *Inventory) Storage() ports.StorageBackend { return &backend{inv: inv} }

// Network returns the network backend.
func (inv *Inventory) Network() ports.NetworkBackend { return &backend{inv: inv} }

// Links returns the link backend.
func (inv *Inventory) Links() ports.EntityBackend { return &backend{inv: inv} }

// Close closes the database.
func (inv *Inventory) Close() error { return inv.db.Close() }

// Records returns every stored entity, resources before links, each group
// in provisioning order.
func (inv *Inventory) Records(ctx context.Context) ([]runtime.Record, error) {
	rows, err := inv.db.QueryContext(ctx,
		`SELECT id, kind, mixins, attributes, state FROM entities ORDER BY is_link, seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []runtime.Record
	for rows.Next() {
		var (
			rec           runtime.Record
			mixins, attrs string
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &mixins, &attrs, &rec.State); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if err := json.Unmarshal([]byte(mixins), &rec.Mixins); err != nil {
			return nil, fmt.Errorf("entity %s mixins: %w", rec.ID, err)
		}
		if rec.Attributes, err = decodeValues(attrs); err != nil {
			return nil, fmt.Errorf("entity %s attributes: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActionRecord is one action carried out on a resource.
type ActionRecord struct {
	Location    string
	Action      string
	Params      schema.Values
	State       string
	TriggeredAt time.Time
}

// History returns the actions carried out on the resource at loc, oldest
// first.
func (inv *Inventory) History(ctx context.Context, loc string) ([]ActionRecord, error) {
	rows, err := inv.db.QueryContext(ctx,
		`SELECT location, action, params, state, triggered_at FROM actions WHERE location = ? ORDER BY seq`,
		loc,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var (
			a      ActionRecord
			params string
			at     string
		)
		if err := rows.Scan(&a.Location, &a.Action, &params, &a.State, &at); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		if a.Params, err = decodeValues(params); err != nil {
			return nil, fmt.Errorf("action %s params: %w", a.Action, err)
		}
		a.TriggeredAt, _ = time.Parse(timeFormat, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// row is the stored form of an entity.
type row struct {
	mixins string
	attrs  string
	state  string
	isLink bool
}

func rowOf(e entity.Entity) (row, error) {
	ids := make([]string, 0, len(e.Mixins()))
	for _, m := range e.Mixins() {
		ids = append(ids, m.Identifier())
	}
	mixins, err := json.Marshal(ids)
	if err != nil {
		return row{}, err
	}

	attrs := e.Attributes()
	var r row
	switch x := e.(type) {
	case *entity.Resource:
		r.state = x.State()
		if name := x.StateAttribute(); name != "" {
			delete(attrs, name)
		}
	case *entity.Link:
		r.isLink = true
	}
	if r.attrs, err = encodeValues(attrs); err != nil {
		return row{}, err
	}
	r.mixins = string(mixins)
	return r, nil
}

// backend serves every port of the inventory.
type backend struct {
	inv *Inventory
}

const timeFormat = time.RFC3339Nano

func (b *backend) now() string {
	return b.inv.clock.Now().UTC().Format(timeFormat)
}

func (b *backend) Deploy(ctx context.Context, e entity.Entity) error {
	r, err := rowOf(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Location(), err)
	}
	now := b.now()
	_, err = b.inv.db.ExecContext(ctx,
		`INSERT INTO entities (id, location, kind, mixins, attributes, state, is_link, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID(), e.Location(), e.Kind().Identifier(), r.mixins, r.attrs, r.state, r.isLink, now, now,
	)
	if err != nil {
		return fmt.Errorf("store %s: %w", e.Location(), err)
	}
	b.inv.logger.Debug().Str("location", e.Location()).Msg("entity stored")
	return nil
}

// Refresh adopts the stored lifecycle state when it differs from the one
// held in memory.
func (b *backend) Refresh(ctx context.Context, e entity.Entity) error {
	res, ok := e.(*entity.Resource)
	if !ok {
		return nil
	}
	var state string
	err := b.inv.db.QueryRowContext(ctx, `SELECT state FROM entities WHERE location = ?`, e.Location()).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s is not in the inventory", e.Location())
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", e.Location(), err)
	}
	if state == "" || state == res.State() {
		return nil
	}
	b.inv.logger.Info().Str("location", e.Location()).Str("from", res.State()).Str("to", state).Msg("state adopted from inventory")
	return res.RestoreState(state)
}

func (b *backend) Update(ctx context.Context, e entity.Entity) error {
	r, err := rowOf(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Location(), err)
	}
	res, err := b.inv.db.ExecContext(ctx,
		`UPDATE entities SET mixins = ?, attributes = ?, state = ?, updated_at = ? WHERE location = ?`,
		r.mixins, r.attrs, r.state, b.now(), e.Location(),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", e.Location(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s is not in the inventory", e.Location())
	}
	return nil
}

func (b *backend) Delete(ctx context.Context, e entity.Entity) error {
	if _, err := b.inv.db.ExecContext(ctx, `DELETE FROM entities WHERE location = ?`, e.Location()); err != nil {
		return fmt.Errorf("delete %s: %w", e.Location(), err)
	}
	b.inv.logger.Debug().Str("location", e.Location()).Msg("entity removed")
	return nil
}

// record logs an action. The state is the one the action started from;
// the new state is stored by the Update that follows.
func (b *backend) record(ctx context.Context, action string, r *entity.Resource, params schema.Values) error {
	encoded, err := encodeValues(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", action, err)
	}
	_, err = b.inv.db.ExecContext(ctx,
		`INSERT INTO actions (location, action, params, state, triggered_at) VALUES (?, ?, ?, ?, ?)`,
		r.Location(), action, encoded, r.State(), b.now(),
	)
	if err != nil {
		return fmt.Errorf("record %s on %s: %w", action, r.Location(), err)
	}
	return nil
}

func (b *backend) Start(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "start", r, params)
}

func (b *backend) Stop(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "stop", r, params)
}

func (b *backend) Restart(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "restart", r, params)
}

func (b *backend) Suspend(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "suspend", r, params)
}

func (b *backend) Online(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "online", r, params)
}

func (b *backend) Offline(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "offline", r, params)
}

func (b *backend) Backup(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "backup", r, params)
}

func (b *backend) Snapshot(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "snapshot", r, params)
}

func (b *backend) Resize(ctx context.Context, r *entity.Resource, params schema.Values) error {
	if err := b.record(ctx, "resize", r, params); err != nil {
		return err
	}
	return r.SetSystem(schema.Values{"occi.storage.size": params["size"]})
}

func (b *backend) Up(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "up", r, params)
}

func (b *backend) Down(ctx context.Context, r *entity.Resource, params schema.Values) error {
	return b.record(ctx, "down", r, params)
}

func encodeValues(vs schema.Values) (string, error) {
	plain := make(map[string]any, len(vs))
	for k, v := range vs {
		if v.IsSet() {
			plain[k] = v.Interface()
		}
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeValues(s string) (schema.Values, error) {
	var plain map[string]any
	if err := json.Unmarshal([]byte(s), &plain); err != nil {
		return nil, err
	}
	out := make(schema.Values, len(plain))
	for k, x := range plain {
		v, err := schema.ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

var _ ports.Provider = (*Inventory)(nil)
