package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/occigate/core/events"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
)

// Subscribe keeps the user-defined mixins in step with the runtime.
func (inv *Inventory) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.MixinDeclared, inv.mixinDeclared)
	bus.Subscribe(events.MixinRemoved, inv.mixinRemoved)
}

func (inv *Inventory) mixinDeclared(ctx context.Context, e events.Event) error {
	scheme, term := splitIdentifier(e.Category)
	title, _ := e.Data["title"].(string)
	loc, _ := e.Data["location"].(string)
	related, _ := e.Data["related"].(string)

	_, err := inv.db.ExecContext(ctx,
		`INSERT INTO user_mixins (identifier, scheme, term, title, location, related, declared_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET title = excluded.title, location = excluded.location, related = excluded.related`,
		e.Category, scheme, term, title, loc, related, inv.clock.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("store mixin %s: %w", e.Category, err)
	}
	inv.logger.Debug().Str("mixin", e.Category).Msg("mixin stored")
	return nil
}

func (inv *Inventory) mixinRemoved(ctx context.Context, e events.Event) error {
	if _, err := inv.db.ExecContext(ctx, `DELETE FROM user_mixins WHERE identifier = ?`, e.Category); err != nil {
		return fmt.Errorf("remove mixin %s: %w", e.Category, err)
	}
	return nil
}

// MixinDecls returns the stored user-defined mixins in declaration order.
func (inv *Inventory) MixinDecls(ctx context.Context) ([]runtime.MixinDecl, error) {
	rows, err := inv.db.QueryContext(ctx,
		`SELECT scheme, term, title, location, related FROM user_mixins ORDER BY declared_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("query mixins: %w", err)
	}
	defer rows.Close()

	var out []runtime.MixinDecl
	for rows.Next() {
		var (
			d       runtime.MixinDecl
			related string
		)
		if err := rows.Scan(&d.Scheme, &d.Term, &d.Title, &d.Location, &related); err != nil {
			return nil, fmt.Errorf("scan mixin: %w", err)
		}
		if related != "" {
			scheme, term := splitIdentifier(related)
			d.Related = []schema.Ref{{Scheme: scheme, Term: term}}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (inv *Inventory) HealthCheck(ctx context.Context) error {
	return inv.db.PingContext(ctx)
}

// splitIdentifier splits "scheme#term" after the last '#'.
func splitIdentifier(id string) (scheme, term string) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", id
	}
	return id[:i+1], id[i+1:]
}
