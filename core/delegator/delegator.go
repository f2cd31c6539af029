// Package delegator routes triggered actions to the handler registered for
// the (action, resource) pair. It decouples the protocol verbs from the
// backends that carry the actions out.
package delegator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/occigate/core/entity"
	"github.com/artpar/occigate/core/schema"
)

// Handler carries out one action on one resource.
type Handler interface {
	Invoke(ctx context.Context, params schema.Values) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params schema.Values) error

// Invoke calls f(ctx, params).
func (f HandlerFunc) Invoke(ctx context.Context, params schema.Values) error {
	return f(ctx, params)
}

// Delegator is the (action, resource) -> Handler table. Resources are keyed
// by location.
type Delegator struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// New creates an empty delegator.
func New() *Delegator {
	return &Delegator{handlers: make(map[string]map[string]Handler)}
}

// Register binds h to action on resource, replacing any previous handler.
func (d *Delegator) Register(action, resource string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byAction, ok := d.handlers[resource]
	if !ok {
		byAction = make(map[string]Handler)
		d.handlers[resource] = byAction
	}
	byAction[action] = h
}

// Handler returns the handler bound to action on resource.
func (d *Delegator) Handler(action, resource string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[resource][action]
	return h, ok
}

// Handlers returns the identifiers of the actions bound on resource, sorted.
func (d *Delegator) Handlers(resource string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.handlers[resource]))
	for action := range d.handlers[resource] {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// UnregisterResource drops every handler bound on resource.
func (d *Delegator) UnregisterResource(resource string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.handlers, resource)
}

// Delegate validates params against the action's parameter schema and
// invokes the bound handler once. It fails with NoHandlerRegistered when no
// handler is bound. Handler errors are returned as is.
func (d *Delegator) Delegate(ctx context.Context, action *schema.Action, params schema.Values, resource entity.Entity) error {
	params = schema.ApplyDefaults(action.Attributes, params)
	if err := schema.ValidateParams(action.Attributes, params); err != nil {
		return fmt.Errorf("action %s: %w", action.Term, err)
	}

	h, ok := d.Handler(action.Identifier(), resource.Location())
	if !ok {
		return schema.Errorf(schema.CodeNoHandlerRegistered, "no handler for action %s on %s", action.Identifier(), resource.Location())
	}
	return h.Invoke(ctx, params)
}
