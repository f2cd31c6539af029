package entity

import (
	"sync"

	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/core/statemachine"
)

// Resource is an entity with outgoing links and an optional lifecycle.
type Resource struct {
	Base

	linkMu sync.RWMutex
	links  []*Link

	machine   *statemachine.Machine
	stateAttr string
	triggerMu sync.Mutex
}

// NewResource builds and validates a resource. Defaults are applied and
// occi.core.id is set from opts.ID when the schema defines it.
func NewResource(opts Options) (*Resource, error) {
	r := &Resource{}
	if err := r.init(r, opts, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// SetMachine installs the lifecycle state machine. stateAttr names the
// attribute mirroring the current state, e.g. "occi.compute.state".
func (r *Resource) SetMachine(m *statemachine.Machine, stateAttr string) {
	r.machine = m
	r.stateAttr = stateAttr
}

// RestoreState adopts a state reported by the backend. The machine moves
// without an action and the state attribute is updated.
func (r *Resource) RestoreState(name string) error {
	if r.machine == nil {
		return nil
	}
	if err := r.machine.Restore(name); err != nil {
		return err
	}
	if r.stateAttr == "" {
		return nil
	}
	return r.SetSystem(schema.Values{r.stateAttr: schema.String(name)})
}

// StateAttribute names the attribute mirroring the lifecycle state, "" if
// the resource has no state machine.
func (r *Resource) StateAttribute() string {
	return r.stateAttr
}

// Machine returns the lifecycle state machine, nil if the resource has none.
func (r *Resource) Machine() *statemachine.Machine {
	return r.machine
}

// State returns the current lifecycle state, or "" without a machine.
func (r *Resource) State() string {
	if r.machine == nil {
		return ""
	}
	return r.machine.Current()
}

// Serialize runs fn while holding the resource's trigger lock, so at most
// one action is in flight per resource.
func (r *Resource) Serialize(fn func() error) error {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()

	return fn()
}

// AddLink appends an outgoing link. Adding the same link twice is a no-op.
func (r *Resource) AddLink(l *Link) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	for _, x := range r.links {
		if x == l {
			return
		}
	}
	r.links = append(r.links, l)
}

// RemoveLink drops a link. It reports whether the link was present.
func (r *Resource) RemoveLink(l *Link) bool {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	for i, x := range r.links {
		if x == l {
			r.links = append(r.links[:i:i], r.links[i+1:]...)
			return true
		}
	}
	return false
}

// Links returns a copy of the link list in insertion order.
func (r *Resource) Links() []*Link {
	r.linkMu.RLock()
	defer r.linkMu.RUnlock()

	return append([]*Link(nil), r.links...)
}

// Actions returns the actions currently applicable to the resource. With a
// state machine, actions without a transition from the current state are
// left out.
func (r *Resource) Actions() []*schema.Action {
	all := schema.EffectiveActions(r.Kind(), r.Mixins())
	if r.machine == nil {
		return all
	}
	out := make([]*schema.Action, 0, len(all))
	for _, a := range all {
		if r.machine.Can(a.Identifier()) {
			out = append(out, a)
		}
	}
	return out
}
