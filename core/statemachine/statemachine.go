// Package statemachine implements the per-resource lifecycle state machine.
// Transitions are keyed by action identifier.
package statemachine

import (
	"sort"
	"sync"

	"github.com/artpar/occigate/core/schema"
)

// State is a named state with its outgoing transitions.
type State struct {
	Name        string
	transitions map[string]string
}

// NewState creates a state without transitions.
func NewState(name string) *State {
	return &State{Name: name, transitions: make(map[string]string)}
}

// AddTransition makes action move from s to target. It returns s for chaining.
func (s *State) AddTransition(action, target string) *State {
	s.transitions[action] = target
	return s
}

// Target returns the state action leads to from s.
func (s *State) Target(action string) (string, bool) {
	t, ok := s.transitions[action]
	return t, ok
}

// Observer is told about every completed transition.
type Observer func(from, to, action string)

// Machine is a mutex-protected state machine.
type Machine struct {
	mu       sync.Mutex
	states   map[string]*State
	names    []string
	current  *State
	observer Observer
}

// New creates a machine in the initial state. Every transition target must
// be one of states.
func New(initial string, states []*State, observer Observer) (*Machine, error) {
	m := &Machine{
		states:   make(map[string]*State, len(states)),
		observer: observer,
	}
	for _, s := range states {
		m.states[s.Name] = s
		m.names = append(m.names, s.Name)
	}
	for _, s := range states {
		for action, target := range s.transitions {
			if _, ok := m.states[target]; !ok {
				return nil, schema.Errorf(schema.CodeInvalidTransition, "state %s: action %s leads to unknown state %s", s.Name, action, target)
			}
		}
	}
	cur, ok := m.states[initial]
	if !ok {
		return nil, schema.Errorf(schema.CodeInvalidTransition, "unknown initial state %s", initial)
	}
	m.current = cur
	return m, nil
}

// Current returns the name of the current state.
func (m *Machine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current.Name
}

// States returns the state names in declaration order.
func (m *Machine) States() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Can reports whether action is allowed in the current state.
func (m *Machine) Can(action string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.current.Target(action)
	return ok
}

// Trigger performs the transition for action. It fails with
// InvalidTransition, leaving the state unchanged, if the current state has
// no such transition. The observer runs after the state has changed.
func (m *Machine) Trigger(action string) error {
	m.mu.Lock()
	from := m.current.Name
	target, ok := m.current.Target(action)
	if !ok {
		m.mu.Unlock()
		return schema.Errorf(schema.CodeInvalidTransition, "action %s is not allowed in state %s", action, from)
	}
	m.current = m.states[target]
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, target, action)
	}
	return nil
}

// Restore moves to a named state without an action, e.g. when a backend
// reports the real state of a resource. The observer is not called.
func (m *Machine) Restore(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[name]
	if !ok {
		return schema.Errorf(schema.CodeInvalidTransition, "unknown state %s", name)
	}
	m.current = s
	return nil
}

// Table is a declarative transition table: state -> action -> target.
type Table map[string]map[string]string

// Build creates a machine from a transition table. order fixes the state
// order reported by States; other states follow in lexical order.
func (t Table) Build(initial string, order []string, observer Observer) (*Machine, error) {
	names := append([]string(nil), order...)
	var rest []string
	for name := range t {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	names = append(names, rest...)

	seen := make(map[string]*State)
	var states []*State
	get := func(name string) *State {
		if s, ok := seen[name]; ok {
			return s
		}
		s := NewState(name)
		seen[name] = s
		states = append(states, s)
		return s
	}
	for _, name := range order {
		get(name)
	}
	done := make(map[string]bool)
	for _, name := range names {
		if done[name] {
			continue
		}
		done[name] = true
		for action, target := range t[name] {
			get(name).AddTransition(action, target)
			get(target)
		}
	}
	return New(initial, states, observer)
}
