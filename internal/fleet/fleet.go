// Package fleet keeps the thread-safe registry of patrol agents and their
// last published state.
package fleet

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/patrol-simulator/geom"
	"github.com/signalsfoundry/patrol-simulator/model"
)

var (
	// ErrAgentExists is returned when adding an id twice.
	ErrAgentExists = errors.New("agent already exists")
	// ErrAgentNotFound is returned for ids not in the registry.
	ErrAgentNotFound = errors.New("agent not found")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventAgentAdded EventType = iota
	EventAgentUpdated
	EventAgentRemoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type  EventType
	Agent model.AgentState
}

// Metrics receives registry size changes.
type Metrics interface {
	SetAgentCount(n int)
}

type entry struct {
	def   model.AgentDefinition
	state model.AgentState
}

// Registry is an in-memory, thread-safe store of agents.
type Registry struct {
	mu sync.RWMutex

	agents map[string]*entry

	subs    map[int]func(Event)
	nextSub int

	metrics Metrics
}

// NewRegistry constructs an empty registry. m may be nil.
func NewRegistry(m Metrics) *Registry {
	return &Registry{
		agents:  make(map[string]*entry),
		subs:    make(map[int]func(Event)),
		metrics: m,
	}
}

// Add registers an agent. It returns an error if the ID is empty or already
// exists.
func (r *Registry) Add(def model.AgentDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("agent ID must not be empty")
	}
	r.mu.Lock()
	if _, exists := r.agents[def.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAgentExists, def.ID)
	}
	st := model.AgentState{ID: def.ID, Mode: def.Mode, Node: def.Base}
	r.agents[def.ID] = &entry{def: def, state: st}
	n := len(r.agents)
	subs := r.snapshotSubsLocked()
	r.mu.Unlock()

	r.reportCount(n)
	notify(subs, Event{Type: EventAgentAdded, Agent: st})
	return nil
}

// Remove drops an agent.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAgentNotFound, id)
	}
	delete(r.agents, id)
	n := len(r.agents)
	subs := r.snapshotSubsLocked()
	r.mu.Unlock()

	r.reportCount(n)
	notify(subs, Event{Type: EventAgentRemoved, Agent: e.state})
	return nil
}

// Definition returns the definition of an agent.
func (r *Registry) Definition(id string) (model.AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return model.AgentDefinition{}, false
	}
	return e.def, true
}

// State returns the last published state of an agent.
func (r *Registry) State(id string) (model.AgentState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return model.AgentState{}, false
	}
	return e.state, true
}

// IDs returns the sorted agent ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns a snapshot of all agent states sorted by id.
func (r *Registry) List() []model.AgentState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]model.AgentState, 0, len(r.agents))
	for _, e := range r.agents {
		res = append(res, e.state)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Update stores a new state for a registered agent and notifies
// subscribers.
func (r *Registry) Update(st model.AgentState) error {
	r.mu.Lock()
	e, ok := r.agents[st.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAgentNotFound, st.ID)
	}
	e.state = st
	subs := r.snapshotSubsLocked()
	r.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, Event{Type: EventAgentUpdated, Agent: st})
	return nil
}

// CountInWindow counts the agents other than self whose last published
// position lies inside window.
func (r *Registry) CountInWindow(self string, window geom.Region) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id, e := range r.agents {
		if id == self {
			continue
		}
		p := e.state.Position
		if window.Contains(geom.Point{p.X, p.Y}) {
			n++
		}
	}
	return n
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, r.subs[id])
	}
	return subs
}

func (r *Registry) reportCount(n int) {
	if r.metrics != nil {
		r.metrics.SetAgentCount(n)
	}
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
