package overview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// CycleSettings are the global settings of a harvest cycle.
type CycleSettings struct {
	Mode Mode
	// RefreshFrom is only used in refresh mode.
	RefreshFrom time.Time
}

// Overview is the ordered collection of endpoint states plus the cycle
// settings. Adding and looking up endpoints is safe for concurrent use; a
// state itself must only be changed by the worker owning its endpoint.
type Overview struct {
	Settings CycleSettings

	mu     sync.RWMutex
	order  []string
	states map[string]*EndpointState
}

// New returns an empty overview in normal mode.
func New() *Overview {
	return &Overview{
		Settings: CycleSettings{Mode: ModeNormal},
		states:   make(map[string]*EndpointState),
	}
}

// Get returns the state for uri.
func (o *Overview) Get(uri string) (*EndpointState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.states[uri]
	return s, ok
}

// Put inserts or replaces a state, keeping the position of a replaced one.
func (o *Overview) Put(state *EndpointState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.states[state.URI]; !ok {
		o.order = append(o.order, state.URI)
	}
	o.states[state.URI] = state
	return nil
}

// AddOrGet returns the state for uri, creating it with defaults when the
// endpoint is unknown. A group is filled in if the known state has none.
func (o *Overview) AddOrGet(uri, group string) (*EndpointState, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: endpoint without uri", ErrConfig)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[uri]; ok {
		if s.Group == "" {
			s.Group = group
		}
		return s, nil
	}
	s := NewEndpointState(uri, group)
	o.order = append(o.order, uri)
	o.states[uri] = s
	return s, nil
}

// States returns the live states in insertion order.
func (o *Overview) States() []*EndpointState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	states := make([]*EndpointState, 0, len(o.order))
	for _, uri := range o.order {
		states = append(states, o.states[uri])
	}
	return states
}

// Endpoints returns copies of all states in insertion order.
func (o *Overview) Endpoints() []EndpointState {
	live := o.States()
	copies := make([]EndpointState, len(live))
	for i, s := range live {
		copies[i] = *s
	}
	return copies
}

// Len returns the number of endpoints.
func (o *Overview) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.order)
}

// Store loads and saves overviews.
type Store interface {
	Load(ctx context.Context) (*Overview, error)
	Save(ctx context.Context, o *Overview) error
}

// Rotator is implemented by stores that keep backups of earlier versions.
type Rotator interface {
	Rotate() error
}

// MemoryStore keeps the serialized overview in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// Load decodes the last saved overview, or returns a fresh one.
func (m *MemoryStore) Load(ctx context.Context) (*Overview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return New(), nil
	}
	return Unmarshal(m.data)
}

// Save encodes o.
func (m *MemoryStore) Save(ctx context.Context, o *Overview) error {
	b, err := Marshal(o)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = b
	return nil
}

// Bytes returns the last saved document.
func (m *MemoryStore) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
