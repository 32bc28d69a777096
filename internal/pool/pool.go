// Package pool holds the priority-ordered provider chain and the arena of
// circuit breakers, one per provider.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/provider"
)

// Entry pairs a provider with its owned breaker and declared per-call
// timeout. The breaker is the only mutable state; everything else is fixed
// at startup.
type Entry struct {
	Provider provider.Provider
	Breaker  *breaker.Breaker
	Timeout  time.Duration
}

// Pool is the ordered list of providers: local first, then cloud-primary,
// then cloud-fallback. Order is fixed at construction.
type Pool struct {
	entries []*Entry
	byName  map[string]*Entry
}

// New builds a pool from the given entries, sorting by provider kind rank
// while preserving configuration order within a rank.
func New(entries []*Entry) (*Pool, error) {
	if len(entries) == 0 {
		return nil, errors.New("pool requires at least one provider")
	}

	byName := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.Provider == nil || e.Breaker == nil {
			return nil, errors.New("pool entry requires a provider and a breaker")
		}
		name := e.Provider.Name()
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("provider %q registered twice", name)
		}
		byName[name] = e
	}

	ordered := make([]*Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Provider.Kind().Rank() < ordered[j].Provider.Kind().Rank()
	})

	return &Pool{entries: ordered, byName: byName}, nil
}

// Entries returns the providers in priority order. The returned slice must
// not be mutated.
func (p *Pool) Entries() []*Entry {
	return p.entries
}

// Lookup returns the entry for a provider name.
func (p *Pool) Lookup(name string) (*Entry, bool) {
	e, ok := p.byName[name]
	return e, ok
}

// States snapshots every breaker's state keyed by provider name.
func (p *Pool) States() map[string]breaker.State {
	states := make(map[string]breaker.State, len(p.entries))
	for _, e := range p.entries {
		states[e.Provider.Name()] = e.Breaker.State()
	}
	return states
}
