// Package state holds the shared id pools of a run.
//
// A pool is an append-only list of opaque identifiers (user ids, post ids)
// that VUs publish after a successful create and draw from when they need
// an existing entity. Pools are scoped to a single run and never shrink.
package state

import (
	"math/rand"
	"sort"
	"sync"
)

// Pool is a concurrency-safe, append-only sequence of ids.
type Pool struct {
	name string
	mu   sync.RWMutex
	ids  []string
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Append adds id to the end of the pool.
func (p *Pool) Append(id string) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

// Random returns a uniformly chosen id, or ("", false) when the pool is empty.
// A nil rng falls back to the global source.
func (p *Pool) Random(rng *rand.Rand) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.ids)
	if n == 0 {
		return "", false
	}
	if rng == nil {
		return p.ids[rand.Intn(n)], true
	}
	return p.ids[rng.Intn(n)], true
}

// Len returns the number of ids appended so far.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// Snapshot returns a copy of the current ids.
func (p *Pool) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// Store maps pool names to pools. Pools are created on first use.
type Store struct {
	pools sync.Map // map[string]*Pool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Pool returns the named pool, creating it if needed.
func (s *Store) Pool(name string) *Pool {
	if p, ok := s.pools.Load(name); ok {
		return p.(*Pool)
	}
	p, _ := s.pools.LoadOrStore(name, &Pool{name: name})
	return p.(*Pool)
}

// Lookup returns an existing pool without creating it.
func (s *Store) Lookup(name string) (*Pool, bool) {
	p, ok := s.pools.Load(name)
	if !ok {
		return nil, false
	}
	return p.(*Pool), true
}

// Names returns the pool names in sorted order.
func (s *Store) Names() []string {
	var names []string
	s.pools.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Sizes returns the current length of every pool.
func (s *Store) Sizes() map[string]int {
	out := make(map[string]int)
	s.pools.Range(func(key, value any) bool {
		out[key.(string)] = value.(*Pool).Len()
		return true
	})
	return out
}
