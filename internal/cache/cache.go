// Package cache provides bounded result caches whose entries are only valid
// while the repository state they were computed against is unchanged.
//
// A Store is safe for concurrent use. Entries are scoped (by repository root)
// and stamped with a fingerprint; observing a new fingerprint for a scope
// drops every entry of that scope. Concurrent misses for the same key are
// collapsed into a single computation.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const sep = "\x00"

type entry[V any] struct {
	fingerprint string
	value       V
}

// Stats is a point-in-time snapshot of a store's counters.
type Stats struct {
	Name          string
	Len           int
	Hits          int64
	Misses        int64
	Invalidations int64
}

// Store is a fingerprinted LRU cache for values of type V.
// Cached values are shared between callers and must not be mutated.
type Store[V any] struct {
	name    string
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group

	mu           sync.Mutex
	fingerprints map[string]string

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a store holding at most capacity entries.
func New[V any](name string, capacity int) (*Store[V], error) {
	entries, err := lru.New[string, entry[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &Store[V]{
		name:         name,
		entries:      entries,
		fingerprints: make(map[string]string),
	}, nil
}

// Key builds a deterministic cache key from a scope, an operation and its arguments.
func Key(scope, op string, args ...string) string {
	return scope + sep + op + sep + strings.Join(args, sep)
}

// Get returns the value for key if it was computed against fingerprint.
// A fingerprint that differs from the last one seen for scope invalidates
// the whole scope.
func (s *Store[V]) Get(scope, key, fingerprint string) (V, bool) {
	s.observe(scope, fingerprint)

	e, ok := s.entries.Get(key)
	if !ok || e.fingerprint != fingerprint {
		s.misses.Add(1)
		var zero V
		return zero, false
	}
	s.hits.Add(1)
	return e.value, true
}

// Add stores value for key. Values computed against a fingerprint that is no
// longer current for scope are dropped.
func (s *Store[V]) Add(scope, key, fingerprint string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.fingerprints[scope]
	if ok && cur != fingerprint {
		return
	}
	if !ok {
		s.fingerprints[scope] = fingerprint
	}
	s.entries.Add(key, entry[V]{fingerprint: fingerprint, value: value})
}

// Do returns the cached value for key or computes it. Concurrent calls for
// the same key and fingerprint share one computation. If ctx ends first, Do
// returns ctx.Err() while the computation runs on and still fills the cache.
func (s *Store[V]) Do(ctx context.Context, scope, key, fingerprint string, compute func() (V, error)) (V, error) {
	if v, ok := s.Get(scope, key, fingerprint); ok {
		return v, nil
	}

	ch := s.group.DoChan(key+sep+fingerprint, func() (any, error) {
		// A flight that finished between our miss and this one already stored it.
		if e, ok := s.entries.Peek(key); ok && e.fingerprint == fingerprint {
			return e.value, nil
		}
		v, err := compute()
		if err != nil {
			return v, err
		}
		s.Add(scope, key, fingerprint, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(V), nil
	}
}

// Len returns the number of cached entries.
func (s *Store[V]) Len() int {
	return s.entries.Len()
}

// Stats returns the store's counters.
func (s *Store[V]) Stats() Stats {
	return Stats{
		Name:          s.name,
		Len:           s.entries.Len(),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Invalidations: s.invalidations.Load(),
	}
}

func (s *Store[V]) observe(scope, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.fingerprints[scope]
	if ok && cur == fingerprint {
		return
	}
	s.fingerprints[scope] = fingerprint
	if !ok {
		return
	}

	prefix := scope + sep
	for _, k := range s.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.entries.Remove(k)
		}
	}
	s.invalidations.Add(1)
}
