// Package model implements A2: the in-memory devices/flows/protocols model
// with concurrent readers and writers and minimal contention (§4.5).
//
// The sharded-map design generalizes the teacher's per-address lock domain
// in controller/prewarm.go (a sync.Map of *prewarmPool, each pool owning
// its own mutex) to per-entity-key lock domains here, matching §4.5's "a
// sharded concurrent map such that each key maps to a single lock domain;
// counters within a record use atomic arithmetic. No global lock is held
// across the full per-frame update."
package model

import "sync"

const numShards = 64

// shardedMap is a fixed-shard-count map: hash(key) picks a shard, each
// shard holding its own RWMutex so unrelated keys never contend.
type shardedMap[K comparable, V any] struct {
	shards [numShards]shard[K, V]
}

type shard[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func newShardedMap[K comparable, V any](hash func(K) uint64) *shardedMap[K, V] {
	m := &shardedMap[K, V]{}
	for i := range m.shards {
		m.shards[i].data = make(map[K]V)
	}
	return m
}

func (m *shardedMap[K, V]) shardFor(h uint64) *shard[K, V] {
	return &m.shards[h%numShards]
}

// Get returns the value for key and whether it was present.
func (m *shardedMap[K, V]) Get(h uint64, key K) (V, bool) {
	s := m.shardFor(h)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetOrCreate returns the existing value for key, or calls create and
// stores its result if absent. create is called at most once per miss,
// under the shard's write lock, so concurrent first-sighters of the same
// key never both win.
func (m *shardedMap[K, V]) GetOrCreate(h uint64, key K, create func() V) (V, bool) {
	s := m.shardFor(h)

	s.mu.RLock()
	if v, ok := s.data[key]; ok {
		s.mu.RUnlock()
		return v, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, false
	}
	v := create()
	s.data[key] = v
	return v, true
}

// Delete removes key if present.
func (m *shardedMap[K, V]) Delete(h uint64, key K) {
	s := m.shardFor(h)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Len returns the total number of entries across all shards.
func (m *shardedMap[K, V]) Len() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].data)
		m.shards[i].mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry. fn must not block for long: it is called
// while holding each shard's read lock in turn, one shard at a time (never
// a global lock), so other shards remain available to writers throughout.
func (m *shardedMap[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		cont := true
		for k, v := range m.shards[i].data {
			if !fn(k, v) {
				cont = false
				break
			}
		}
		m.shards[i].mu.RUnlock()
		if !cont {
			return
		}
	}
}

// DeleteMatching removes every entry for which fn returns true, returning
// the removed entries. Used by flow_cap LRU eviction.
func (m *shardedMap[K, V]) DeleteMatching(fn func(key K, value V) bool) []V {
	var removed []V
	for i := range m.shards {
		m.shards[i].mu.Lock()
		for k, v := range m.shards[i].data {
			if fn(k, v) {
				removed = append(removed, v)
				delete(m.shards[i].data, k)
			}
		}
		m.shards[i].mu.Unlock()
	}
	return removed
}
