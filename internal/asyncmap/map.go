package asyncmap

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardedMap is the lower-layer AsyncMap from spec.md §4.2: a table of W =
// 2*jobs+1 shards, each an independently-locked key->*node map. Lookups take
// a shard's read lock; only first insertion of a key takes the write lock.
type shardedMap[K comparable, V any] struct {
	shards []shard[K, V]
}

type shard[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]*node[K, V]
}

func newShardedMap[K comparable, V any](jobs int) *shardedMap[K, V] {
	width := computeWidth(jobs)
	m := &shardedMap[K, V]{
		shards: make([]shard[K, V], width),
	}
	for i := range m.shards {
		m.shards[i].data = make(map[K]*node[K, V])
	}
	return m
}

func computeWidth(jobs int) int {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return jobs*2 + 1
}

func (m *shardedMap[K, V]) shardFor(key K) *shard[K, V] {
	idx := m.hashKey(key) % uint64(len(m.shards))
	return &m.shards[idx]
}

// hashKey derives a shard index from an arbitrary comparable key. Keys in
// this module are always small structs of strings/ints (EntityName,
// ModuleName, (EntityName, Configuration) pairs, ...), so formatting them is
// cheap and collision-free enough for shard routing, which only needs a
// good-enough spread, not cryptographic strength.
func (m *shardedMap[K, V]) hashKey(key K) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%#v", key))
}

// GetOrCreateNode returns the node for key, creating it under the shard's
// write lock if this is the first request for that key. Node pointers are
// stable for the map's lifetime.
func (m *shardedMap[K, V]) GetOrCreateNode(key K) *node[K, V] {
	s := m.shardFor(key)

	s.mu.RLock()
	if n, ok := s.data[key]; ok {
		s.mu.RUnlock()
		return n
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.data[key]; ok {
		return n
	}
	n := newNode[K, V](key)
	s.data[key] = n
	return n
}

// PendingKeys returns every key whose node is not yet ready.
func (m *shardedMap[K, V]) PendingKeys() []K {
	var keys []K
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, n := range s.data {
			if !n.IsReady() {
				keys = append(keys, k)
			}
		}
		s.mu.RUnlock()
	}
	return keys
}

// Clear empties every shard. Matches AsyncMap::Clear's per-shard task
// scheduling, simplified to a direct per-shard lock since shard count is
// small and bounded.
func (m *shardedMap[K, V]) Clear() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.data = make(map[K]*node[K, V])
		s.mu.Unlock()
	}
}
