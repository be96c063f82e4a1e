// Package registry maintains the concurrent mapping from topics to live
// subscriber connections. It holds only the lookup relation; connection
// lifetimes belong to the connection manager.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/tidalhq/tidal/internal/event"
)

const shardCount = 32

// Registry is a sharded topic→connection-id multimap. Match is far more
// frequent than Subscribe/Unsubscribe, so shards take read locks on lookup
// and operations on unrelated topics never contend.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu sync.RWMutex
	// topic ref → connection id set
	topics map[string]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].topics = make(map[string]map[string]struct{})
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &r.shards[h.Sum32()%shardCount]
}

// Subscribe registers connID as a subscriber of ref. Idempotent.
func (r *Registry) Subscribe(connID string, ref event.Ref) {
	key := ref.String()
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.topics[key]
	if !ok {
		set = make(map[string]struct{})
		s.topics[key] = set
	}
	set[connID] = struct{}{}
}

// Unsubscribe removes connID's subscription to ref. Once it returns, Match
// for ref no longer includes connID.
func (r *Registry) Unsubscribe(connID string, ref event.Ref) {
	key := ref.String()
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.topics[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.topics, key)
	}
}

// Match returns the connection ids currently subscribed to ref. The result
// is a copy safe to iterate while the registry mutates.
func (r *Registry) Match(ref event.Ref) []string {
	key := ref.String()
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.topics[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Count returns the number of subscribers for ref.
func (r *Registry) Count(ref event.Ref) int {
	key := ref.String()
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics[key])
}
