package manager

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is the manager's keyed blackboard. Every entry lives for the
// configured TTL; a Set of an existing key overwrites it and restarts its
// clock. Expiry is lazy.
type Store struct {
	entries *lru.LRU[string, string]
}

func NewStore(ttl time.Duration) *Store {
	// size 0 = unbounded; entries leave the store by TTL only
	return &Store{entries: lru.NewLRU[string, string](0, nil, ttl)}
}

func (s *Store) Get(key string) (string, bool) {
	return s.entries.Get(key)
}

func (s *Store) Set(key, value string) {
	s.entries.Remove(key)
	s.entries.Add(key, value)
}

func (s *Store) Len() int {
	return s.entries.Len()
}
