package session

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TTLStore evicts sessions that have not been written or read for ttl, and optionally
// caps the number of sessions held.
type TTLStore[T any] struct {
	cache *ttlcache.Cache[string, T]
}

func NewTTLStore[T any](ttl time.Duration, capacity uint64) *TTLStore[T] {
	opts := []ttlcache.Option[string, T]{
		ttlcache.WithTTL[string, T](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, T](capacity))
	}
	return &TTLStore[T]{cache: ttlcache.New(opts...)}
}

// Start runs the expiry loop until Stop is called. Expired entries are never returned by
// Get even when the loop is not running.
func (s *TTLStore[T]) Start() {
	s.cache.Start()
}

func (s *TTLStore[T]) Stop() {
	s.cache.Stop()
}

func (s *TTLStore[T]) Get(id string) (T, bool) {
	item := s.cache.Get(id)
	if item == nil {
		var zero T
		return zero, false
	}
	return item.Value(), true
}

func (s *TTLStore[T]) Set(id string, v T) {
	s.cache.Set(id, v, ttlcache.DefaultTTL)
}

func (s *TTLStore[T]) Delete(id string) {
	s.cache.Delete(id)
}

func (s *TTLStore[T]) Len() int {
	return s.cache.Len()
}
