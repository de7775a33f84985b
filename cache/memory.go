package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"keel/domain"
)

const defaultCleanupInterval = 30 * time.Minute

// MemoryStore is the in-process cache store. Values are held as-is (no
// serialization), so hits return the exact value the handler produced.
type MemoryStore struct {
	cache *gocache.Cache

	mu     sync.Mutex
	byTag  map[domain.EntityType]map[string]struct{}
	tagsOf map[string][]domain.EntityType
}

// NewMemoryStore creates a memory store with the default expiration sweep.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		cache:  gocache.New(DefaultTTL, defaultCleanupInterval),
		byTag:  make(map[domain.EntityType]map[string]struct{}),
		tagsOf: make(map[string][]domain.EntityType),
	}
	// Entries the sweep expires must leave the tag index too, or tags whose
	// entity types are never committed accumulate dead keys without bound.
	s.cache.OnEvicted(func(key string, _ any) { s.forget(key) })
	return s
}

// forget drops a key from the tag index. Safe to call for keys already gone.
func (s *MemoryStore) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range s.tagsOf[key] {
		delete(s.byTag[tag], key)
		if len(s.byTag[tag]) == 0 {
			delete(s.byTag, tag)
		}
	}
	delete(s.tagsOf, key)
}

func (s *MemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	value, found := s.cache.Get(key)
	return value, found, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value any, tags []domain.EntityType, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.cache.Set(key, value, ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-setting a key under different tags replaces its old tag membership.
	for _, old := range s.tagsOf[key] {
		delete(s.byTag[old], key)
	}
	s.tagsOf[key] = tags
	for _, tag := range tags {
		if s.byTag[tag] == nil {
			s.byTag[tag] = make(map[string]struct{})
		}
		s.byTag[tag][key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, tags []domain.EntityType) error {
	s.mu.Lock()
	var keys []string
	for _, tag := range tags {
		for key := range s.byTag[tag] {
			keys = append(keys, key)
			for _, other := range s.tagsOf[key] {
				if other != tag {
					delete(s.byTag[other], key)
				}
			}
			delete(s.tagsOf, key)
		}
		delete(s.byTag, tag)
	}
	s.mu.Unlock()

	// Delete fires the eviction callback, which takes s.mu itself.
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

// Len reports how many entries are cached, expired ones included until the
// next sweep.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
