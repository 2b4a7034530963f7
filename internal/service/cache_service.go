package service

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CacheService is the in-process TTL cache in front of the persistent snapshots.
type CacheService struct {
	store   *gocache.Cache
	metrics *MetricsService
}

// NewCacheService constructs a memory cache with the given default TTL.
func NewCacheService(defaultTTL time.Duration, metrics *MetricsService) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	return &CacheService{
		store:   gocache.New(defaultTTL, 2*defaultTTL),
		metrics: metrics,
	}
}

// Get returns the cached value and whether it was found and unexpired.
func (s *CacheService) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, ok := s.store.Get(key)
	s.metrics.RecordCacheOperation(ok, time.Since(start))
	return value, ok
}

// Set stores value under key with the default TTL.
func (s *CacheService) Set(key string, value interface{}) {
	s.store.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes a single key.
func (s *CacheService) Delete(key string) {
	s.store.Delete(key)
}
