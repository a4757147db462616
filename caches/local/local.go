package local

import (
	"context"
	"sort"
	"sync"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

// BasicCache is an in-memory region store backed by a map of maps. Suitable
// for tests and single-process use; entries do not survive a restart.
type BasicCache struct {
	regions map[string]map[string]*gooffline.CacheEntry

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, region, key string) (*gooffline.CacheEntry, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	entries, found := bc.regions[region]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	val, found := entries[key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	return val, nil
}

func (bc *BasicCache) Put(_ context.Context, region, key string, entry *gooffline.CacheEntry) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	entries, found := bc.regions[region]
	if !found {
		entries = make(map[string]*gooffline.CacheEntry)
		bc.regions[region] = entries
	}

	entries[key] = entry

	return nil
}

func (bc *BasicCache) Regions(_ context.Context) ([]string, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	names := make([]string, 0, len(bc.regions))
	for name := range bc.regions {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (bc *BasicCache) DeleteRegion(_ context.Context, region string) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	delete(bc.regions, region)

	return nil
}

func NewBasicCache() *BasicCache {
	return &BasicCache{
		regions: make(map[string]map[string]*gooffline.CacheEntry),
	}
}
