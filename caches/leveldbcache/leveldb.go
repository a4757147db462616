// Package leveldbcache provides a durable RegionStore on top of goleveldb,
// so cached responses survive process restarts.
package leveldbcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

// Key layout:
//
//	e:<region>#<cache key>  gob-encoded CacheEntry
//	r:<region>              region marker, empty value
const (
	entryPrefix  = "e:"
	regionPrefix = "r:"
)

type Cache struct {
	db *leveldb.DB
}

// Open opens (or creates) a leveldb database at path and wraps it in a
// Cache. The caller owns Close.
func Open(path string) (*Cache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// New wraps an already-open leveldb handle.
func New(db *leveldb.DB) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil leveldb handle"}
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(_ context.Context, region, key string) (*gooffline.CacheEntry, error) {
	b, err := c.db.Get(entryKey(region, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	var entry gooffline.CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

func (c *Cache) Put(_ context.Context, region, key string, entry *gooffline.CacheEntry) error {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(entry); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(entryKey(region, key), buff.Bytes())
	batch.Put([]byte(regionPrefix+region), nil)

	return c.db.Write(batch, nil)
}

func (c *Cache) Regions(_ context.Context) ([]string, error) {
	var names []string

	iter := c.db.NewIterator(util.BytesPrefix([]byte(regionPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		names = append(names, string(iter.Key()[len(regionPrefix):]))
	}

	return names, iter.Error()
}

func (c *Cache) DeleteRegion(_ context.Context, region string) error {
	batch := new(leveldb.Batch)

	iter := c.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+region+"#")), nil)
	for iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		batch.Delete(k)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	batch.Delete([]byte(regionPrefix + region))

	return c.db.Write(batch, nil)
}

func entryKey(region, key string) []byte {
	return []byte(entryPrefix + region + "#" + key)
}
