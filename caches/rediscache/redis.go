// Package rediscache provides a RegionStore on top of Redis. Each region is
// a hash keyed by cache key, and region names are tracked in a set so they
// can be enumerated for purging.
package rediscache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

const (
	regionKeyPrefix = "gooffline:region:"
	regionSetKey    = "gooffline:regions"
)

type Cache struct {
	client *redis.Client
}

// New validates the client with a ping and wraps it in a Cache.
func New(ctx context.Context, client *redis.Client) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{Reason: "nil client"}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{client: client}, nil
}

func (c *Cache) Get(ctx context.Context, region, key string) (*gooffline.CacheEntry, error) {
	b, err := c.client.HGet(ctx, regionKeyPrefix+region, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

func (c *Cache) Put(ctx context.Context, region, key string, entry *gooffline.CacheEntry) error {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(entry); err != nil {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, regionKeyPrefix+region, key, buff.Bytes())
	pipe.SAdd(ctx, regionSetKey, region)
	_, err := pipe.Exec(ctx)

	return err
}

func (c *Cache) Regions(ctx context.Context) ([]string, error) {
	names, err := c.client.SMembers(ctx, regionSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	return names, nil
}

func (c *Cache) DeleteRegion(ctx context.Context, region string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, regionKeyPrefix+region)
	pipe.SRem(ctx, regionSetKey, region)
	_, err := pipe.Exec(ctx)

	return err
}
