package dynamodb

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	Table string
}

// Cache implements the gooffline.RegionStore interface using Amazon DynamoDB
// as the storage backend. Regions map to the partition key and cache keys to
// the sort key, so a region can be enumerated and deleted with a single
// partition query.
type Cache struct {
	client *dynamodb.Client

	table string
}

type cacheItem struct {
	Region   string `json:"cache_region" dynamodbav:"cache_region"`
	CacheKey string `json:"cache_key" dynamodbav:"cache_key"`
	Entry    []byte `json:"entry" dynamodbav:"entry"`
	StoredAt int64  `json:"stored_at" dynamodbav:"stored_at"`
}

// Get retrieves a cache entry from DynamoDB. Returns caches.ErrNoCacheItem
// if no item exists for the region and key.
func (c *Cache) Get(ctx context.Context, region, key string) (*gooffline.CacheEntry, error) {
	av, err := itemKey(region, key)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            av,
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	var entry gooffline.CacheEntry
	if err := gobDecode(item.Entry, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Put stores a cache entry in DynamoDB. PutItem replaces any existing item
// for the same key, which gives the last-write-wins semantics the transport
// relies on.
func (c *Cache) Put(ctx context.Context, region, key string, entry *gooffline.CacheEntry) error {
	encEntry, err := gobEncode(entry)
	if err != nil {
		return err
	}

	i := cacheItem{
		Region:   region,
		CacheKey: key,
		Entry:    encEntry,
		StoredAt: entry.StoredAt.UTC().Unix(),
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Regions enumerates the distinct region names present in the table.
func (c *Cache) Regions(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}

	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String("cache_region"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var i cacheItem
			if err := attributevalue.UnmarshalMap(item, &i); err != nil {
				return nil, err
			}
			seen[i.Region] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// DeleteRegion removes every entry in the region.
func (c *Cache) DeleteRegion(ctx context.Context, region string) error {
	regionAV, err := attributevalue.Marshal(region)
	if err != nil {
		return err
	}

	p := dynamodb.NewQueryPaginator(c.client, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("cache_region = :region"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":region": regionAV,
		},
		ProjectionExpression: aws.String("cache_region, cache_key"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			var i cacheItem
			if err := attributevalue.UnmarshalMap(item, &i); err != nil {
				return err
			}
			av, err := itemKey(i.Region, i.CacheKey)
			if err != nil {
				return err
			}
			if _, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(c.table),
				Key:       av,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func itemKey(region, key string) (map[string]types.AttributeValue, error) {
	regionAV, err := attributevalue.Marshal(region)
	if err != nil {
		return nil, err
	}
	keyAV, err := attributevalue.Marshal(key)
	if err != nil {
		return nil, err
	}

	return map[string]types.AttributeValue{
		"cache_region": regionAV,
		"cache_key":    keyAV,
	}, nil
}

// New creates a new DynamoDB cache instance with the provided configuration.
// Returns an error if the client is nil or the table name is empty.
func New(_ context.Context, client *dynamodb.Client, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{Reason: "nil client"}
	}
	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{Reason: "empty table name"}
	}

	return &Cache{
		client: client,

		table: config.Table,
	}, nil
}
