package gooffline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"time"
)

var (
	// ErrNotCacheable is returned by StoreManager.Put for responses outside
	// the 2xx range. Error responses are never persisted so a transient
	// upstream failure cannot turn into a lasting false cache hit.
	ErrNotCacheable = errors.New("response status not cacheable")
)

// CacheEntry is a stored snapshot of an origin response. Response holds the
// full wire-format dump (status line, headers, body) so a retrieved entry
// replays byte-identical to what was stored.
type CacheEntry struct {
	Status   int
	Response []byte
	StoredAt time.Time
}

// HTTPResponse rebuilds the snapshot into a servable *http.Response.
func (e *CacheEntry) HTTPResponse() (*http.Response, error) {
	nr := bufio.NewReader(bytes.NewReader(e.Response))
	return http.ReadResponse(nr, nil)
}

// SnapshotResponse dumps resp into a CacheEntry. The body is read in full
// and replaced on resp, so the caller can still serve it.
func SnapshotResponse(resp *http.Response, storedAt time.Time) (*CacheEntry, error) {
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return &CacheEntry{
		Status:   resp.StatusCode,
		Response: b,
		StoredAt: storedAt,
	}, nil
}

// RegionStore is a cache backend that partitions entries into named regions.
// Regions back cache versioning: a version bump opens a fresh region and the
// stale ones are deleted wholesale during activation. Implementations must
// provide atomic per-key Put semantics; concurrent writers for the same key
// resolve last-write-wins.
type RegionStore interface {
	Get(ctx context.Context, region, key string) (*CacheEntry, error)
	Put(ctx context.Context, region, key string, entry *CacheEntry) error
	Regions(ctx context.Context) ([]string, error)
	DeleteRegion(ctx context.Context, region string) error
}
