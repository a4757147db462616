package gooffline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgduncan/go-offline-cache/caches"
)

// StoreManager owns the current cache region. It is the only shared mutable
// resource in the layer; all access goes through Get, Put and the lifecycle
// operations, and safety under concurrent use falls to the backing store's
// atomic per-key put.
type StoreManager struct {
	store  RegionStore
	region string
	origin string

	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreManager opens the region for version on top of store. The client
// is used for precache fetches; nil falls back to http.DefaultClient. Nil
// now and logger fall back to time.Now and a no-op logger.
func NewStoreManager(store RegionStore, version, origin string, client *http.Client, logger *slog.Logger, now func() time.Time) (*StoreManager, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}
	if version == "" {
		return nil, caches.ValidationError{Reason: "empty version"}
	}
	if origin == "" {
		return nil, caches.ValidationError{Reason: "empty origin"}
	}

	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}

	return &StoreManager{
		store:  store,
		region: caches.RegionName(version),
		origin: strings.TrimRight(origin, "/"),

		client: client,
		logger: logger,
		now:    now,
	}, nil
}

// Region returns the name of the current cache region.
func (m *StoreManager) Region() string {
	return m.region
}

// Initialize precaches every path in precache, resolved against the origin,
// bypassing intermediate caches. It is all-or-nothing: every snapshot is
// staged in memory and nothing is written until the whole list has fetched
// successfully, so the app shell is never partially cached. Any fetch error
// or non-2xx status fails initialization as a whole and the region is left
// absent or unchanged.
func (m *StoreManager) Initialize(ctx context.Context, precache []string) error {
	type staged struct {
		key   string
		entry *CacheEntry
	}

	entries := make([]staged, 0, len(precache))
	for _, p := range precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.origin+p, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		req.Header.Set(headerCacheControl, "no-cache")

		resp, err := m.client.Do(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}

		entry, err := SnapshotResponse(resp, m.now().UTC())
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		if entry.Status < http.StatusOK || entry.Status > 299 {
			return fmt.Errorf("precache %s: status %d: %w", p, entry.Status, ErrNotCacheable)
		}

		entries = append(entries, staged{key: caches.Key(*req), entry: entry})
	}

	for _, s := range entries {
		if err := m.store.Put(ctx, m.region, s.key, s.entry); err != nil {
			return fmt.Errorf("precache write %s: %w", s.key, err)
		}
	}

	m.logger.InfoContext(ctx, "precache complete", "region", m.region, "entries", len(entries))
	return nil
}

// PurgeStale deletes every region superseded by the current version. Runs at
// activation, after Initialize has succeeded; calling it again is a no-op.
func (m *StoreManager) PurgeStale(ctx context.Context) error {
	regions, err := m.store.Regions(ctx)
	if err != nil {
		return err
	}

	for _, r := range regions {
		if r == m.region || !strings.HasPrefix(r, caches.RegionPrefix) {
			continue
		}
		if err := m.store.DeleteRegion(ctx, r); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "deleted stale cache region", "region", r)
	}

	return nil
}

// Get looks a key up in the current region. Never touches the network;
// returns caches.ErrNoCacheItem on a miss.
func (m *StoreManager) Get(ctx context.Context, key string) (*CacheEntry, error) {
	return m.store.Get(ctx, m.region, key)
}

// Put upserts a snapshot into the current region. Only successful responses
// are stored; anything else returns ErrNotCacheable.
func (m *StoreManager) Put(ctx context.Context, key string, entry *CacheEntry) error {
	if entry.Status < http.StatusOK || entry.Status > 299 {
		return ErrNotCacheable
	}
	return m.store.Put(ctx, m.region, key, entry)
}

// ShellKey is the cache key of the precached application-shell document.
func (m *StoreManager) ShellKey(shellPath string) string {
	return http.MethodGet + "#" + m.origin + shellPath
}
