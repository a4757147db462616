package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"errors"
	"time"

	_ "github.com/lib/pq"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_by_key.sql
	queryFetchByKey string
	//go:embed upsert_entry.sql
	queryUpsertEntry string
	//go:embed list_regions.sql
	queryListRegions string
	//go:embed delete_region.sql
	queryDeleteRegion string
)

// Cache implements the gooffline.RegionStore interface using PostgreSQL as
// the storage backend. The upsert is a single statement, so concurrent
// writers for the same key resolve last-write-wins without explicit locking.
type Cache struct {
	db *sql.DB

	now func() time.Time
}

// Get retrieves a cache entry from PostgreSQL.
// Returns caches.ErrNoCacheItem if the entry doesn't exist.
func (p *Cache) Get(ctx context.Context, region, key string) (*gooffline.CacheEntry, error) {
	stmt, err := p.db.PrepareContext(ctx, queryFetchByKey)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var raw []byte
	if err := stmt.QueryRowContext(ctx, region, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	var entry gooffline.CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Put upserts a cache entry, serialized with gob encoding.
func (p *Cache) Put(ctx context.Context, region, key string, entry *gooffline.CacheEntry) error {
	stmt, err := p.db.PrepareContext(ctx, queryUpsertEntry)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(entry); err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx, region, key, buff.Bytes(), entry.StoredAt.UTC(), p.now().UTC())
	return err
}

// Regions enumerates the distinct region names present in the table.
func (p *Cache) Regions(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, queryListRegions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// DeleteRegion removes every entry in the region.
func (p *Cache) DeleteRegion(ctx context.Context, region string) error {
	stmt, err := p.db.PrepareContext(ctx, queryDeleteRegion)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, region)
	return err
}

func createTable(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryCreateTable)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

// New creates a new PostgreSQL cache instance. It verifies the database
// connection and creates the table structure if it doesn't exist.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil db handle"}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	return &Cache{
		db: db,

		now: time.Now,
	}, nil
}
