package syncqueue

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/dgduncan/go-offline-cache/caches"
)

// Key layout:
//
//	t:<tag>#<enqueuedAt unix nanos>#<id>  gob-encoded Task
//	i:<id>                               task key, for removal by id
//
// Tag prefixes give per-tag iteration; the timestamp in the key preserves
// enqueue order under lexicographic iteration.
const (
	taskPrefix  = "t:"
	indexPrefix = "i:"
)

// LevelStore persists pending tasks in a leveldb database so queued
// mutations survive a restart.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) a leveldb database at path. The caller
// owns Close.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// NewLevelStore wraps an already-open leveldb handle.
func NewLevelStore(db *leveldb.DB) (*LevelStore, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil leveldb handle"}
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func (s *LevelStore) Append(_ context.Context, t Task) error {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(t); err != nil {
		return err
	}

	key := taskKey(t)

	batch := new(leveldb.Batch)
	batch.Put(key, buff.Bytes())
	batch.Put([]byte(indexPrefix+t.ID), key)

	return s.db.Write(batch, nil)
}

func (s *LevelStore) Pending(_ context.Context, tag string) ([]Task, error) {
	var out []Task

	iter := s.db.NewIterator(util.BytesPrefix([]byte(taskPrefix+tag+"#")), nil)
	defer iter.Release()

	for iter.Next() {
		var t Task
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, iter.Error()
}

func (s *LevelStore) Remove(_ context.Context, id string) error {
	key, err := s.db.Get([]byte(indexPrefix+id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil
		}
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(indexPrefix + id))

	return s.db.Write(batch, nil)
}

func taskKey(t Task) []byte {
	return []byte(fmt.Sprintf("%s%s#%020d#%s", taskPrefix, t.Tag, t.EnqueuedAt.UnixNano(), t.ID))
}
