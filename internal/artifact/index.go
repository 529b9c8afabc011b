// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const entryPrefix = "conv:"

// Entry is one recorded conversion.
type Entry struct {
	Source      string    `json:"source"`
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Artifact    string    `json:"artifact"`
	GroupName   string    `json:"group_name,omitempty"`
	Samples     int       `json:"samples"`
	Warnings    int       `json:"warnings"`
	CreatedAt   time.Time `json:"created_at"`
}

// Index records conversion metadata in a Badger database. It is advisory:
// the cache never consults it for hit decisions, so a lost or stale index
// only degrades the artifact listing.
type Index struct {
	db *badger.DB
}

// OpenIndex opens or creates the index at path.
func OpenIndex(path string) (*Index, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("artifact: open index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

// Record upserts one conversion entry keyed by its cache key.
func (ix *Index) Record(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errors.New("artifact: index entry without key")
	}
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := []byte(entryPrefix + e.Key)
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Lookup returns the entry for a cache key, or nil when absent.
func (ix *Index) Lookup(ctx context.Context, cacheKey string) (*Entry, error) {
	var out Entry
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryPrefix + cacheKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// List returns every recorded conversion in key order.
func (ix *Index) List(ctx context.Context) ([]Entry, error) {
	var list []Entry
	err := ix.Scan(ctx, func(e Entry) error {
		list = append(list, e)
		return nil
	})
	return list, err
}

// Scan streams entries to fn in key order.
func (ix *Index) Scan(ctx context.Context, fn func(Entry) error) error {
	prefix := []byte(entryPrefix)
	return ix.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes one entry; missing keys are not an error.
func (ix *Index) Delete(ctx context.Context, cacheKey string) error {
	return ix.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(entryPrefix + cacheKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
