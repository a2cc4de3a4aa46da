// Package store implements the durable entry store: a path -> metadata
// mapping backed by an embedded ordered key-value database (bbolt), the
// persistence layer beneath internal/index.
package store

import (
	"errors"
	"fmt"

	"github.com/lesd/les/internal/entry"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("entries")

// ErrNotFound is returned by Get when no entry exists for the given path.
var ErrNotFound = errors.New("store: entry not found")

// Store is the durable path -> Entry mapping. A Store may be read
// concurrently by multiple goroutines (bbolt read transactions are an MVCC
// snapshot); mutation (Put/Delete) is expected to be serialized by a single
// caller — see internal/index.Writer, which enforces that discipline on
// behalf of the Scanner and Watcher.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Put durably writes e, keyed by e.Path. Durability is only guaranteed
// after Flush (bbolt fsyncs on every Update by default, so in practice Put
// alone is already durable; Flush exists for callers that batch writes
// with NoSync and want an explicit checkpoint).
func (s *Store) Put(e entry.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(e.Path), encodeValue(e))
	})
}

// Delete removes the entry for path, if any. Deleting an absent path is
// not an error.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(path))
	})
}

// Get returns the entry stored for path, or ErrNotFound.
func (s *Store) Get(path string) (entry.Entry, error) {
	var e entry.Entry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(path))
		if v == nil {
			return nil
		}
		found = true
		decoded, err := decodeValue(path, v)
		if err != nil {
			return err
		}
		e = decoded
		return nil
	})
	if err != nil {
		return entry.Entry{}, err
	}
	if !found {
		return entry.Entry{}, ErrNotFound
	}
	return e, nil
}

// ScanAll invokes fn once per stored entry, in key (path) order, the order
// bbolt's B+tree naturally iterates in. Iteration stops at the first error
// returned by fn.
func (s *Store) ScanAll(fn func(entry.Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			e, err := decodeValue(string(k), v)
			if err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every entry from the store. Used by --rebuild.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

// Flush forces the database file to disk.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
