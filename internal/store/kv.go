// Package store wraps bbolt with the single-bucket key-value shape the
// engine's persistent tables share (cas_db, fs_sig_db, memo_db).
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("key not found")

// DB is a bbolt database holding a single named bucket.
type DB struct {
	db     *bbolt.DB
	bucket []byte
}

// Open opens (creating if necessary) the database at path with the given
// bucket.
func Open(path, bucket string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	db, err := bbolt.Open(path, 0666, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	b := []byte(bucket)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(b)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, bucket: b}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Get returns the value stored under key, or ErrNotFound.
func (d *DB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(d.bucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, err
}

// Put stores value under key, overwriting any previous value.
func (d *DB) Put(key, value []byte) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(d.bucket).Put(key, value)
	})
}

// Has reports whether key is present.
func (d *DB) Has(key []byte) (bool, error) {
	var ok bool
	err := d.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(d.bucket).Get(key) != nil
		return nil
	})
	return ok, err
}

// Delete removes key. Deleting an absent key is not an error.
func (d *DB) Delete(key []byte) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(d.bucket).Delete(key)
	})
}

// ForEach calls fn for every key-value pair in key order.
func (d *DB) ForEach(fn func(k, v []byte) error) error {
	return d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(d.bucket).ForEach(fn)
	})
}

// Count returns the number of stored keys.
func (d *DB) Count() (int, error) {
	n := 0
	err := d.ForEach(func(k, v []byte) error {
		n++
		return nil
	})
	return n, err
}
