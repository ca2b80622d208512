package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps one license key under a fixed key of a Badger database.
// Several stores may share one database, similar to nodes of a preferences
// tree.
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// OpenBadgerDB opens (or creates) a Badger database at path. An empty path
// opens an in-memory database.
func OpenBadgerDB(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path))
		opts = opts.WithValueLogFileSize(1 << 20)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// NewBadgerStore returns a store for key in db. The caller owns db.
func NewBadgerStore(db *badger.DB, key string) *BadgerStore {
	return &BadgerStore{db: db, key: []byte("license:" + key)}
}

// Open reads the stored value
func (s *BadgerStore) Open() (io.ReadCloser, error) {
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Create returns a writer that stores its content on Close
func (s *BadgerStore) Create() (io.WriteCloser, error) {
	return &bufferedWriter{commit: func(b []byte) error {
		value := append([]byte(nil), b...)
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(s.key, value)
		})
	}}, nil
}

// Exists reports whether the key is present
func (s *BadgerStore) Exists() (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the key
func (s *BadgerStore) Delete() error {
	exists, err := s.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}
