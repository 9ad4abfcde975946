package savestore

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for badger storage.
var (
	// prefixBody is the prefix for compressed bodies.
	// Key format: prefixBody + name
	prefixBody = []byte{0x01}

	// prefixMeta is the prefix for CBOR metadata.
	// Key format: prefixMeta + name
	prefixMeta = []byte{0x02}
)

func bodyKey(name string) []byte { return append(append([]byte(nil), prefixBody...), name...) }
func metaKey(name string) []byte { return append(append([]byte(nil), prefixMeta...), name...) }

// BadgerStore implements Store using badger.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens a badger save store at cfg.Path, or in memory when
// cfg.InMemory is set.
func OpenBadger(cfg Config) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(!cfg.NoSync && !cfg.InMemory).
		WithNumCompactors(2).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put implements Store.
func (s *BadgerStore) Put(name string, body []byte, meta Meta) error {
	if s.closed.Load() {
		return ErrClosed
	}
	compressed, metaData, err := seal(name, body, meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(bodyKey(name), compressed); err != nil {
			return err
		}
		return txn.Set(metaKey(name), metaData)
	})
}

func getMeta(txn *badger.Txn, name string) (*Meta, error) {
	item, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var meta *Meta
	err = item.Value(func(val []byte) error {
		var err error
		meta, err = decodeMeta(val)
		return err
	})
	return meta, err
}

// Get implements Store.
func (s *BadgerStore) Get(name string) ([]byte, *Meta, error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	var compressed []byte
	var meta *Meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if meta, err = getMeta(txn, name); err != nil {
			return err
		}
		item, err := txn.Get(bodyKey(name))
		if err != nil {
			return fmt.Errorf("%w: %s: missing body", ErrCorrupt, name)
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	body, err := unseal(compressed, meta)
	if err != nil {
		return nil, nil, err
	}
	return body, meta, nil
}

// Meta implements Store.
func (s *BadgerStore) Meta(name string) (*Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var meta *Meta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = getMeta(txn, name)
		return err
	})
	return meta, err
}

// List implements Store.
func (s *BadgerStore) List() ([]Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixMeta
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixMeta); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				m, err := decodeMeta(val)
				if err != nil {
					return fmt.Errorf("%s: %w", bytes.TrimPrefix(item.Key(), prefixMeta), err)
				}
				metas = append(metas, *m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return metas, err
}

// Delete implements Store.
func (s *BadgerStore) Delete(name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getMeta(txn, name); err != nil {
			return err
		}
		if err := txn.Delete(bodyKey(name)); err != nil {
			return err
		}
		return txn.Delete(metaKey(name))
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
