package savestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for bbolt.
var (
	// bucketBodies stores compressed save bodies keyed by name.
	bucketBodies = []byte("bodies")

	// bucketMeta stores CBOR metadata keyed by name.
	bucketMeta = []byte("meta")
)

// BoltStore implements Store using bbolt.
type BoltStore struct {
	db *bolt.DB

	mu     sync.RWMutex
	closed bool
}

// OpenBolt creates or opens a bbolt save store at cfg.Path.
func OpenBolt(cfg Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  cfg.NoSync,
	}
	db, err := bolt.Open(cfg.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBodies, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put implements Store.
func (s *BoltStore) Put(name string, body []byte, meta Meta) error {
	if err := s.check(); err != nil {
		return err
	}
	compressed, metaData, err := seal(name, body, meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(name)
		if err := tx.Bucket(bucketBodies).Put(key, compressed); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(key, metaData)
	})
}

// Get implements Store.
func (s *BoltStore) Get(name string) ([]byte, *Meta, error) {
	if err := s.check(); err != nil {
		return nil, nil, err
	}
	var compressed []byte
	var meta *Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		key := []byte(name)
		metaData := tx.Bucket(bucketMeta).Get(key)
		if metaData == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		var err error
		if meta, err = decodeMeta(metaData); err != nil {
			return err
		}
		// bbolt values are only valid inside the transaction
		compressed = append([]byte(nil), tx.Bucket(bucketBodies).Get(key)...)
		return nil
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
func (s *BoltStore) Meta(name string) (*Meta, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var meta *Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		metaData := tx.Bucket(bucketMeta).Get([]byte(name))
		if metaData == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		var err error
		meta, err = decodeMeta(metaData)
		return err
	})
	return meta, err
}

// List implements Store.
func (s *BoltStore) List() ([]Meta, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var metas []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			m, err := decodeMeta(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			metas = append(metas, *m)
			return nil
		})
	})
	return metas, err
}

// Delete implements Store.
func (s *BoltStore) Delete(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(name)
		if tx.Bucket(bucketMeta).Get(key) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := tx.Bucket(bucketBodies).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete(key)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
