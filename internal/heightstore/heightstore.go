// Package heightstore implements the durable last-emitted-height cell
// (C1) on top of an embedded bolt database: a single bucket, a single
// key, crash-safe because every write goes through bolt's fsync'd
// copy-on-write commit.
package heightstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/boltdb/bolt"

	"github.com/empower1/orderingd/internal/txmodel"
)

var (
	// ErrStoreInit is returned when the backing bolt database cannot be
	// opened. Callers should treat this as fatal: proceeding without a
	// readable height risks violating the monotonic-height invariant.
	ErrStoreInit = errors.New("height store initialization error")
	// ErrStoreClosed is returned by Load/Save after Close.
	ErrStoreClosed = errors.New("height store is closed")
)

var (
	bucketName = []byte("ordering_service")
	heightKey  = []byte("last_proposal_height")
)

// Store is a crash-safe, single-scalar durable cell holding the last
// emitted proposal height.
type Store struct {
	db     *bolt.DB
	logger *log.Logger
}

// Open opens (creating if absent) the bolt database at path and ensures
// the height bucket exists. A failure here is the one fatal startup
// case in the ordering service's error model: the caller must abort
// initialization rather than proceed with an unknown height.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreInit, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create bucket: %v", ErrStoreInit, err)
	}

	logger := log.New(os.Stdout, "HEIGHT_STORE: ", log.Ldate|log.Ltime|log.Lshortfile)
	logger.Printf("Height store opened at %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Load returns the last durably recorded height, or 0 if none has ever
// been saved.
func (s *Store) Load() (txmodel.Height, error) {
	if s.db == nil {
		return 0, ErrStoreClosed
	}

	var height txmodel.Height
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		raw := b.Get(heightKey)
		if raw == nil {
			return nil
		}
		if len(raw) != 8 {
			return fmt.Errorf("corrupt height record: expected 8 bytes, got %d", len(raw))
		}
		height = txmodel.Height(binary.BigEndian.Uint64(raw))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreInit, err)
	}
	return height, nil
}

// Save atomically writes h. Bolt's single-writer transaction model
// guarantees that after a crash at any point, a subsequent Load returns
// either the previous value or h, never a torn value.
func (s *Store) Save(h txmodel.Height) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(h))

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(heightKey, raw)
	})
	if err != nil {
		s.logger.Printf("HEIGHT_STORE_WARN: failed to save height %d: %v", h, err)
		return err
	}
	return nil
}

// Close releases the underlying bolt database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
