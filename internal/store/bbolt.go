package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/listings/internal/codec"
	"github.com/kilupskalvis/listings/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the bbolt backend.
var (
	bucketCounters = []byte(RegionCounters)
	bucketHouses   = []byte(RegionHouses)
)

// BboltStore implements Store on a single embedded bbolt file.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &BboltStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the counter and record buckets and seeds the id counter.
func (s *BboltStore) initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCounters, bucketHouses} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		counters := tx.Bucket(bucketCounters)
		if counters.Get([]byte(counterHouseID)) == nil {
			return counters.Put([]byte(counterHouseID), itob(0))
		}
		return nil
	})
}

// Close closes the database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves a house by id. Returns ErrNotFound if missing.
func (s *BboltStore) Get(_ context.Context, id uint64) (*models.House, error) {
	var house *models.House
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		house, err = getHouse(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return house, nil
}

// Put stores h under h.ID, replacing any previous value.
func (s *BboltStore) Put(_ context.Context, h *models.House) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putHouse(tx, h)
	})
}

// Remove deletes a house and returns its last stored value.
func (s *BboltStore) Remove(_ context.Context, id uint64) (*models.House, error) {
	var house *models.House
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		house, err = getHouse(tx, id)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHouses).Delete(itob(id))
	})
	if err != nil {
		return nil, err
	}
	return house, nil
}

// Iterate walks the houses bucket in key order. Keys are big-endian, so key
// order is ascending id order.
func (s *BboltStore) Iterate(ctx context.Context, fn func(*models.House) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHouses).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			house, err := codec.Decode(v)
			if err != nil {
				return corrupt(btoi(k), err)
			}
			return fn(house)
		})
	})
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// Update applies fn to a house inside a single write transaction.
func (s *BboltStore) Update(_ context.Context, id uint64, fn func(*models.House) error) (*models.House, error) {
	var house *models.House
	err := s.db.Update(func(tx *bolt.Tx) error {
		h, err := getHouse(tx, id)
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
		if err := putHouse(tx, h); err != nil {
			return err
		}
		house = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return house, nil
}

// Create allocates the next id and stores the built house in one transaction.
// If build or the write fails, the counter increment is rolled back too.
func (s *BboltStore) Create(_ context.Context, build func(id uint64) (*models.House, error)) (*models.House, error) {
	var house *models.House
	err := s.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx)
		if err != nil {
			return err
		}
		h, err := build(id)
		if err != nil {
			return err
		}
		if err := putHouse(tx, h); err != nil {
			return err
		}
		house = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return house, nil
}

// NextID increments and returns the persistent id counter.
func (s *BboltStore) NextID(_ context.Context) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = nextID(tx)
		return err
	})
	return id, err
}

// Ping verifies both buckets are present.
func (s *BboltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCounters, bucketHouses} {
			if tx.Bucket(name) == nil {
				return fmt.Errorf("bucket %s missing", name)
			}
		}
		return nil
	})
}

// WriteSnapshot writes a consistent copy of the whole database file to w.
func (s *BboltStore) WriteSnapshot(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

func getHouse(tx *bolt.Tx, id uint64) (*models.House, error) {
	data := tx.Bucket(bucketHouses).Get(itob(id))
	if data == nil {
		return nil, ErrNotFound
	}
	house, err := codec.Decode(data)
	if err != nil {
		return nil, corrupt(id, err)
	}
	return house, nil
}

func putHouse(tx *bolt.Tx, h *models.House) error {
	data, err := codec.Encode(h)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketHouses).Put(itob(h.ID), data); err != nil {
		return fmt.Errorf("store house %d: %w", h.ID, err)
	}
	return nil
}

func nextID(tx *bolt.Tx) (uint64, error) {
	b := tx.Bucket(bucketCounters)
	var current uint64
	if v := b.Get([]byte(counterHouseID)); v != nil {
		current = btoi(v)
	}
	next := current + 1
	if err := b.Put([]byte(counterHouseID), itob(next)); err != nil {
		return 0, fmt.Errorf("store id counter: %w", err)
	}
	return next, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
