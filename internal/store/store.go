// Package store persists House records and allocates their identifiers.
//
// Two logical regions are kept in every backend: a counter region holding the
// last allocated id, and a record table keyed by id. Records are stored in the
// codec package's encoding.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/listings/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	// ErrCorrupt reports stored bytes that do not decode. It is an
	// infrastructure fault, not a caller error.
	ErrCorrupt = errors.New("corrupt record")
	// ErrStop may be returned from an Iterate callback to end the scan early.
	ErrStop = errors.New("stop iteration")
)

// Region names. They are part of the persisted layout.
const (
	RegionCounters = "counters"
	RegionHouses   = "houses"

	counterHouseID = "house_id"
)

// Drivers accepted by Open.
const (
	DriverBbolt    = "bbolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the durable id -> House map together with its id allocator.
type Store interface {
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id uint64) (*models.House, error)
	// Put inserts or replaces the record keyed by h.ID.
	Put(ctx context.Context, h *models.House) error
	// Remove deletes and returns the record, or returns ErrNotFound.
	Remove(ctx context.Context, id uint64) (*models.House, error)
	// Iterate calls fn for every record in ascending id order.
	Iterate(ctx context.Context, fn func(*models.House) error) error
	// Update loads a record, applies fn and persists the result atomically.
	// Nothing is written when fn returns an error.
	Update(ctx context.Context, id uint64, fn func(*models.House) error) (*models.House, error)
	// Create allocates an id, builds the record and persists it atomically.
	Create(ctx context.Context, build func(id uint64) (*models.House, error)) (*models.House, error)
	// NextID allocates and returns a fresh id. The first id is 1.
	NextID(ctx context.Context) (uint64, error)
	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and locates a backend.
type Options struct {
	Driver string
	Path   string // bbolt and sqlite file
	DSN    string // postgres connection string
}

// Open opens the backend named by opts.Driver, creating regions as needed.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverBbolt:
		return NewBboltStore(opts.Path)
	case DriverSQLite:
		return NewSQLStore(DriverSQLite, opts.Path)
	case DriverPostgres:
		return NewSQLStore(DriverPostgres, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func corrupt(id uint64, err error) error {
	return fmt.Errorf("%w: house %d: %v", ErrCorrupt, id, err)
}
