package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/listings/internal/codec"
	"github.com/kilupskalvis/listings/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// backend opens a fresh store rooted in dir. Opening the same dir twice must
// see the same data.
type backend struct {
	name string
	open func(t *testing.T, dir string) Store
}

func backends(t *testing.T) []backend {
	t.Helper()
	list := []backend{
		{
			name: DriverBbolt,
			open: func(t *testing.T, dir string) Store {
				s, err := NewBboltStore(filepath.Join(dir, "listings.db"))
				require.NoError(t, err)
				return s
			},
		},
		{
			name: DriverSQLite,
			open: func(t *testing.T, dir string) Store {
				s, err := NewSQLStore(DriverSQLite, filepath.Join(dir, "listings.sqlite"))
				require.NoError(t, err)
				return s
			},
		},
	}
	if dsn := os.Getenv("LISTINGS_TEST_POSTGRES_DSN"); dsn != "" {
		list = append(list, backend{
			name: DriverPostgres,
			open: func(t *testing.T, _ string) Store {
				s, err := NewSQLStore(DriverPostgres, dsn)
				require.NoError(t, err)
				_, err = s.DB().Exec("TRUNCATE houses; UPDATE counters SET value = 0")
				require.NoError(t, err)
				return s
			},
		})
	}
	return list
}

// forEachBackend runs fn against every backend with a fresh store.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t, t.TempDir())
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func house(id uint64, owner string) *models.House {
	return &models.House{
		ID:             id,
		OwnerName:      owner,
		HouseType:      "Flat",
		Location:       "Nairobi",
		CreatedAt:      100,
		Price:          500,
		AvailableUnits: 2,
		Availability:   true,
	}
}

// ==================== Allocator ====================

func TestStore_NextID_Sequential(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for want := uint64(1); want <= 50; want++ {
			got, err := s.NextID(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}

func TestStore_NextID_SurvivesReopen(t *testing.T) {
	for _, b := range backends(t) {
		if b.name == DriverPostgres {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := b.open(t, dir)
			for i := 0; i < 3; i++ {
				_, err := s.NextID(ctx)
				require.NoError(t, err)
			}
			require.NoError(t, s.Put(ctx, house(3, "Alice")))
			require.NoError(t, s.Close())

			s = b.open(t, dir)
			defer s.Close()

			id, err := s.NextID(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), id)

			got, err := s.Get(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, "Alice", got.OwnerName)
		})
	}
}

func TestStore_NextID_NotReusedAfterRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created, err := s.Create(ctx, func(id uint64) (*models.House, error) {
			return house(id, "Alice"), nil
		})
		require.NoError(t, err)

		_, err = s.Remove(ctx, created.ID)
		require.NoError(t, err)

		next, err := s.NextID(ctx)
		require.NoError(t, err)
		assert.Greater(t, next, created.ID)
	})
}

// ==================== Map ====================

func TestStore_GetPutRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)

		h := house(1, "Alice")
		require.NoError(t, s.Put(ctx, h))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, h, got)

		// Put replaces.
		h.Price = 900
		ts := uint64(200)
		h.UpdatedAt = &ts
		require.NoError(t, s.Put(ctx, h))
		got, err = s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(900), got.Price)
		require.NotNil(t, got.UpdatedAt)
		assert.Equal(t, uint64(200), *got.UpdatedAt)

		removed, err := s.Remove(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, h, removed)

		_, err = s.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Remove(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Put_TooLarge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		h := house(1, "Alice")
		for i := 0; i < 200; i++ {
			h.Buyers = append(h.Buyers, "buyer-with-a-long-principal")
		}
		err := s.Put(ctx, h)
		assert.ErrorIs(t, err, codec.ErrTooLarge)

		_, err = s.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Iterate_AscendingOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		// Insert out of order, including ids past one byte to catch
		// lexicographic key ordering.
		for _, id := range []uint64{300, 2, 256, 1, 17} {
			require.NoError(t, s.Put(ctx, house(id, "owner")))
		}

		var ids []uint64
		err := s.Iterate(ctx, func(h *models.House) error {
			ids = append(ids, h.ID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 17, 256, 300}, ids)

		// Restartable: a second scan sees the same sequence.
		var again []uint64
		require.NoError(t, s.Iterate(ctx, func(h *models.House) error {
			again = append(again, h.ID)
			return nil
		}))
		assert.Equal(t, ids, again)
	})
}

func TestStore_Iterate_Stop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for id := uint64(1); id <= 5; id++ {
			require.NoError(t, s.Put(ctx, house(id, "owner")))
		}

		var seen int
		err := s.Iterate(ctx, func(h *models.House) error {
			seen++
			if seen == 2 {
				return ErrStop
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, seen)

		boom := errors.New("boom")
		err = s.Iterate(ctx, func(*models.House) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}

func TestStore_Iterate_Empty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		called := false
		err := s.Iterate(context.Background(), func(*models.House) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})
}

// ==================== Read-modify-write ====================

func TestStore_Update(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, house(1, "Alice")))

		updated, err := s.Update(ctx, 1, func(h *models.House) error {
			h.Price = 750
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(750), updated.Price)

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(750), got.Price)
	})
}

func TestStore_Update_FailureLeavesRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, house(1, "Alice")))

		rejected := errors.New("rejected")
		_, err := s.Update(ctx, 1, func(h *models.House) error {
			h.Price = 1
			return rejected
		})
		assert.ErrorIs(t, err, rejected)

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), got.Price)
	})
}

func TestStore_Update_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		called := false
		_, err := s.Update(context.Background(), 42, func(*models.House) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, called)
	})
}

func TestStore_Create(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.Create(ctx, func(id uint64) (*models.House, error) {
			return house(id, "Alice"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first.ID)

		second, err := s.Create(ctx, func(id uint64) (*models.House, error) {
			return house(id, "Bob"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), second.ID)

		got, err := s.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "Bob", got.OwnerName)
	})
}

func TestStore_Create_BuildFailureRollsBackCounter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		rejected := errors.New("rejected")
		_, err := s.Create(ctx, func(uint64) (*models.House, error) {
			return nil, rejected
		})
		assert.ErrorIs(t, err, rejected)

		id, err := s.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
	})
}

func TestStore_Ping(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

// ==================== Backend specifics ====================

func TestBboltStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, err := NewBboltStore(filepath.Join(t.TempDir(), "listings.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHouses).Put(itob(9), []byte{0xff, 0x00})
	}))

	_, err = s.Get(ctx, 9)
	assert.ErrorIs(t, err, ErrCorrupt)

	err = s.Iterate(ctx, func(*models.House) error { return nil })
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLStore_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLStore(DriverSQLite, filepath.Join(t.TempDir(), "listings.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().Exec("INSERT INTO houses (id, data) VALUES (?, ?)", 9, []byte{0xff})
	require.NoError(t, err)

	_, err = s.Get(ctx, 9)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBboltStore_WriteSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewBboltStore(filepath.Join(dir, "listings.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, house(1, "Alice")))

	snapPath := filepath.Join(dir, "snapshot.db")
	f, err := os.Create(snapPath)
	require.NoError(t, err)
	n, err := s.WriteSnapshot(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Greater(t, n, int64(0))

	restored, err := NewBboltStore(snapPath)
	require.NoError(t, err)
	defer restored.Close()

	got, err := restored.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.OwnerName)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Options{Path: filepath.Join(dir, "default.db")})
	require.NoError(t, err)
	assert.IsType(t, &BboltStore{}, s)
	s.Close()

	s, err = Open(Options{Driver: DriverSQLite, Path: filepath.Join(dir, "x.sqlite")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	s.Close()

	_, err = Open(Options{Driver: "mongodb"})
	assert.Error(t, err)

	_, err = Open(Options{Driver: DriverPostgres})
	assert.Error(t, err)
}
