package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/kilupskalvis/listings/internal/codec"
	"github.com/kilupskalvis/listings/internal/models"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the SQL engines we run on.
type dialect struct {
	driverName string
	schema     []string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// lockClause is appended to the read of a read-modify-write.
	lockClause string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		driverName: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS counters (
				name TEXT PRIMARY KEY,
				value INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS houses (
				id INTEGER PRIMARY KEY,
				data BLOB NOT NULL
			)`,
		},
		placeholder: func(int) string { return "?" },
	},
	DriverPostgres: {
		driverName: "pgx",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS counters (
				name TEXT PRIMARY KEY,
				value BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS houses (
				id BIGINT PRIMARY KEY,
				data BYTEA NOT NULL
			)`,
		},
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		lockClause:  " FOR UPDATE",
	},
}

// SQLStore implements Store over database/sql. The sqlite dialect uses the
// pure-Go modernc driver, postgres goes through pgx.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	qGet     string
	qGetLock string
	qUpsert  string
	qDelete  string
	qScan    string
	qNextID  string
	qSeed    string
}

// NewSQLStore opens a SQL backend. For sqlite, source is a file path; for
// postgres it is a DSN.
func NewSQLStore(driver, source string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	if source == "" {
		return nil, fmt.Errorf("%s: empty data source", driver)
	}

	dsn := source
	if driver == DriverSQLite {
		dir := filepath.Dir(source)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = source + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serialises writers; sqlite would otherwise return
		// SQLITE_BUSY on concurrent read-modify-write transactions.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, dialect: d}
	s.buildQueries()
	if err := s.initialize(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) buildQueries() {
	p := s.dialect.placeholder
	s.qGet = "SELECT data FROM houses WHERE id = " + p(1)
	s.qGetLock = s.qGet + s.dialect.lockClause
	s.qUpsert = fmt.Sprintf(
		"INSERT INTO houses (id, data) VALUES (%s, %s) ON CONFLICT (id) DO UPDATE SET data = excluded.data",
		p(1), p(2))
	s.qDelete = "DELETE FROM houses WHERE id = " + p(1)
	s.qScan = "SELECT id, data FROM houses ORDER BY id"
	s.qNextID = fmt.Sprintf("UPDATE counters SET value = value + 1 WHERE name = %s RETURNING value", p(1))
	s.qSeed = fmt.Sprintf("INSERT INTO counters (name, value) VALUES (%s, 0) ON CONFLICT (name) DO NOTHING", p(1))
}

// initialize creates both regions and seeds the id counter.
func (s *SQLStore) initialize(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.qSeed, counterHouseID); err != nil {
		return fmt.Errorf("failed to seed id counter: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) get(ctx context.Context, q querier, query string, id uint64) (*models.House, error) {
	var data []byte
	err := q.QueryRowContext(ctx, query, int64(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get house %d: %w", id, err)
	}
	house, err := codec.Decode(data)
	if err != nil {
		return nil, corrupt(id, err)
	}
	return house, nil
}

func (s *SQLStore) put(ctx context.Context, q querier, h *models.House) error {
	data, err := codec.Encode(h)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, s.qUpsert, int64(h.ID), data); err != nil {
		return fmt.Errorf("store house %d: %w", h.ID, err)
	}
	return nil
}

func (s *SQLStore) nextID(ctx context.Context, q querier) (uint64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, s.qNextID, counterHouseID).Scan(&id); err != nil {
		return 0, fmt.Errorf("increment id counter: %w", err)
	}
	return uint64(id), nil
}

// Get retrieves a house by id. Returns ErrNotFound if missing.
func (s *SQLStore) Get(ctx context.Context, id uint64) (*models.House, error) {
	return s.get(ctx, s.db, s.qGet, id)
}

// Put stores h under h.ID, replacing any previous value.
func (s *SQLStore) Put(ctx context.Context, h *models.House) error {
	return s.put(ctx, s.db, h)
}

// Remove deletes a house and returns its last stored value.
func (s *SQLStore) Remove(ctx context.Context, id uint64) (*models.House, error) {
	var house *models.House
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		house, err = s.get(ctx, tx, s.qGetLock, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.qDelete, int64(id)); err != nil {
			return fmt.Errorf("delete house %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return house, nil
}

// Iterate scans the houses table in ascending id order.
func (s *SQLStore) Iterate(ctx context.Context, fn func(*models.House) error) error {
	rows, err := s.db.QueryContext(ctx, s.qScan)
	if err != nil {
		return fmt.Errorf("scan houses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return fmt.Errorf("scan house row: %w", err)
		}
		house, err := codec.Decode(data)
		if err != nil {
			return corrupt(uint64(id), err)
		}
		if err := fn(house); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

// Update applies fn to a house inside a single transaction.
func (s *SQLStore) Update(ctx context.Context, id uint64, fn func(*models.House) error) (*models.House, error) {
	var house *models.House
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		h, err := s.get(ctx, tx, s.qGetLock, id)
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
		if err := s.put(ctx, tx, h); err != nil {
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
func (s *SQLStore) Create(ctx context.Context, build func(id uint64) (*models.House, error)) (*models.House, error) {
	var house *models.House
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := s.nextID(ctx, tx)
		if err != nil {
			return err
		}
		h, err := build(id)
		if err != nil {
			return err
		}
		if err := s.put(ctx, tx, h); err != nil {
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
func (s *SQLStore) NextID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, s.db)
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
