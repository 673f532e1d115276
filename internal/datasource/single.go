package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
)

// SingleDB is a plain handle around one connection pool.
type SingleDB struct {
	name   string
	db     *sql.DB
	closed atomic.Bool
}

// NewSingleDB wraps an already opened pool.
func NewSingleDB(name string, db *sql.DB) *SingleDB {
	return &SingleDB{name: name, db: db}
}

// Spec describes a physical MySQL data source.
type Spec struct {
	Name            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// openDB is replaced in tests.
var openDB = func(spec Spec) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(spec.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// OpenSingleDB opens a pool for spec. No connection is made until first use;
// OpenAll pings.
func OpenSingleDB(spec Spec) (*SingleDB, error) {
	db, err := openDB(spec)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", spec.Name, err)
	}
	if spec.MaxOpenConns > 0 {
		db.SetMaxOpenConns(spec.MaxOpenConns)
	}
	if spec.MaxIdleConns > 0 {
		db.SetMaxIdleConns(spec.MaxIdleConns)
	}
	if spec.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(spec.ConnMaxLifetime)
	}
	return NewSingleDB(spec.Name, db), nil
}

func (s *SingleDB) Name() string { return s.name }

// DB exposes the underlying pool.
func (s *SingleDB) DB() *sql.DB { return s.db }

func (s *SingleDB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *SingleDB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SingleDB) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the pool. Calling it again is a no-op.
func (s *SingleDB) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

var _ DataSource = (*SingleDB)(nil)
