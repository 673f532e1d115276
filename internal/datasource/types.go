// Package datasource provides the physical data source handles the
// orchestration layer routes to: plain handles wrapping a *sql.DB, and
// replica groups aggregating a master and its slaves.
package datasource

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shardorch/shardorch/internal/rule"
)

var (
	// ErrClosed is returned by handles after Close.
	ErrClosed = errors.New("datasource: closed")

	// ErrUnknownAlgorithm is returned for an unsupported load-balance algorithm.
	ErrUnknownAlgorithm = errors.New("datasource: unknown load balance algorithm")
)

// DataSource is a named handle to something queries can be sent to.
type DataSource interface {
	Name() string
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// ReplicaGroup is a DataSource made of a master and zero or more slaves.
// Its members are plain handles.
type ReplicaGroup interface {
	DataSource
	Members() map[string]DataSource
	Rule() rule.MasterSlaveRuleConfiguration
}

type masterKey struct{}

// UseMaster marks ctx so that reads on a replica group go to the master.
func UseMaster(ctx context.Context) context.Context {
	return context.WithValue(ctx, masterKey{}, true)
}

// IsMasterForced reports whether UseMaster was applied to ctx.
func IsMasterForced(ctx context.Context) bool {
	forced, _ := ctx.Value(masterKey{}).(bool)
	return forced
}
