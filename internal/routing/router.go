package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Execute once the data source has been closed.
var ErrClosed = errors.New("routing: sharding data source closed")

// Router serves queries from the active snapshot and lets the orchestration
// layer replace it.
type Router interface {
	// Execute runs fn against the snapshot active when the call started.
	Execute(ctx context.Context, fn func(ctx context.Context, s *Snapshot) error) error

	// ActiveConfig returns the snapshot currently serving new queries.
	ActiveConfig() *Snapshot

	// SwapActiveConfig installs s for queries started afterwards and
	// returns the previous snapshot.
	SwapActiveConfig(s *Snapshot) *Snapshot
}

// ShardingDataSource is the query-serving side. Reads of the active
// snapshot are a single atomic load, so queries never wait on the
// coordination service or on a swap in progress.
type ShardingDataSource struct {
	active   atomic.Pointer[Snapshot]
	inflight atomic.Int64
	closed   atomic.Bool
	swaps    atomic.Uint64
}

// NewShardingDataSource creates a router serving initial.
func NewShardingDataSource(initial *Snapshot) *ShardingDataSource {
	ds := &ShardingDataSource{}
	ds.active.Store(initial)
	return ds
}

func (d *ShardingDataSource) Execute(ctx context.Context, fn func(ctx context.Context, s *Snapshot) error) error {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	if d.closed.Load() {
		return ErrClosed
	}
	return fn(ctx, d.active.Load())
}

func (d *ShardingDataSource) ActiveConfig() *Snapshot {
	return d.active.Load()
}

func (d *ShardingDataSource) SwapActiveConfig(s *Snapshot) *Snapshot {
	d.swaps.Add(1)
	return d.active.Swap(s)
}

// Swaps returns how many times the snapshot has been replaced.
func (d *ShardingDataSource) Swaps() uint64 {
	return d.swaps.Load()
}

// InFlight returns the number of Execute calls currently running.
func (d *ShardingDataSource) InFlight() int64 {
	return d.inflight.Load()
}

// Close stops accepting queries. Running queries are not interrupted;
// use Drain to wait for them.
func (d *ShardingDataSource) Close() {
	d.closed.Store(true)
}

// Drain waits until no query is running or ctx is done.
func (d *ShardingDataSource) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for d.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

var _ Router = (*ShardingDataSource)(nil)
