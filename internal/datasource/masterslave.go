package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/ecodeclub/ekit/slice"
	"github.com/hashicorp/go-multierror"

	"github.com/shardorch/shardorch/internal/rule"
)

// MasterSlavesDB is a replica group: writes and forced reads go to the
// master, other reads are balanced across the slaves.
type MasterSlavesDB struct {
	name     string
	master   DataSource
	slaves   []DataSource
	balancer LoadBalancer
}

// NewMasterSlavesDB builds a replica group. Slaves are kept sorted by name
// so the group's rule is deterministic.
func NewMasterSlavesDB(name string, master DataSource, slaves []DataSource, algorithm string) (*MasterSlavesDB, error) {
	if master == nil {
		return nil, fmt.Errorf("datasource %s: master is required", name)
	}
	balancer, err := NewLoadBalancer(algorithm)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", name, err)
	}
	sorted := slices.Clone(slaves)
	slices.SortFunc(sorted, func(a, b DataSource) int { return strings.Compare(a.Name(), b.Name()) })
	return &MasterSlavesDB{
		name:     name,
		master:   master,
		slaves:   sorted,
		balancer: balancer,
	}, nil
}

func (m *MasterSlavesDB) Name() string { return m.name }

// Master returns the master handle.
func (m *MasterSlavesDB) Master() DataSource { return m.master }

// Slaves returns the slave handles sorted by name.
func (m *MasterSlavesDB) Slaves() []DataSource { return slices.Clone(m.slaves) }

// Members returns every constituent handle by name.
func (m *MasterSlavesDB) Members() map[string]DataSource {
	members := make(map[string]DataSource, len(m.slaves)+1)
	members[m.master.Name()] = m.master
	for _, s := range m.slaves {
		members[s.Name()] = s
	}
	return members
}

// Rule describes the group as a replica routing rule.
func (m *MasterSlavesDB) Rule() rule.MasterSlaveRuleConfiguration {
	return rule.MasterSlaveRuleConfiguration{
		Name:                 m.name,
		MasterDataSourceName: m.master.Name(),
		SlaveDataSourceNames: slice.Map(m.slaves, func(_ int, s DataSource) string { return s.Name() }),
		LoadBalanceAlgorithm: m.balancer.Algorithm(),
	}
}

// Pick returns the handle a statement should run on.
func (m *MasterSlavesDB) Pick(ctx context.Context, readOnly bool) DataSource {
	if !readOnly || len(m.slaves) == 0 || IsMasterForced(ctx) {
		return m.master
	}
	return m.slaves[m.balancer.Next(len(m.slaves))]
}

func (m *MasterSlavesDB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return m.Pick(ctx, true).Query(ctx, query, args...)
}

func (m *MasterSlavesDB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.master.Exec(ctx, query, args...)
}

// Ping checks every member.
func (m *MasterSlavesDB) Ping(ctx context.Context) error {
	var result *multierror.Error
	for _, ds := range append([]DataSource{m.master}, m.slaves...) {
		if err := ds.Ping(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", ds.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// Close closes every member.
func (m *MasterSlavesDB) Close() error {
	var result *multierror.Error
	for _, ds := range append([]DataSource{m.master}, m.slaves...) {
		if err := ds.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", ds.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

var _ ReplicaGroup = (*MasterSlavesDB)(nil)
