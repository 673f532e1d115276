package routing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/rule"
)

var (
	// ErrNoRoute is returned when a logic table resolves to nothing.
	ErrNoRoute = errors.New("routing: no route")

	// ErrUnknownDataSource is returned when a route names a data source the
	// snapshot does not hold.
	ErrUnknownDataSource = errors.New("routing: unknown data source")
)

// Snapshot is an immutable routing configuration. Queries pin one snapshot
// for their whole duration; updates build a new one and swap it in.
type Snapshot struct {
	version     metadata.Version
	rule        rule.ShardingRuleConfiguration
	props       map[string]string
	dataSources map[string]datasource.DataSource
	groups      map[string]*datasource.MasterSlavesDB
	builtAt     time.Time
}

// NewSnapshot validates r against dataSources and builds the replica
// groups its master/slave rules describe. version is the coordination
// service version the configuration was read at, or 0 when it was built
// locally. Inputs are copied.
func NewSnapshot(version metadata.Version, r rule.ShardingRuleConfiguration, props map[string]string,
	dataSources map[string]datasource.DataSource) (*Snapshot, error) {
	names := slices.Sorted(maps.Keys(dataSources))
	if err := r.Validate(names); err != nil {
		return nil, err
	}

	s := &Snapshot{
		version:     version,
		rule:        r.Clone(),
		props:       maps.Clone(props),
		dataSources: maps.Clone(dataSources),
		groups:      make(map[string]*datasource.MasterSlavesDB, len(r.MasterSlaveRules)),
		builtAt:     time.Now(),
	}
	if s.props == nil {
		s.props = map[string]string{}
	}

	for _, ms := range s.rule.MasterSlaveRules {
		slaves := make([]datasource.DataSource, 0, len(ms.SlaveDataSourceNames))
		for _, name := range ms.SlaveDataSourceNames {
			slaves = append(slaves, dataSources[name])
		}
		group, err := datasource.NewMasterSlavesDB(ms.Name, dataSources[ms.MasterDataSourceName], slaves, ms.LoadBalanceAlgorithm)
		if err != nil {
			return nil, err
		}
		s.groups[ms.Name] = group
	}
	return s, nil
}

// Version is the coordination-service version, 0 for a local snapshot.
func (s *Snapshot) Version() metadata.Version { return s.version }

// BuiltAt is when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Rule returns a copy of the routing rule.
func (s *Snapshot) Rule() rule.ShardingRuleConfiguration { return s.rule.Clone() }

// Props returns a copy of the tuning properties.
func (s *Snapshot) Props() map[string]string { return maps.Clone(s.props) }

// Prop returns one tuning property.
func (s *Snapshot) Prop(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

// DataSourceNames returns the physical data source names, sorted.
func (s *Snapshot) DataSourceNames() []string {
	return slices.Sorted(maps.Keys(s.dataSources))
}

// GroupNames returns the replica group names, sorted.
func (s *Snapshot) GroupNames() []string {
	return slices.Sorted(maps.Keys(s.groups))
}

// DataSource resolves a physical data source or replica group by name.
func (s *Snapshot) DataSource(name string) (datasource.DataSource, bool) {
	if g, ok := s.groups[name]; ok {
		return g, true
	}
	ds, ok := s.dataSources[name]
	return ds, ok
}

// Target is one physical destination of a routed statement.
type Target struct {
	Node rule.DataNode

	// DataSource is the physical handle the statement runs on. For nodes on
	// a replica group it is the member chosen for this statement.
	DataSource datasource.DataSource
}

// Route resolves a logic table to its physical targets. Reads on replica
// groups are load balanced unless ctx was marked with datasource.UseMaster;
// writes always hit the master. Tables without a rule go to the default
// data source.
func (s *Snapshot) Route(ctx context.Context, logicTable string, readOnly bool) ([]Target, error) {
	var nodes []rule.DataNode
	if tr, ok := s.rule.TableRule(logicTable); ok {
		resolved, err := tr.DataNodes(s.rule.DefaultDataSourceName)
		if err != nil {
			return nil, err
		}
		nodes = resolved
	} else if s.rule.DefaultDataSourceName != "" {
		nodes = []rule.DataNode{{DataSource: s.rule.DefaultDataSourceName, Table: logicTable}}
	} else {
		return nil, fmt.Errorf("%w: table %s", ErrNoRoute, logicTable)
	}

	targets := make([]Target, 0, len(nodes))
	for _, n := range nodes {
		ds, err := s.pick(ctx, n.DataSource, readOnly)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{Node: n, DataSource: ds})
	}
	return targets, nil
}

func (s *Snapshot) pick(ctx context.Context, name string, readOnly bool) (datasource.DataSource, error) {
	if g, ok := s.groups[name]; ok {
		return g.Pick(ctx, readOnly), nil
	}
	if ds, ok := s.dataSources[name]; ok {
		return ds, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDataSource, name)
}
