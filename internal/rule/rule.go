// Package rule holds the routing rule model: sharding table rules and the
// master/slave (replica) routing rules derived from replica groups.
package rule

import (
	"fmt"
	"slices"
	"strings"
)

// Load-balance algorithm identifiers for master/slave rules.
const (
	LoadBalanceRoundRobin = "ROUND_ROBIN"
	LoadBalanceRandom     = "RANDOM"
)

// Sharding strategy types.
const (
	StrategyNone     = "none"
	StrategyInline   = "inline"
	StrategyStandard = "standard"
	StrategyComplex  = "complex"
	StrategyHint     = "hint"
)

// ShardingStrategyConfiguration describes how a sharding value is turned into
// a data source or table. The routing algorithm itself is out of scope; the
// configuration is carried so every instance agrees on it.
type ShardingStrategyConfiguration struct {
	Type                string   `yaml:"type"`
	ShardingColumns     []string `yaml:"shardingColumns,omitempty"`
	AlgorithmExpression string   `yaml:"algorithmExpression,omitempty"`
	AlgorithmClassName  string   `yaml:"algorithmClassName,omitempty"`
}

// Clone returns a deep copy, or nil for nil.
func (s *ShardingStrategyConfiguration) Clone() *ShardingStrategyConfiguration {
	if s == nil {
		return nil
	}
	c := *s
	c.ShardingColumns = slices.Clone(s.ShardingColumns)
	return &c
}

// TableRuleConfiguration maps a logic table onto physical data nodes.
type TableRuleConfiguration struct {
	LogicTable string `yaml:"logicTable"`

	// ActualDataNodes lists "dataSource.table" pairs. Empty means the logic
	// table lives on the default data source under its own name.
	ActualDataNodes []string `yaml:"actualDataNodes,omitempty"`

	DatabaseStrategy   *ShardingStrategyConfiguration `yaml:"databaseStrategy,omitempty"`
	TableStrategy      *ShardingStrategyConfiguration `yaml:"tableStrategy,omitempty"`
	KeyGeneratorColumn string                         `yaml:"keyGeneratorColumn,omitempty"`
}

// Clone returns a deep copy.
func (t TableRuleConfiguration) Clone() TableRuleConfiguration {
	t.ActualDataNodes = slices.Clone(t.ActualDataNodes)
	t.DatabaseStrategy = t.DatabaseStrategy.Clone()
	t.TableStrategy = t.TableStrategy.Clone()
	return t
}

// MasterSlaveRuleConfiguration is the replica routing rule of one replica
// group: writes go to the master, reads are balanced over the slaves.
type MasterSlaveRuleConfiguration struct {
	Name                 string   `yaml:"name"`
	MasterDataSourceName string   `yaml:"masterDataSourceName"`
	SlaveDataSourceNames []string `yaml:"slaveDataSourceNames"`
	LoadBalanceAlgorithm string   `yaml:"loadBalanceAlgorithm,omitempty"`
}

// Clone returns a deep copy with the slave names sorted.
func (m MasterSlaveRuleConfiguration) Clone() MasterSlaveRuleConfiguration {
	m.SlaveDataSourceNames = slices.Clone(m.SlaveDataSourceNames)
	if m.SlaveDataSourceNames == nil {
		m.SlaveDataSourceNames = []string{}
	}
	slices.Sort(m.SlaveDataSourceNames)
	return m
}

// Algorithm returns the load-balance algorithm, defaulting to round robin.
func (m MasterSlaveRuleConfiguration) Algorithm() string {
	if m.LoadBalanceAlgorithm == "" {
		return LoadBalanceRoundRobin
	}
	return m.LoadBalanceAlgorithm
}

// DataSourceNames returns the master followed by the slaves.
func (m MasterSlaveRuleConfiguration) DataSourceNames() []string {
	return append([]string{m.MasterDataSourceName}, m.SlaveDataSourceNames...)
}

// ShardingRuleConfiguration is the full routing rule shared by every
// instance of an orchestration name.
type ShardingRuleConfiguration struct {
	Tables                  []TableRuleConfiguration       `yaml:"tables,omitempty"`
	BindingTableGroups      []string                       `yaml:"bindingTableGroups,omitempty"`
	DefaultDataSourceName   string                         `yaml:"defaultDataSourceName,omitempty"`
	DefaultDatabaseStrategy *ShardingStrategyConfiguration `yaml:"defaultDatabaseStrategy,omitempty"`
	DefaultTableStrategy    *ShardingStrategyConfiguration `yaml:"defaultTableStrategy,omitempty"`
	MasterSlaveRules        []MasterSlaveRuleConfiguration `yaml:"masterSlaveRules,omitempty"`
}

// Clone returns a deep copy that shares no slices with r.
func (r ShardingRuleConfiguration) Clone() ShardingRuleConfiguration {
	c := r
	c.Tables = nil
	for _, t := range r.Tables {
		c.Tables = append(c.Tables, t.Clone())
	}
	c.BindingTableGroups = slices.Clone(r.BindingTableGroups)
	c.DefaultDatabaseStrategy = r.DefaultDatabaseStrategy.Clone()
	c.DefaultTableStrategy = r.DefaultTableStrategy.Clone()
	c.MasterSlaveRules = nil
	for _, ms := range r.MasterSlaveRules {
		c.MasterSlaveRules = append(c.MasterSlaveRules, ms.Clone())
	}
	return c
}

// TableRule returns the rule for a logic table. Matching is case-insensitive
// like SQL identifiers.
func (r ShardingRuleConfiguration) TableRule(logicTable string) (TableRuleConfiguration, bool) {
	for _, t := range r.Tables {
		if strings.EqualFold(t.LogicTable, logicTable) {
			return t, true
		}
	}
	return TableRuleConfiguration{}, false
}

// MasterSlaveRule returns the replica rule named name.
func (r ShardingRuleConfiguration) MasterSlaveRule(name string) (MasterSlaveRuleConfiguration, bool) {
	for _, ms := range r.MasterSlaveRules {
		if ms.Name == name {
			return ms, true
		}
	}
	return MasterSlaveRuleConfiguration{}, false
}

// DataNode is one physical location of a logic table.
type DataNode struct {
	DataSource string
	Table      string
}

func (n DataNode) String() string {
	return n.DataSource + "." + n.Table
}

// ParseDataNode parses "dataSource.table".
func ParseDataNode(s string) (DataNode, error) {
	ds, table, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || ds == "" || table == "" || strings.Contains(table, ".") {
		return DataNode{}, fmt.Errorf("%w: data node %q is not dataSource.table", ErrInvalidRule, s)
	}
	return DataNode{DataSource: ds, Table: table}, nil
}

// DataNodes resolves the physical nodes of a table rule. Rules without
// explicit nodes fall back to defaultDataSource.
func (t TableRuleConfiguration) DataNodes(defaultDataSource string) ([]DataNode, error) {
	if len(t.ActualDataNodes) == 0 {
		if defaultDataSource == "" {
			return nil, fmt.Errorf("%w: table %s has no data nodes and no default data source", ErrInvalidRule, t.LogicTable)
		}
		return []DataNode{{DataSource: defaultDataSource, Table: t.LogicTable}}, nil
	}
	nodes := make([]DataNode, 0, len(t.ActualDataNodes))
	for _, raw := range t.ActualDataNodes {
		n, err := ParseDataNode(raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
