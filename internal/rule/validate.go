package rule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ecodeclub/ekit/slice"
	"github.com/hashicorp/go-multierror"
)

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("rule: invalid rule")

var strategyTypes = []string{StrategyNone, StrategyInline, StrategyStandard, StrategyComplex, StrategyHint}

var loadBalanceAlgorithms = []string{"", LoadBalanceRoundRobin, LoadBalanceRandom}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Validate checks the rule against the physical data sources available
// locally. Data nodes and the default data source may name either a physical
// data source or a master/slave group; master/slave members must be physical.
// All problems are reported together.
func (r ShardingRuleConfiguration) Validate(dataSourceNames []string) error {
	var result *multierror.Error

	groupNames := slice.Map(r.MasterSlaveRules, func(_ int, ms MasterSlaveRuleConfiguration) string {
		return ms.Name
	})
	seenGroups := make(map[string]struct{}, len(groupNames))
	// member data source -> the group that claimed it first
	members := make(map[string]string)
	for _, ms := range r.MasterSlaveRules {
		for _, member := range ms.members() {
			if owner, taken := members[member]; taken && owner != ms.Name {
				result = multierror.Append(result, invalid("data source %q belongs to master/slave rules %q and %q", member, owner, ms.Name))
				continue
			}
			members[member] = ms.Name
		}
		if _, dup := seenGroups[ms.Name]; dup {
			result = multierror.Append(result, invalid("duplicate master/slave rule %q", ms.Name))
		}
		seenGroups[ms.Name] = struct{}{}
		if slice.Contains(dataSourceNames, ms.Name) {
			result = multierror.Append(result, invalid("master/slave rule %q shadows a data source", ms.Name))
		}
		if err := ms.Validate(dataSourceNames); err != nil {
			result = multierror.Append(result, err)
		}
	}

	routable := append(append([]string{}, dataSourceNames...), groupNames...)

	if r.DefaultDataSourceName != "" && !slice.Contains(routable, r.DefaultDataSourceName) {
		result = multierror.Append(result, invalid("default data source %q does not exist", r.DefaultDataSourceName))
	}
	for _, s := range []*ShardingStrategyConfiguration{r.DefaultDatabaseStrategy, r.DefaultTableStrategy} {
		if err := s.validate("default"); err != nil {
			result = multierror.Append(result, err)
		}
	}

	var logicTables []string
	for _, t := range r.Tables {
		if err := t.validate(routable, r.DefaultDataSourceName); err != nil {
			result = multierror.Append(result, err)
		}
		lower := strings.ToLower(t.LogicTable)
		if slice.Contains(logicTables, lower) {
			result = multierror.Append(result, invalid("duplicate table rule %q", t.LogicTable))
		}
		logicTables = append(logicTables, lower)
	}

	for _, group := range r.BindingTableGroups {
		for _, table := range strings.Split(group, ",") {
			table = strings.ToLower(strings.TrimSpace(table))
			if !slice.Contains(logicTables, table) {
				result = multierror.Append(result, invalid("binding group %q references unknown table %q", group, table))
			}
		}
	}

	return result.ErrorOrNil()
}

// Validate checks a single master/slave rule against the physical data
// sources available locally.
func (m MasterSlaveRuleConfiguration) Validate(dataSourceNames []string) error {
	var result *multierror.Error

	if m.Name == "" {
		result = multierror.Append(result, invalid("master/slave rule without name"))
	}
	if m.MasterDataSourceName == "" {
		result = multierror.Append(result, invalid("master/slave rule %q has no master", m.Name))
	} else if !slice.Contains(dataSourceNames, m.MasterDataSourceName) {
		result = multierror.Append(result, invalid("master/slave rule %q: master %q does not exist", m.Name, m.MasterDataSourceName))
	}
	seen := make(map[string]struct{}, len(m.SlaveDataSourceNames))
	for _, slave := range m.SlaveDataSourceNames {
		if _, dup := seen[slave]; dup {
			result = multierror.Append(result, invalid("master/slave rule %q lists slave %q twice", m.Name, slave))
			continue
		}
		seen[slave] = struct{}{}
		if slave == m.MasterDataSourceName {
			result = multierror.Append(result, invalid("master/slave rule %q: %q is both master and slave", m.Name, slave))
			continue
		}
		if !slice.Contains(dataSourceNames, slave) {
			result = multierror.Append(result, invalid("master/slave rule %q: slave %q does not exist", m.Name, slave))
		}
	}
	if !slice.Contains(loadBalanceAlgorithms, m.LoadBalanceAlgorithm) {
		result = multierror.Append(result, invalid("master/slave rule %q: unknown load balance algorithm %q", m.Name, m.LoadBalanceAlgorithm))
	}
	return result.ErrorOrNil()
}

// members returns the master followed by the slaves, empty names skipped.
func (m MasterSlaveRuleConfiguration) members() []string {
	out := make([]string, 0, 1+len(m.SlaveDataSourceNames))
	if m.MasterDataSourceName != "" {
		out = append(out, m.MasterDataSourceName)
	}
	for _, s := range m.SlaveDataSourceNames {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (t TableRuleConfiguration) validate(routable []string, defaultDataSource string) error {
	var result *multierror.Error

	if t.LogicTable == "" {
		return invalid("table rule without logic table")
	}
	nodes, err := t.DataNodes(defaultDataSource)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, n := range nodes {
		if !slice.Contains(routable, n.DataSource) {
			result = multierror.Append(result, invalid("table %s: data node %s references unknown data source", t.LogicTable, n))
		}
	}
	for _, s := range []*ShardingStrategyConfiguration{t.DatabaseStrategy, t.TableStrategy} {
		if err := s.validate(t.LogicTable); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *ShardingStrategyConfiguration) validate(owner string) error {
	if s == nil {
		return nil
	}
	if !slice.Contains(strategyTypes, s.Type) {
		return invalid("%s: unknown strategy type %q", owner, s.Type)
	}
	if s.Type != StrategyNone && s.Type != StrategyHint && len(s.ShardingColumns) == 0 {
		return invalid("%s: %s strategy needs sharding columns", owner, s.Type)
	}
	if s.Type == StrategyInline && s.AlgorithmExpression == "" {
		return invalid("%s: inline strategy needs an algorithm expression", owner)
	}
	return nil
}
