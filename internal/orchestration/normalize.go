package orchestration

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/rule"
)

// Normalize flattens declared handles into one map of physical data sources
// and derives a master/slave rule for every replica group.
//
// Plain handles keep their key. A replica group contributes all of its
// members and one rule, even when it has no slaves. Any name claimed twice
// fails with ErrDuplicateDataSource. The returned rule is a new value: the
// rules already present in shardingRule come first, followed by the
// derived ones sorted by group name, so the result does not depend on map
// iteration order. shardingRule itself is not modified.
func Normalize(handles map[string]datasource.DataSource, shardingRule rule.ShardingRuleConfiguration) (
	map[string]datasource.DataSource, rule.ShardingRuleConfiguration, error) {
	flat := make(map[string]datasource.DataSource, len(handles))
	owner := make(map[string]string, len(handles))
	claim := func(name, by string, ds datasource.DataSource) error {
		if prev, ok := owner[name]; ok {
			return fmt.Errorf("%w: %q declared by %s and %s", ErrDuplicateDataSource, name, describe(prev), describe(by))
		}
		owner[name] = by
		if ds != nil {
			flat[name] = ds
		}
		return nil
	}

	var derived []rule.MasterSlaveRuleConfiguration
	// Sorted so the error reported for a collision is stable too.
	for _, key := range slices.Sorted(maps.Keys(handles)) {
		h := handles[key]
		group, ok := h.(datasource.ReplicaGroup)
		if !ok {
			if err := claim(key, key, h); err != nil {
				return nil, rule.ShardingRuleConfiguration{}, err
			}
			continue
		}

		ms := group.Rule()
		if ms.Name != key {
			return nil, rule.ShardingRuleConfiguration{}, fmt.Errorf(
				"%w: replica group %q declared under key %q", ErrDuplicateDataSource, ms.Name, key)
		}
		members := group.Members()
		for _, name := range slices.Sorted(maps.Keys(members)) {
			if err := claim(name, "group:"+key, members[name]); err != nil {
				return nil, rule.ShardingRuleConfiguration{}, err
			}
		}
		derived = append(derived, ms.Clone())
	}

	// Group names are routable, so they may not shadow a physical name.
	for _, ms := range derived {
		if err := claim(ms.Name, "group:"+ms.Name, nil); err != nil {
			return nil, rule.ShardingRuleConfiguration{}, err
		}
	}

	slices.SortFunc(derived, func(a, b rule.MasterSlaveRuleConfiguration) int {
		return strings.Compare(a.Name, b.Name)
	})

	out := shardingRule.Clone()
	for _, ms := range derived {
		if _, exists := out.MasterSlaveRule(ms.Name); exists {
			return nil, rule.ShardingRuleConfiguration{}, fmt.Errorf(
				"%w: master/slave rule %q already present", ErrDuplicateDataSource, ms.Name)
		}
		out.MasterSlaveRules = append(out.MasterSlaveRules, ms)
	}
	return flat, out, nil
}

func describe(owner string) string {
	if g, ok := strings.CutPrefix(owner, "group:"); ok {
		return "replica group " + g
	}
	return "data source " + owner
}
