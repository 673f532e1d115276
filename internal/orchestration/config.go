package orchestration

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/shardorch/shardorch/internal/metadata/keys"
	"github.com/shardorch/shardorch/internal/rule"
)

// OrchestrationConfig is the unit every instance of a name shares through
// the coordination service.
type OrchestrationConfig struct {
	Name string `yaml:"name"`

	// Overwrite is the local persist policy and is never stored.
	Overwrite bool `yaml:"-"`

	// DataSources names the physical data sources the rule was built
	// against, sorted.
	DataSources []string `yaml:"dataSources"`

	ShardingRule rule.ShardingRuleConfiguration `yaml:"shardingRule"`

	Props map[string]string `yaml:"props,omitempty"`
}

// Clone returns a deep copy.
func (c *OrchestrationConfig) Clone() *OrchestrationConfig {
	if c == nil {
		return nil
	}
	return &OrchestrationConfig{
		Name:         c.Name,
		Overwrite:    c.Overwrite,
		DataSources:  slices.Clone(c.DataSources),
		ShardingRule: c.ShardingRule.Clone(),
		Props:        maps.Clone(c.Props),
	}
}

// Validate checks the name and the rule against the listed data sources.
func (c *OrchestrationConfig) Validate() error {
	var result *multierror.Error
	if err := keys.ValidateName(c.Name); err != nil {
		result = multierror.Append(result, err)
	}
	seen := make(map[string]struct{}, len(c.DataSources))
	for _, name := range c.DataSources {
		if _, dup := seen[name]; dup {
			result = multierror.Append(result, fmt.Errorf("%w: %q listed twice", ErrDuplicateDataSource, name))
		}
		seen[name] = struct{}{}
	}
	if err := c.ShardingRule.Validate(c.DataSources); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Missing returns the data sources c references that are not in available.
func (c *OrchestrationConfig) Missing(available []string) []string {
	var missing []string
	for _, name := range c.DataSources {
		if !slices.Contains(available, name) {
			missing = append(missing, name)
		}
	}
	return missing
}
