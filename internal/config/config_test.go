package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardorch/shardorch/internal/rule"
)

const sampleYAML = `
orchestration:
  name: sharding_db
  overwrite: true
metadata:
  oxiaEndpoint: oxia:6648
  namespace: orders
  compression: zstd
dataSources:
  plain:
    - name: ds0
      dsn: "root:pw@tcp(db0:3306)/orders"
      maxOpenConns: 20
      connMaxLifetimeMs: 60000
  masterSlave:
    - name: ms1
      loadBalanceAlgorithm: ROUND_ROBIN
      master:
        name: ds1
        dsn: "root:pw@tcp(db1:3306)/orders"
      slaves:
        - name: ds2
          dsn: "root:pw@tcp(db2:3306)/orders"
shardingRule:
  defaultDataSourceName: ds0
  tables:
    - logicTable: t_order
      actualDataNodes: [ds0.t_order_0, ms1.t_order_1]
props:
  sql.show: "true"
`

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Metadata.OxiaEndpoint != "localhost:6648" {
		t.Errorf("expected default oxia endpoint localhost:6648, got %s", cfg.Metadata.OxiaEndpoint)
	}
	if cfg.Metadata.SessionTimeout() != 15*time.Second {
		t.Errorf("expected default session timeout 15s, got %s", cfg.Metadata.SessionTimeout())
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("expected default log format json, got %s", cfg.Observability.LogFormat)
	}
	if cfg.Events.Kafka.Enabled || cfg.Archive.Enabled {
		t.Error("expected kafka and archive to be disabled by default")
	}
	if cfg.Orchestration.InitRetryMax() != 0 {
		t.Error("expected unbounded init retry by default")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sharding_db", cfg.Orchestration.Name)
	assert.True(t, cfg.Orchestration.Overwrite)
	assert.Equal(t, "zstd", cfg.Metadata.Compression)
	// untouched sections keep their defaults
	assert.Equal(t, ":9090", cfg.Observability.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Metadata.RequestTimeout())

	assert.Equal(t, "ds0", cfg.Rule().DefaultDataSourceName)
	assert.Equal(t, []string{"ds0.t_order_0", "ms1.t_order_1"}, cfg.Rule().Tables[0].ActualDataNodes)

	plain, groups := cfg.DataSourceSpecs()
	require.Len(t, plain, 1)
	assert.Equal(t, 20, plain[0].MaxOpenConns)
	assert.Equal(t, time.Minute, plain[0].ConnMaxLifetime)
	require.Len(t, groups, 1)
	assert.Equal(t, "ms1", groups[0].Name)
	assert.Equal(t, "ds1", groups[0].Master.Name)
	require.Len(t, groups[0].Slaves, 1)
	assert.Equal(t, rule.LoadBalanceRoundRobin, groups[0].LoadBalanceAlgorithm)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("orchestration: ["))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHARDORCH_NAME", "from_env")
	t.Setenv("SHARDORCH_OVERWRITE", "false")
	t.Setenv("SHARDORCH_OXIA_SESSION_TIMEOUT_MS", "5000")
	t.Setenv("SHARDORCH_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SHARDORCH_KAFKA_ENABLED", "true")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Orchestration.Name)
	assert.False(t, cfg.Orchestration.Overwrite)
	assert.Equal(t, 5*time.Second, cfg.Metadata.SessionTimeout())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.True(t, cfg.Events.Kafka.Enabled)
}

func TestEnvOverrideReplacesList(t *testing.T) {
	t.Setenv("SHARDORCH_KAFKA_BROKERS", "x:9092")

	cfg, err := Parse([]byte("events:\n  kafka:\n    brokers: [a:9092, b:9092, c:9092]\n    topic: t\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "t", cfg.Events.Kafka.Topic)
	assert.Equal(t, 256, cfg.Events.BufferSize)
}

func TestEnvOverrideIgnoresEmpty(t *testing.T) {
	t.Setenv("SHARDORCH_NAME", "")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "sharding_db", cfg.Orchestration.Name)
}

func TestEnvOverrideBadValue(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"SHARDORCH_OVERWRITE", "maybe"},
		{"SHARDORCH_EVENTS_BUFFER_SIZE", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Parse([]byte(sampleYAML))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shardorch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Metadata.Namespace)

	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)

	t.Setenv(EnvConfigPath, "")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Metadata.Namespace)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Orchestration.Name = "" }},
		{"bad instance id", func(c *Config) { c.Orchestration.InstanceID = "a/b" }},
		{"no endpoint", func(c *Config) { c.Metadata.OxiaEndpoint = "" }},
		{"bad compression", func(c *Config) { c.Metadata.Compression = "brotli" }},
		{"no data sources", func(c *Config) { c.DataSources = DataSourcesConfig{} }},
		{"missing dsn", func(c *Config) { c.DataSources.Plain[0].DSN = "" }},
		{"bad algorithm", func(c *Config) { c.DataSources.MasterSlave[0].LoadBalanceAlgorithm = "WEIGHTED" }},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }},
		{"kafka without brokers", func(c *Config) { c.Events.Kafka.Enabled = true }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestResolvedProps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shardorch.properties")
	require.NoError(t, os.WriteFile(path, []byte("sql.show = false\nexecutor.size = 8\n"), 0o600))

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg.PropsFile = path

	props, err := cfg.ResolvedProps()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sql.show": "true", "executor.size": "8"}, props)

	cfg.PropsFile = filepath.Join(t.TempDir(), "missing.properties")
	_, err = cfg.ResolvedProps()
	assert.Error(t, err)
}
