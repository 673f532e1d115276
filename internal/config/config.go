// Package config provides configuration loading and validation for the
// shardorchd daemon. Supports YAML files with SHARDORCH_* environment
// variable overrides (see envBindings).
package config

import (
	"time"

	"github.com/shardorch/shardorch/internal/rule"
)

// Config holds all configuration for a shardorchd instance.
type Config struct {
	Orchestration OrchestrationConfig            `yaml:"orchestration"`
	Metadata      MetadataConfig                 `yaml:"metadata"`
	DataSources   DataSourcesConfig              `yaml:"dataSources"`
	ShardingRule  rule.ShardingRuleConfiguration `yaml:"shardingRule"`

	// Props are tuning properties stored with the rule. Entries here win
	// over PropsFile.
	Props     map[string]string `yaml:"props"`
	PropsFile string            `yaml:"propsFile"`

	Observability ObservabilityConfig `yaml:"observability"`
	Events        EventsConfig        `yaml:"events"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

type OrchestrationConfig struct {
	Name       string `yaml:"name"`
	Overwrite  bool   `yaml:"overwrite"`
	InstanceID string `yaml:"instanceId"`

	// InitRetryMaxMs bounds how long run blocks retrying Init before it starts
	// serving the local configuration and retries in the background. 0 blocks
	// until Init succeeds.
	InitRetryMaxMs    int64 `yaml:"initRetryMaxMs"`
	ShutdownTimeoutMs int64 `yaml:"shutdownTimeoutMs"`
}

type MetadataConfig struct {
	OxiaEndpoint     string `yaml:"oxiaEndpoint"`
	Namespace        string `yaml:"namespace"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs"`
	SessionTimeoutMs int64  `yaml:"sessionTimeoutMs"`

	// Compression of the stored routing configuration: none, gzip, snappy,
	// lz4 or zstd.
	Compression string `yaml:"compression"`
}

type DataSourcesConfig struct {
	Plain       []DataSourceSpec  `yaml:"plain"`
	MasterSlave []MasterSlaveSpec `yaml:"masterSlave"`
}

type DataSourceSpec struct {
	Name              string `yaml:"name"`
	DSN               string `yaml:"dsn"`
	MaxOpenConns      int    `yaml:"maxOpenConns"`
	MaxIdleConns      int    `yaml:"maxIdleConns"`
	ConnMaxLifetimeMs int64  `yaml:"connMaxLifetimeMs"`
}

type MasterSlaveSpec struct {
	Name                 string           `yaml:"name"`
	Master               DataSourceSpec   `yaml:"master"`
	Slaves               []DataSourceSpec `yaml:"slaves"`
	LoadBalanceAlgorithm string           `yaml:"loadBalanceAlgorithm"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	HealthAddr  string `yaml:"healthAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

type EventsConfig struct {
	BufferSize int `yaml:"bufferSize"`

	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	ClientID    string   `yaml:"clientId"`
	CreateTopic bool     `yaml:"createTopic"`
}

type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Prefix       string `yaml:"prefix"`
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			ShutdownTimeoutMs: 30000,
		},
		Metadata: MetadataConfig{
			OxiaEndpoint:     "localhost:6648",
			Namespace:        "default",
			RequestTimeoutMs: 30000,
			SessionTimeoutMs: 15000,
			Compression:      "none",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Events: EventsConfig{
			BufferSize: 256,
			Kafka: KafkaConfig{
				Topic:    "shardorch-events",
				ClientID: "shardorchd",
			},
		},
		Archive: ArchiveConfig{
			Prefix: "shardorch/configs",
			Region: "us-east-1",
		},
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// RequestTimeout returns the metadata request timeout.
func (c MetadataConfig) RequestTimeout() time.Duration { return millis(c.RequestTimeoutMs) }

// SessionTimeout returns the metadata session timeout.
func (c MetadataConfig) SessionTimeout() time.Duration { return millis(c.SessionTimeoutMs) }

// InitRetryMax returns the Init retry budget; 0 means unbounded.
func (c OrchestrationConfig) InitRetryMax() time.Duration { return millis(c.InitRetryMaxMs) }

// ShutdownTimeout returns how long Shutdown may wait for queries.
func (c OrchestrationConfig) ShutdownTimeout() time.Duration { return millis(c.ShutdownTimeoutMs) }
