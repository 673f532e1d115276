package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"reflect"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/magiconair/properties"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/metadata/keys"
	"github.com/shardorch/shardorch/internal/orchestration"
	"github.com/shardorch/shardorch/internal/rule"
)

// EnvConfigPath names the variable Load reads the config file path from.
const EnvConfigPath = "SHARDORCH_CONFIG"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// envBindings maps config keys, as dotted YAML paths, to the environment
// variables that override them.
var envBindings = map[string]string{
	"orchestration.name":              "SHARDORCH_NAME",
	"orchestration.overwrite":         "SHARDORCH_OVERWRITE",
	"orchestration.instanceId":        "SHARDORCH_INSTANCE_ID",
	"orchestration.initRetryMaxMs":    "SHARDORCH_INIT_RETRY_MAX_MS",
	"orchestration.shutdownTimeoutMs": "SHARDORCH_SHUTDOWN_TIMEOUT_MS",
	"metadata.oxiaEndpoint":           "SHARDORCH_OXIA_ENDPOINT",
	"metadata.namespace":              "SHARDORCH_OXIA_NAMESPACE",
	"metadata.requestTimeoutMs":       "SHARDORCH_OXIA_REQUEST_TIMEOUT_MS",
	"metadata.sessionTimeoutMs":       "SHARDORCH_OXIA_SESSION_TIMEOUT_MS",
	"metadata.compression":            "SHARDORCH_CONFIG_COMPRESSION",
	"propsFile":                       "SHARDORCH_PROPS_FILE",
	"observability.metricsAddr":       "SHARDORCH_METRICS_ADDR",
	"observability.healthAddr":        "SHARDORCH_HEALTH_ADDR",
	"observability.logLevel":          "SHARDORCH_LOG_LEVEL",
	"observability.logFormat":         "SHARDORCH_LOG_FORMAT",
	"events.bufferSize":               "SHARDORCH_EVENTS_BUFFER_SIZE",
	"events.kafka.enabled":            "SHARDORCH_KAFKA_ENABLED",
	"events.kafka.brokers":            "SHARDORCH_KAFKA_BROKERS",
	"events.kafka.topic":              "SHARDORCH_KAFKA_TOPIC",
	"events.kafka.clientId":           "SHARDORCH_KAFKA_CLIENT_ID",
	"events.kafka.createTopic":        "SHARDORCH_KAFKA_CREATE_TOPIC",
	"archive.enabled":                 "SHARDORCH_ARCHIVE_ENABLED",
	"archive.prefix":                  "SHARDORCH_ARCHIVE_PREFIX",
	"archive.endpoint":                "SHARDORCH_S3_ENDPOINT",
	"archive.bucket":                  "SHARDORCH_S3_BUCKET",
	"archive.region":                  "SHARDORCH_S3_REGION",
	"archive.accessKey":               "SHARDORCH_S3_ACCESS_KEY",
	"archive.secretKey":               "SHARDORCH_S3_SECRET_KEY",
	"archive.usePathStyle":            "SHARDORCH_S3_USE_PATH_STYLE",
}

// Load reads the file named by SHARDORCH_CONFIG, or starts from Default
// when it is unset, then applies environment overrides.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file over Default and applies environment
// overrides. It does not validate.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and applies environment overrides. The
// file goes through yaml.v3 directly: viper lowercases keys and splits them
// on dots, which would corrupt props such as sql.show.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the bound environment variables that are set and non-empty.
// Only those keys reach the decoder, so everything else in cfg is kept.
func applyEnv(cfg *Config) error {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		// replace slices instead of merging element by element
		dc.ZeroFields = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToList,
		)
	})
	if err != nil {
		return fmt.Errorf("%w: environment override: %w", ErrInvalidConfig, err)
	}
	return nil
}

// stringToList splits comma-separated values into trimmed, non-empty items.
func stringToList(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
		return data, nil
	}
	var items []string
	for _, s := range strings.Split(data.(string), ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return items, nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if err := keys.ValidateName(c.Orchestration.Name); err != nil {
		add("orchestration.name: %w", err)
	}
	if id := c.Orchestration.InstanceID; id != "" {
		if err := keys.ValidateName(id); err != nil {
			add("orchestration.instanceId: %w", err)
		}
	}
	if c.Metadata.OxiaEndpoint == "" {
		add("metadata.oxiaEndpoint is required")
	}
	if c.Metadata.Namespace == "" {
		add("metadata.namespace is required")
	}
	if _, err := orchestration.ParseCompression(c.Metadata.Compression); err != nil {
		add("metadata.compression: %w", err)
	}

	if len(c.DataSources.Plain) == 0 && len(c.DataSources.MasterSlave) == 0 {
		add("dataSources: at least one data source is required")
	}
	for i, ds := range c.DataSources.Plain {
		validateSpec(fmt.Sprintf("dataSources.plain[%d]", i), ds, add)
	}
	for i, g := range c.DataSources.MasterSlave {
		where := fmt.Sprintf("dataSources.masterSlave[%d]", i)
		if g.Name == "" {
			add("%s: name is required", where)
		}
		validateSpec(where+".master", g.Master, add)
		for j, s := range g.Slaves {
			validateSpec(fmt.Sprintf("%s.slaves[%d]", where, j), s, add)
		}
		if _, err := datasource.NewLoadBalancer(g.LoadBalanceAlgorithm); err != nil {
			add("%s: %w", where, err)
		}
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("observability.logLevel: unknown level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		add("observability.logFormat: unknown format %q", c.Observability.LogFormat)
	}

	if k := c.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			add("events.kafka.brokers is required when kafka is enabled")
		}
		if k.Topic == "" {
			add("events.kafka.topic is required when kafka is enabled")
		}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		add("archive.bucket is required when the archive is enabled")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func validateSpec(where string, s DataSourceSpec, add func(string, ...any)) {
	if s.Name == "" {
		add("%s: name is required", where)
	}
	if s.DSN == "" {
		add("%s: dsn is required", where)
	}
}

// ResolvedProps merges PropsFile, if any, with the inline Props. Inline
// entries win.
func (c *Config) ResolvedProps() (map[string]string, error) {
	props := make(map[string]string)
	if c.PropsFile != "" {
		p, err := properties.LoadFile(c.PropsFile, properties.UTF8)
		if err != nil {
			return nil, fmt.Errorf("failed to load props file: %w", err)
		}
		maps.Copy(props, p.Map())
	}
	maps.Copy(props, c.Props)
	return props, nil
}

// DataSourceSpecs converts the declared data sources for datasource.OpenAll.
func (c *Config) DataSourceSpecs() ([]datasource.Spec, []datasource.GroupSpec) {
	plain := make([]datasource.Spec, 0, len(c.DataSources.Plain))
	for _, s := range c.DataSources.Plain {
		plain = append(plain, s.spec())
	}
	groups := make([]datasource.GroupSpec, 0, len(c.DataSources.MasterSlave))
	for _, g := range c.DataSources.MasterSlave {
		gs := datasource.GroupSpec{
			Name:                 g.Name,
			Master:               g.Master.spec(),
			LoadBalanceAlgorithm: g.LoadBalanceAlgorithm,
		}
		for _, s := range g.Slaves {
			gs.Slaves = append(gs.Slaves, s.spec())
		}
		groups = append(groups, gs)
	}
	return plain, groups
}

func (s DataSourceSpec) spec() datasource.Spec {
	return datasource.Spec{
		Name:            s.Name,
		DSN:             s.DSN,
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: millis(s.ConnMaxLifetimeMs),
	}
}

// Rule returns a copy of the configured sharding rule.
func (c *Config) Rule() rule.ShardingRuleConfiguration {
	return c.ShardingRule.Clone()
}
