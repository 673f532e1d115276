package main

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shardorch/shardorch/internal/config"
	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/rule"
)

// testConfig returns a config for one data source that binds its servers
// to random local ports.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Orchestration.Name = "sharding_db"
	cfg.Orchestration.InstanceID = "instance-1"
	cfg.Orchestration.InitRetryMaxMs = 5000
	cfg.Observability.HealthAddr = "127.0.0.1:0"
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	cfg.ShardingRule = rule.ShardingRuleConfiguration{
		DefaultDataSourceName: "ds0",
		Tables: []rule.TableRuleConfiguration{{
			LogicTable:      "t_order",
			ActualDataNodes: []string{"ds0.t_order_0"},
		}},
	}
	cfg.Props = map[string]string{"sql.show": "true"}
	return cfg
}

// testHandles returns a single sqlmock-backed data source named ds0.
func testHandles(t *testing.T) map[string]datasource.DataSource {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]datasource.DataSource{"ds0": datasource.NewSingleDB("ds0", db)}
}

func newTestDaemon(t *testing.T, cfg *config.Config, store metadata.MetadataStore) *Daemon {
	t.Helper()
	d, err := NewDaemon(DaemonOptions{
		Config:      cfg,
		Logger:      logging.Discard(),
		Store:       store,
		DataSources: testHandles(t),
		Registry:    prometheus.NewRegistry(),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	return d
}
