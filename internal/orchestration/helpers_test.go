package orchestration

import (
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/events"
	"github.com/shardorch/shardorch/internal/rule"
)

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(5 * time.Millisecond)
}

func plain(t *testing.T, name string) *datasource.SingleDB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return datasource.NewSingleDB(name, db)
}

func group(t *testing.T, name string, master datasource.DataSource, algorithm string, slaves ...datasource.DataSource) *datasource.MasterSlavesDB {
	t.Helper()
	g, err := datasource.NewMasterSlavesDB(name, master, slaves, algorithm)
	require.NoError(t, err)
	return g
}

// exampleHandles is {"ds0": plain, "ms1": group(ds1, {ds2}, ROUND_ROBIN)}.
func exampleHandles(t *testing.T) map[string]datasource.DataSource {
	t.Helper()
	return map[string]datasource.DataSource{
		"ds0": plain(t, "ds0"),
		"ms1": group(t, "ms1", plain(t, "ds1"), rule.LoadBalanceRoundRobin, plain(t, "ds2")),
	}
}

func exampleRule() rule.ShardingRuleConfiguration {
	return rule.ShardingRuleConfiguration{
		DefaultDataSourceName: "ds0",
		Tables: []rule.TableRuleConfiguration{{
			LogicTable:      "t_order",
			ActualDataNodes: []string{"ds0.t_order_0", "ms1.t_order_1"},
		}},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(e events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(typ events.Type) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
