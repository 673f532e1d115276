// Package metrics provides Prometheus metrics for the orchestration layer:
//   - coordination service call latency and outcome, by operation
//   - change notifications received
//   - configuration persists, hot swaps, stale skips and rejections
//   - instance registrations, Init attempts and lifecycle state
//   - lifecycle events handed to sinks
//
// Metrics are exposed via a dedicated HTTP server on /metrics.
//
//	coord := metrics.NewCoordinationMetrics()
//	store := metadata.NewInstrumentedStore(oxiaStore, coord)
//
//	orch := metrics.NewOrchestrationMetrics()
//	ds, err := orchestration.NewShardingDataSource(orchestration.Options{..., Metrics: orch})
//
//	srv := metrics.NewServer(":9090")
//	srv.Start()
package metrics
