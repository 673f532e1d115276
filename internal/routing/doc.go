// Package routing is the query-serving side of the orchestration layer.
//
// A Snapshot is an immutable, validated routing configuration: the sharding
// rule, tuning properties, the physical data sources and the replica groups
// built from the master/slave rules. ShardingDataSource holds the active
// snapshot behind an atomic pointer. Every query pins the snapshot that was
// active when it started, so a hot swap only affects later queries:
//
//	err := router.Execute(ctx, func(ctx context.Context, s *routing.Snapshot) error {
//	    targets, err := s.Route(ctx, "t_order", true)
//	    if err != nil {
//	        return err
//	    }
//	    rows, err := targets[0].DataSource.Query(ctx, "SELECT ...")
//	    ...
//	})
package routing
