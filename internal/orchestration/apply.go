package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/events"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/routing"
)

// OnConfigChange applies a configuration observed in the coordination
// service. Versions not newer than the applied one are skipped; invalid
// configurations are rejected and the active snapshot is kept.
func (c *ShardingDataSource) OnConfigChange(ctx context.Context, cfg *OrchestrationConfig, version metadata.Version) {
	c.apply(ctx, cfg, version)
}

// OnConfigDeleted keeps serving the active snapshot. The applied version is
// reset so that a recreated configuration is applied whatever its version.
func (c *ShardingDataSource) OnConfigDeleted(context.Context) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.State() == StateShutdown {
		return
	}

	c.logger.Warnf("stored configuration deleted, keeping active snapshot", map[string]any{
		"version": c.applied,
	})
	c.applied = 0
	c.recorder.SetActiveVersion(0)
	c.emit(events.Event{Type: events.ConfigDeleted})
}

// OnConfigError rejects a stored value that could not be read or decoded.
func (c *ShardingDataSource) OnConfigError(_ context.Context, err error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if c.State() == StateShutdown {
		return
	}
	c.rejectLocked(0, RejectDecode, err)
}

func (c *ShardingDataSource) apply(_ context.Context, cfg *OrchestrationConfig, version metadata.Version) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	if c.State() == StateShutdown {
		return
	}
	if version <= c.applied {
		c.recorder.RecordStale()
		c.logger.Debugf("skipping stale configuration", map[string]any{
			"version": version,
			"applied": c.applied,
		})
		return
	}

	if reason, err := c.check(cfg); err != nil {
		c.rejectLocked(version, reason, err)
		return
	}

	handles := make(map[string]datasource.DataSource, len(cfg.DataSources))
	for _, name := range cfg.DataSources {
		handles[name] = c.handles[name]
	}
	snapshot, err := routing.NewSnapshot(version, cfg.ShardingRule, cfg.Props, handles)
	if err != nil {
		c.rejectLocked(version, RejectInvalid, err)
		return
	}

	c.swapLocked(snapshot, events.ConfigApplied, cfg)
}

// check validates an incoming configuration against this instance.
func (c *ShardingDataSource) check(cfg *OrchestrationConfig) (string, error) {
	if cfg.Name != c.name {
		return RejectNameMismatch, fmt.Errorf("%w: configuration is named %q", ErrInvalidConfig, cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return RejectInvalid, err
	}
	if missing := cfg.Missing(c.local.DataSources); len(missing) > 0 {
		return RejectUnknownDataSource, fmt.Errorf("%w: data sources not available on this instance: %s",
			ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return "", nil
}

// adoptLocal stamps the local configuration with the version it was
// persisted at.
func (c *ShardingDataSource) adoptLocal(version metadata.Version) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	if version <= c.applied {
		return
	}

	snapshot, err := routing.NewSnapshot(version, c.local.ShardingRule, c.local.Props, c.handles)
	if err != nil {
		// validated at construction
		c.rejectLocked(version, RejectInvalid, err)
		return
	}
	c.swapLocked(snapshot, events.ConfigPersisted, c.local)
}

func (c *ShardingDataSource) swapLocked(snapshot *routing.Snapshot, eventType events.Type, cfg *OrchestrationConfig) {
	previous := c.router.SwapActiveConfig(snapshot)
	c.applied = snapshot.Version()
	c.recorder.RecordSwap(int64(snapshot.Version()))

	fields := map[string]any{
		"version": snapshot.Version(),
		"groups":  snapshot.GroupNames(),
	}
	if previous != nil {
		fields["previous"] = previous.Version()
	}
	c.logger.Infof("routing configuration applied", fields)

	e := events.Event{Type: eventType, Version: int64(snapshot.Version())}
	if payload, err := Encode(cfg, CompressionNone); err == nil {
		e.Payload = payload
	}
	c.emit(e)
}

func (c *ShardingDataSource) reject(version metadata.Version, reason string, err error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.rejectLocked(version, reason, err)
}

func (c *ShardingDataSource) rejectLocked(version metadata.Version, reason string, err error) {
	c.recorder.RecordRejection(reason)
	c.logger.Warnf("configuration rejected, keeping active snapshot", map[string]any{
		"version": version,
		"reason":  reason,
		"error":   err.Error(),
		"active":  c.applied,
	})
	c.emit(events.Event{
		Type:    events.ConfigRejected,
		Version: int64(version),
		Reason:  reason,
		Error:   err.Error(),
	})
}

var _ ConfigListener = (*ShardingDataSource)(nil)
