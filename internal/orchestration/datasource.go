package orchestration

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/events"
	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/keys"
	"github.com/shardorch/shardorch/internal/routing"
	"github.com/shardorch/shardorch/internal/rule"
)

// Options configures a coordinator.
type Options struct {
	// Name identifies the shared configuration. Every instance using the
	// same name shares one routing configuration.
	Name string

	// Overwrite makes Init replace a stored configuration instead of
	// adopting it.
	Overwrite bool

	Store metadata.MetadataStore

	// DataSources are the declared handles. Replica groups are flattened
	// into their members.
	DataSources map[string]datasource.DataSource

	ShardingRule rule.ShardingRuleConfiguration
	Props        map[string]string

	// InstanceID defaults to a random UUID.
	InstanceID string

	BuildInfo BuildInfo

	// Compression of the stored configuration.
	Compression Compression

	// Events receives lifecycle events. Defaults to events.Discard.
	Events events.Emitter

	// Recorder receives metrics. Optional.
	Recorder Recorder

	// NewBackOff is used by the configuration and instance watchers.
	NewBackOff func() backoff.BackOff

	Logger *logging.Logger
}

// ShardingDataSource coordinates one instance's routing configuration with
// the cluster. It is usable for queries as soon as it is constructed; Init
// connects it to the coordination service.
type ShardingDataSource struct {
	name       string
	instanceID string
	overwrite  bool

	local     *OrchestrationConfig
	handles   map[string]datasource.DataSource
	router    routing.Router
	configs   *ConfigService
	registrar *Registrar

	emitter  events.Emitter
	recorder Recorder
	logger   *logging.Logger

	state atomic.Int32

	// lifecycle serializes Init and Shutdown.
	lifecycle sync.Mutex
	sub       *Subscription

	// applyMu makes the apply path single-writer.
	applyMu sync.Mutex
	applied metadata.Version
}

// NewShardingDataSource normalizes the declared data sources, validates the
// rule against them and builds the local routing snapshot. It does no I/O.
func NewShardingDataSource(opts Options) (*ShardingDataSource, error) {
	if err := keys.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Store == nil {
		return nil, errors.New("orchestration: a metadata store is required")
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithConfigName(opts.Name).WithInstanceID(opts.InstanceID)

	flat, normalized, err := Normalize(opts.DataSources, opts.ShardingRule)
	if err != nil {
		return nil, err
	}

	local := &OrchestrationConfig{
		Name:         opts.Name,
		Overwrite:    opts.Overwrite,
		DataSources:  slices.Sorted(maps.Keys(flat)),
		ShardingRule: normalized,
		Props:        maps.Clone(opts.Props),
	}
	if err := local.Validate(); err != nil {
		return nil, err
	}
	snapshot, err := routing.NewSnapshot(0, local.ShardingRule, local.Props, flat)
	if err != nil {
		return nil, err
	}

	configs, err := NewConfigService(ConfigServiceConfig{
		Store:       opts.Store,
		Name:        opts.Name,
		Compression: opts.Compression,
		NewBackOff:  opts.NewBackOff,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	c := &ShardingDataSource{
		name:       opts.Name,
		instanceID: opts.InstanceID,
		overwrite:  opts.Overwrite,
		local:      local,
		handles:    flat,
		router:     routing.NewShardingDataSource(snapshot),
		configs:    configs,
		emitter:    opts.Events,
		recorder:   opts.Recorder,
		logger:     logger.With(map[string]any{"component": "coordinator"}),
	}
	if c.emitter == nil {
		c.emitter = events.Discard
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}

	c.registrar, err = NewRegistrar(RegistrarConfig{
		Store:      opts.Store,
		Name:       opts.Name,
		InstanceID: opts.InstanceID,
		BuildInfo:  opts.BuildInfo,
		OnLost: func(context.Context) {
			c.emit(events.Event{Type: events.InstanceLost})
		},
		OnRegistered: func(_ context.Context, err error) {
			c.recorder.RecordRegistration(err == nil)
			c.emitRegistered(err)
		},
		NewBackOff: opts.NewBackOff,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	c.setState(StateConstructed)
	c.logger.Infof("sharding data source constructed", map[string]any{
		"dataSources": local.DataSources,
		"groups":      len(local.ShardingRule.MasterSlaveRules),
		"tables":      len(local.ShardingRule.Tables),
	})
	return c, nil
}

// Name returns the configuration name.
func (c *ShardingDataSource) Name() string { return c.name }

// InstanceID returns this instance's id.
func (c *ShardingDataSource) InstanceID() string { return c.instanceID }

// Router returns the query-serving side.
func (c *ShardingDataSource) Router() routing.Router { return c.router }

// State returns the lifecycle state.
func (c *ShardingDataSource) State() State { return State(c.state.Load()) }

// LocalConfig returns a copy of the configuration built at construction.
func (c *ShardingDataSource) LocalConfig() *OrchestrationConfig { return c.local.Clone() }

// AppliedVersion returns the stored version the active snapshot
// corresponds to, 0 while only the local configuration is known.
func (c *ShardingDataSource) AppliedVersion() metadata.Version {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	return c.applied
}

// Instances lists the instances registered under the name.
func (c *ShardingDataSource) Instances(ctx context.Context) ([]InstanceInfo, error) {
	return c.registrar.List(ctx)
}

func (c *ShardingDataSource) setState(s State) {
	c.state.Store(int32(s))
	c.recorder.SetState(int(s))
}

// Init persists the local configuration, subscribes to changes and
// registers the instance. On failure everything started is torn down, the
// state returns to Constructed and Init may be called again; the local
// snapshot keeps serving queries throughout.
func (c *ShardingDataSource) Init(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateActive:
		return nil
	case StateShutdown:
		return ErrShutdown
	}

	c.setState(StateInitializing)
	if err := c.initialize(ctx); err != nil {
		c.setState(StateConstructed)
		c.recorder.RecordInit(false)
		c.logger.Errorf("initialization failed", map[string]any{
			"error": err.Error(),
		})
		c.emit(events.Event{Type: events.InitFailed, Error: err.Error()})
		return err
	}

	c.setState(StateActive)
	c.recorder.RecordInit(true)
	c.logger.Infof("sharding data source active", map[string]any{
		"version": c.AppliedVersion(),
	})
	return nil
}

func (c *ShardingDataSource) initialize(ctx context.Context) (err error) {
	defer func() {
		if err == nil {
			return
		}
		if c.sub != nil {
			c.sub.Close()
			c.sub = nil
		}
		if derr := c.registrar.Deregister(context.WithoutCancel(ctx)); derr != nil {
			c.logger.Warnf("failed to roll back registration", map[string]any{
				"error": derr.Error(),
			})
		}
	}()

	res, err := c.configs.Persist(ctx, c.local, c.overwrite)
	if err != nil {
		c.recorder.RecordPersist(PersistFailed)
		return err
	}
	if res.Written {
		c.recorder.RecordPersist(PersistWritten)
		c.adoptLocal(res.Version)
	} else {
		c.recorder.RecordPersist(PersistKept)
		// the running cluster's configuration is authoritative
		cfg, version, err := c.configs.Load(ctx)
		switch {
		case errors.Is(err, ErrInvalidConfig):
			c.reject(version, RejectDecode, err)
		case err != nil:
			return err
		default:
			c.apply(ctx, cfg, version)
		}
	}

	c.sub, err = c.configs.Subscribe(ctx, c)
	if err != nil {
		return err
	}

	err = c.registrar.Register(ctx)
	c.recorder.RecordRegistration(err == nil)
	c.emitRegistered(err)
	if err != nil {
		return err
	}
	return c.registrar.StartKeepAlive(ctx)
}

// Shutdown deregisters the instance, stops watching the configuration and
// waits for running queries to finish or ctx to end. New queries are
// refused afterwards. Calling it again is a no-op.
func (c *ShardingDataSource) Shutdown(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateShutdown {
		return nil
	}

	var result *multierror.Error
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	if err := c.registrar.Deregister(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	c.applyMu.Lock()
	c.setState(StateShutdown)
	c.applyMu.Unlock()

	if d, ok := c.router.(interface {
		Close()
		Drain(context.Context) error
	}); ok {
		d.Close()
		if err := d.Drain(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("draining queries: %w", err))
		}
	}

	c.emit(events.Event{Type: events.Shutdown})
	c.logger.Info("sharding data source shut down")
	return result.ErrorOrNil()
}

// CheckReady reports ready once the coordinator is synchronized with the
// cluster.
func (c *ShardingDataSource) CheckReady(context.Context) error {
	if s := c.State(); s != StateActive {
		return fmt.Errorf("orchestration %s is %s", c.name, s)
	}
	return nil
}

func (c *ShardingDataSource) emit(e events.Event) {
	e.ConfigName = c.name
	e.InstanceID = c.instanceID
	c.emitter.Emit(e)
}

func (c *ShardingDataSource) emitRegistered(err error) {
	e := events.Event{Type: events.InstanceRegistered}
	if err != nil {
		e.Error = err.Error()
	}
	c.emit(e)
}
