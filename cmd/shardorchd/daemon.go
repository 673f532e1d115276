package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shardorch/shardorch/internal/archive"
	"github.com/shardorch/shardorch/internal/config"
	"github.com/shardorch/shardorch/internal/datasource"
	"github.com/shardorch/shardorch/internal/events"
	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/oxia"
	"github.com/shardorch/shardorch/internal/metrics"
	"github.com/shardorch/shardorch/internal/objectstore"
	"github.com/shardorch/shardorch/internal/objectstore/s3"
	"github.com/shardorch/shardorch/internal/orchestration"
	"github.com/shardorch/shardorch/internal/server"
)

// DaemonOptions configures a Daemon.
type DaemonOptions struct {
	Config *config.Config
	Logger *logging.Logger

	// Store and DataSources replace the Oxia connection and the configured
	// MySQL pools when set. The daemon does not close what it is given.
	Store       metadata.MetadataStore
	DataSources map[string]datasource.DataSource

	// Registry backs every metric. Defaults to the Prometheus default registry.
	Registry *prometheus.Registry

	Version   string
	GitCommit string
	BuildTime string
}

// Daemon is a running shardorchd instance.
type Daemon struct {
	opts   DaemonOptions
	logger *logging.Logger

	store        metadata.MetadataStore
	ownStore     bool
	handles      map[string]datasource.DataSource
	ownHandles   bool
	dispatcher   *events.Dispatcher
	archiveStore objectstore.Store
	coordinator  *orchestration.ShardingDataSource

	healthServer  *server.HealthServer
	metricsServer *metrics.Server

	mu         sync.Mutex
	started    bool
	cancelInit context.CancelFunc
	initDone   sync.WaitGroup
}

// NewDaemon creates a Daemon but does not start it.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon requires a config")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}
	return &Daemon{opts: opts, logger: opts.Logger}, nil
}

// Coordinator returns the coordinator once Start has built it.
func (d *Daemon) Coordinator() *orchestration.ShardingDataSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coordinator
}

// Start connects everything and returns once the coordinator is active or
// the init retry budget is spent. In the latter case the local configuration
// keeps serving, /readyz reports not ready and Init keeps being retried in
// the background. Start fails on invalid configuration or when ctx ends.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	cfg := d.opts.Config
	d.logger.Infof("starting shardorchd", map[string]any{
		"name":      cfg.Orchestration.Name,
		"overwrite": cfg.Orchestration.Overwrite,
		"oxia":      cfg.Metadata.OxiaEndpoint,
		"version":   d.opts.Version,
	})

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if d.opts.Registry != nil {
		registerer, gatherer = d.opts.Registry, d.opts.Registry
	}
	coordMetrics := metrics.NewCoordinationMetricsWithRegistry(registerer)
	orchMetrics := metrics.NewOrchestrationMetricsWithRegistry(registerer)

	d.healthServer = server.NewHealthServer(cfg.Observability.HealthAddr, d.logger)
	d.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, gatherer).WithLogger(d.logger)
	d.healthServer.RegisterHandler("/metrics", d.metricsServer.Handler())

	if err := d.connectStore(ctx, coordMetrics); err != nil {
		return err
	}
	if err := d.openDataSources(ctx); err != nil {
		return err
	}
	if err := d.startEvents(ctx, orchMetrics); err != nil {
		return err
	}

	props, err := cfg.ResolvedProps()
	if err != nil {
		return err
	}
	coordinator, err := orchestration.NewShardingDataSource(orchestration.Options{
		Name:         cfg.Orchestration.Name,
		Overwrite:    cfg.Orchestration.Overwrite,
		Store:        d.store,
		DataSources:  d.handles,
		ShardingRule: cfg.Rule(),
		Props:        props,
		InstanceID:   cfg.Orchestration.InstanceID,
		BuildInfo: orchestration.BuildInfo{
			Version:   d.opts.Version,
			GitCommit: d.opts.GitCommit,
			BuildTime: d.opts.BuildTime,
		},
		Compression: orchestration.Compression(cfg.Metadata.Compression),
		Events:      d.dispatcher,
		Recorder:    orchMetrics,
		Logger:      d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	d.mu.Lock()
	d.coordinator = coordinator
	d.mu.Unlock()

	d.healthServer.RegisterReadinessCheck(server.NewFuncChecker("orchestration", coordinator.CheckReady))
	d.healthServer.RegisterReadinessCheck(server.NewMetadataStoreChecker(d.store))
	if d.archiveStore != nil {
		d.healthServer.RegisterReadinessCheck(server.NewObjectStoreChecker(d.archiveStore, cfg.Archive.Prefix))
	}
	if err := d.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	if cfg.Observability.MetricsAddr != "" && cfg.Observability.MetricsAddr != cfg.Observability.HealthAddr {
		if err := d.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	return d.initOrDegrade(ctx, coordinator)
}

func (d *Daemon) connectStore(ctx context.Context, recorder metadata.OpRecorder) error {
	store := d.opts.Store
	if store == nil {
		cfg := d.opts.Config.Metadata
		oxiaStore, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: cfg.OxiaEndpoint,
			Namespace:      cfg.Namespace,
			RequestTimeout: cfg.RequestTimeout(),
			SessionTimeout: cfg.SessionTimeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to oxia: %w", err)
		}
		store = oxiaStore
		d.ownStore = true
	}
	d.store = metadata.NewInstrumentedStore(store, recorder)
	return nil
}

func (d *Daemon) openDataSources(ctx context.Context) error {
	if d.opts.DataSources != nil {
		d.handles = d.opts.DataSources
		return nil
	}
	plain, groups := d.opts.Config.DataSourceSpecs()
	handles, err := datasource.OpenAll(ctx, plain, groups)
	if err != nil {
		return fmt.Errorf("failed to open data sources: %w", err)
	}
	d.handles = handles
	d.ownHandles = true
	d.logger.Infof("data sources opened", map[string]any{
		"plain":  len(plain),
		"groups": len(groups),
	})
	return nil
}

func (d *Daemon) startEvents(ctx context.Context, recorder events.Recorder) error {
	cfg := d.opts.Config
	sinks := []events.Sink{events.NewLogSink(d.logger)}

	if k := cfg.Events.Kafka; k.Enabled {
		sink, err := events.NewKafkaSink(ctx, events.KafkaConfig{
			Brokers:     k.Brokers,
			Topic:       k.Topic,
			ClientID:    k.ClientID,
			CreateTopic: k.CreateTopic,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if a := cfg.Archive; a.Enabled {
		store, err := s3.New(ctx, s3.Config{
			Bucket:          a.Bucket,
			Region:          a.Region,
			Endpoint:        a.Endpoint,
			AccessKeyID:     a.AccessKey,
			SecretAccessKey: a.SecretKey,
			UsePathStyle:    a.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create archive store: %w", err)
		}
		d.archiveStore = store
		sinks = append(sinks, archive.New(store, a.Prefix, d.logger))
	}

	d.dispatcher = events.NewDispatcher(events.DispatcherConfig{
		Sinks:      sinks,
		BufferSize: cfg.Events.BufferSize,
		Recorder:   recorder,
		Logger:     d.logger,
	})
	return nil
}

// initOrDegrade runs Init within the retry budget. When the coordination
// service is still unreachable after that, the daemon keeps serving the local
// configuration and retries in the background until Shutdown.
func (d *Daemon) initOrDegrade(ctx context.Context, coordinator *orchestration.ShardingDataSource) error {
	err := d.initWithRetry(ctx, coordinator, d.opts.Config.Orchestration.InitRetryMax())
	if err == nil || ctx.Err() != nil || isPermanentInitError(err) {
		return err
	}

	d.logger.Errorf("coordination service unreachable, serving local configuration", map[string]any{
		"error": err.Error(),
	})
	bgCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelInit = cancel
	d.mu.Unlock()

	d.initDone.Add(1)
	go func() {
		defer d.initDone.Done()
		if err := d.initWithRetry(bgCtx, coordinator, 0); err != nil {
			if bgCtx.Err() == nil {
				d.logger.Errorf("background init stopped", map[string]any{"error": err.Error()})
			}
			return
		}
		d.logger.Info("joined orchestration cluster")
	}()
	return nil
}

func isPermanentInitError(err error) bool {
	return errors.Is(err, orchestration.ErrShutdown) || errors.Is(err, orchestration.ErrInvalidConfig)
}

// initWithRetry retries Init with exponential backoff. maxElapsed 0 retries
// until ctx ends.
func (d *Daemon) initWithRetry(ctx context.Context, coordinator *orchestration.ShardingDataSource, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = maxElapsed

	op := func() error {
		err := coordinator.Init(ctx)
		if isPermanentInitError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		d.logger.Warnf("init failed, retrying", map[string]any{
			"error": err.Error(),
			"retry": next.String(),
		})
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

// Shutdown stops serving, leaves the cluster and releases every resource.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	coordinator := d.coordinator
	cancelInit := d.cancelInit
	d.mu.Unlock()

	if cancelInit != nil {
		cancelInit()
	}
	d.initDone.Wait()

	var result *multierror.Error
	if d.healthServer != nil {
		d.healthServer.SetShuttingDown()
	}
	if coordinator != nil {
		if err := coordinator.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.dispatcher != nil {
		if err := d.dispatcher.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing event sinks: %w", err))
		}
	}
	if d.ownHandles {
		if err := datasource.CloseAll(d.handles); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.ownStore && d.store != nil {
		if err := d.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing metadata store: %w", err))
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.healthServer != nil {
		if err := d.healthServer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
