package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/keys"
)

// PersistResult reports what Persist did.
type PersistResult struct {
	// Written is false when an existing configuration was kept.
	Written bool

	// Version is the version now stored under the config key.
	Version metadata.Version
}

// ConfigListener receives configuration changes. Methods are called on the
// subscription goroutine, one at a time, in the order changes were observed.
type ConfigListener interface {
	// OnConfigChange is called with a decoded, not yet validated configuration.
	OnConfigChange(ctx context.Context, cfg *OrchestrationConfig, version metadata.Version)

	// OnConfigDeleted is called when the stored configuration disappears.
	OnConfigDeleted(ctx context.Context)

	// OnConfigError is called when a stored value cannot be read or decoded.
	OnConfigError(ctx context.Context, err error)
}

// ListenerFuncs adapts plain functions to ConfigListener. Nil fields are
// ignored.
type ListenerFuncs struct {
	Change  func(ctx context.Context, cfg *OrchestrationConfig, version metadata.Version)
	Deleted func(ctx context.Context)
	Error   func(ctx context.Context, err error)
}

func (f ListenerFuncs) OnConfigChange(ctx context.Context, cfg *OrchestrationConfig, version metadata.Version) {
	if f.Change != nil {
		f.Change(ctx, cfg, version)
	}
}

func (f ListenerFuncs) OnConfigDeleted(ctx context.Context) {
	if f.Deleted != nil {
		f.Deleted(ctx)
	}
}

func (f ListenerFuncs) OnConfigError(ctx context.Context, err error) {
	if f.Error != nil {
		f.Error(ctx, err)
	}
}

// ConfigServiceConfig configures a ConfigService.
type ConfigServiceConfig struct {
	Store metadata.MetadataStore
	Name  string

	// Compression applied by Persist. Load and Subscribe read every format.
	Compression Compression

	// NewBackOff is handed to the subscription watcher.
	NewBackOff func() backoff.BackOff

	Logger *logging.Logger
}

// ConfigService stores and watches the configuration of one name.
type ConfigService struct {
	store       metadata.MetadataStore
	name        string
	key         string
	compression Compression
	newBackOff  func() backoff.BackOff
	logger      *logging.Logger
}

// NewConfigService creates a config service for cfg.Name.
func NewConfigService(cfg ConfigServiceConfig) (*ConfigService, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestration: config service requires a store")
	}
	if err := keys.ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	compression, err := ParseCompression(string(cfg.Compression))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &ConfigService{
		store:       cfg.Store,
		name:        cfg.Name,
		key:         keys.ConfigKeyPath(cfg.Name),
		compression: compression,
		newBackOff:  cfg.NewBackOff,
		logger:      logger.WithConfigName(cfg.Name).With(map[string]any{"component": "config-service"}),
	}, nil
}

// Key returns the coordination key the configuration lives under.
func (s *ConfigService) Key() string { return s.key }

// Persist stores cfg. Without overwrite the write only happens if nothing is
// stored yet; an existing configuration wins and is left untouched.
func (s *ConfigService) Persist(ctx context.Context, cfg *OrchestrationConfig, overwrite bool) (PersistResult, error) {
	if cfg.Name != s.name {
		return PersistResult{}, fmt.Errorf("%w: config is named %q, service serves %q", ErrInvalidConfig, cfg.Name, s.name)
	}
	data, err := Encode(cfg, s.compression)
	if err != nil {
		return PersistResult{}, err
	}

	var opts []metadata.PutOption
	if !overwrite {
		opts = append(opts, metadata.WithExpectedVersion(0))
	}
	version, err := s.store.Put(ctx, s.key, data, opts...)
	if err == nil {
		s.logger.Infof("configuration persisted", map[string]any{
			"version":   version,
			"overwrite": overwrite,
			"bytes":     len(data),
		})
		return PersistResult{Written: true, Version: version}, nil
	}
	if overwrite || !errors.Is(err, metadata.ErrVersionMismatch) {
		return PersistResult{}, fmt.Errorf("failed to persist configuration: %w", err)
	}

	existing, err := s.store.Get(ctx, s.key)
	if err != nil {
		return PersistResult{}, fmt.Errorf("failed to read existing configuration: %w", err)
	}
	s.logger.Infof("existing configuration kept", map[string]any{
		"version": existing.Version,
	})
	return PersistResult{Written: false, Version: existing.Version}, nil
}

// Load reads and decodes the stored configuration.
func (s *ConfigService) Load(ctx context.Context) (*OrchestrationConfig, metadata.Version, error) {
	res, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !res.Exists {
		return nil, 0, fmt.Errorf("%w: %s", ErrConfigNotFound, s.name)
	}
	cfg, err := Decode(res.Value)
	if err != nil {
		return nil, res.Version, err
	}
	return cfg, res.Version, nil
}

// Subscription is a running configuration watch.
type Subscription struct {
	service  *ConfigService
	listener ConfigListener
	watcher  *metadata.Watcher

	// touched only on the watcher goroutine
	delivered metadata.Version
	missing   bool

	closeOnce sync.Once
}

// Subscribe starts watching the configuration. After every (re)connect the
// stored value is re-read and delivered if its version was not delivered
// yet; later writes are delivered as they are observed. Each stored
// version reaches the listener once per subscription.
func (s *ConfigService) Subscribe(ctx context.Context, listener ConfigListener) (*Subscription, error) {
	sub := &Subscription{service: s, listener: listener}
	sub.watcher = metadata.NewWatcher(metadata.WatcherConfig{
		Store:      s.store,
		Match:      func(key string) bool { return key == s.key },
		OnChange:   sub.onNotification,
		OnResync:   sub.resync,
		NewBackOff: s.newBackOff,
		Logger:     s.logger,
	})
	if err := sub.watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to configuration: %w", err)
	}
	return sub, nil
}

// Close stops the subscription and waits for a running delivery to return.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(sub.watcher.Close)
}

// Reconnects returns how often the underlying watch was re-established.
func (sub *Subscription) Reconnects() int {
	return sub.watcher.Reconnects()
}

func (sub *Subscription) resync(ctx context.Context) error {
	res, err := sub.service.store.Get(ctx, sub.service.key)
	if err != nil {
		// a failed read drops the stream and is retried with backoff
		return err
	}
	if !res.Exists {
		sub.deleted(ctx)
		return nil
	}
	sub.deliver(ctx, res.Value, res.Version)
	return nil
}

func (sub *Subscription) onNotification(ctx context.Context, n metadata.Notification) {
	if n.Deleted {
		sub.deleted(ctx)
		return
	}
	if n.Value != nil {
		sub.deliver(ctx, n.Value, n.Version)
		return
	}

	// the backend only reported the key; fetch the payload
	res, err := sub.service.store.Get(ctx, sub.service.key)
	if err != nil {
		sub.listener.OnConfigError(ctx, fmt.Errorf("failed to read changed configuration: %w", err))
		return
	}
	if !res.Exists {
		sub.deleted(ctx)
		return
	}
	sub.deliver(ctx, res.Value, res.Version)
}

func (sub *Subscription) deliver(ctx context.Context, data []byte, version metadata.Version) {
	if version <= sub.delivered {
		return
	}
	sub.delivered = version
	sub.missing = false

	cfg, err := Decode(data)
	if err != nil {
		sub.service.logger.Warnf("stored configuration cannot be decoded", map[string]any{
			"version": version,
			"error":   err.Error(),
		})
		sub.listener.OnConfigError(ctx, fmt.Errorf("version %d: %w", version, err))
		return
	}
	sub.listener.OnConfigChange(ctx, cfg, version)
}

func (sub *Subscription) deleted(ctx context.Context) {
	if sub.missing {
		return
	}
	sub.missing = true
	// a recreated key may restart its versions
	sub.delivered = 0
	sub.listener.OnConfigDeleted(ctx)
}
