package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/keys"
)

// InstanceInfo is the presence record an instance publishes under its
// configuration name.
type InstanceInfo struct {
	// InstanceID is unique per process.
	InstanceID string `json:"instanceId"`

	// ConfigName is the orchestration name the instance serves.
	ConfigName string `json:"configName"`

	Host string `json:"host"`
	PID  int    `json:"pid"`

	// StartedAt is the Unix timestamp (milliseconds) when the instance started.
	StartedAt int64 `json:"startedAt"`

	BuildInfo BuildInfo `json:"buildInfo"`
}

// BuildInfo contains version and build metadata.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildTime string `json:"buildTime"`
}

// Started returns StartedAt as a time.
func (i InstanceInfo) Started() time.Time {
	return time.UnixMilli(i.StartedAt)
}

// RegistrarConfig configures a Registrar.
type RegistrarConfig struct {
	Store      metadata.MetadataStore
	Name       string
	InstanceID string

	// Host defaults to os.Hostname.
	Host string

	BuildInfo BuildInfo

	// OnLost is called when the registration disappears while the
	// instance still wants to be registered.
	OnLost func(ctx context.Context)

	// OnRegistered is called after every Register attempt made by the
	// keep-alive, with its result.
	OnRegistered func(ctx context.Context, err error)

	// NewBackOff is handed to the keep-alive watcher.
	NewBackOff func() backoff.BackOff

	Logger *logging.Logger
}

// Registrar manages this instance's ephemeral registration. The record is
// removed by the coordination service when the session ends, so a crashed
// instance disappears without cleanup.
type Registrar struct {
	store  metadata.MetadataStore
	config RegistrarConfig
	key    string
	logger *logging.Logger

	mu         sync.Mutex
	registered bool
	startedAt  int64
	keepAlive  *metadata.Watcher
}

// NewRegistrar creates a registrar for config.InstanceID under config.Name.
func NewRegistrar(config RegistrarConfig) (*Registrar, error) {
	if config.Store == nil {
		return nil, errors.New("orchestration: registrar requires a store")
	}
	if err := keys.ValidateName(config.Name); err != nil {
		return nil, err
	}
	if err := keys.ValidateName(config.InstanceID); err != nil {
		return nil, fmt.Errorf("instance id: %w", err)
	}
	if config.Host == "" {
		config.Host, _ = os.Hostname()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &Registrar{
		store:  config.Store,
		config: config,
		key:    keys.InstanceKeyPath(config.Name, config.InstanceID),
		logger: logger.WithConfigName(config.Name).WithInstanceID(config.InstanceID).
			With(map[string]any{"component": "registrar"}),
		startedAt: time.Now().UnixMilli(),
	}, nil
}

// Key returns the instance key.
func (r *Registrar) Key() string { return r.key }

// Info returns the record this instance publishes.
func (r *Registrar) Info() InstanceInfo {
	return InstanceInfo{
		InstanceID: r.config.InstanceID,
		ConfigName: r.config.Name,
		Host:       r.config.Host,
		PID:        os.Getpid(),
		StartedAt:  r.startedAt,
		BuildInfo:  r.config.BuildInfo,
	}
}

// Register writes the ephemeral instance key. It may be called again to
// restore a registration lost with its session.
func (r *Registrar) Register(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(r.Info())
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}

	if _, err := r.store.PutEphemeral(ctx, r.key, data); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	r.registered = true
	r.logger.Infof("instance registered", map[string]any{
		"host": r.config.Host,
		"key":  r.key,
	})
	return nil
}

// Deregister removes the registration and stops the keep-alive.
func (r *Registrar) Deregister(ctx context.Context) error {
	r.StopKeepAlive()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registered {
		return nil
	}
	r.registered = false

	if err := r.store.Delete(ctx, r.key); err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}
	r.logger.Infof("instance deregistered", map[string]any{
		"key": r.key,
	})
	return nil
}

// IsRegistered reports whether the instance wants to be registered.
func (r *Registrar) IsRegistered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// StartKeepAlive watches the instance key and registers again whenever it
// disappears, for example after session expiry. It requires a prior
// successful Register.
func (r *Registrar) StartKeepAlive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return errors.New("orchestration: keep-alive requires a registered instance")
	}
	if r.keepAlive != nil {
		return nil
	}

	w := metadata.NewWatcher(metadata.WatcherConfig{
		Store: r.store,
		Match: func(key string) bool { return key == r.key },
		OnChange: func(ctx context.Context, n metadata.Notification) {
			if n.Deleted {
				r.restore(ctx)
			}
		},
		OnResync: func(ctx context.Context) error {
			res, err := r.store.Get(ctx, r.key)
			if err != nil {
				return err
			}
			if !res.Exists {
				r.restore(ctx)
			}
			return nil
		},
		NewBackOff: r.config.NewBackOff,
		Logger:     r.logger,
	})
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start instance keep-alive: %w", err)
	}
	r.keepAlive = w
	return nil
}

// StopKeepAlive stops the keep-alive watcher if it runs.
func (r *Registrar) StopKeepAlive() {
	r.mu.Lock()
	w := r.keepAlive
	r.keepAlive = nil
	r.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

func (r *Registrar) restore(ctx context.Context) {
	if !r.IsRegistered() {
		return
	}
	r.logger.Warnf("instance registration lost", map[string]any{
		"key": r.key,
	})
	if r.config.OnLost != nil {
		r.config.OnLost(ctx)
	}

	err := r.Register(ctx)
	if err != nil {
		r.logger.Errorf("instance re-registration failed", map[string]any{
			"error": err.Error(),
		})
	}
	if r.config.OnRegistered != nil {
		r.config.OnRegistered(ctx, err)
	}
}

// List returns the instances registered under the name, sorted by id.
// Records that cannot be decoded are skipped with a warning.
func (r *Registrar) List(ctx context.Context) ([]InstanceInfo, error) {
	return ListInstances(ctx, r.store, r.config.Name, r.logger)
}

// ListInstances lists the instances registered under name.
func ListInstances(ctx context.Context, store metadata.MetadataStore, name string, logger *logging.Logger) ([]InstanceInfo, error) {
	if logger == nil {
		logger = logging.Global()
	}
	kvs, err := store.List(ctx, keys.InstancesPrefix(name), "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	var instances []InstanceInfo
	for _, kv := range kvs {
		if _, _, err := keys.ParseInstanceKey(kv.Key); err != nil {
			continue
		}
		var info InstanceInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			logger.Warnf("failed to unmarshal instance info", map[string]any{
				"key":   kv.Key,
				"error": err.Error(),
			})
			continue
		}
		instances = append(instances, info)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].InstanceID < instances[j].InstanceID
	})
	return instances, nil
}

// GetInstance reads one instance record.
func (r *Registrar) GetInstance(ctx context.Context, instanceID string) (InstanceInfo, bool, error) {
	res, err := r.store.Get(ctx, keys.InstanceKeyPath(r.config.Name, instanceID))
	if err != nil {
		return InstanceInfo{}, false, fmt.Errorf("failed to get instance: %w", err)
	}
	if !res.Exists {
		return InstanceInfo{}, false, nil
	}
	var info InstanceInfo
	if err := json.Unmarshal(res.Value, &info); err != nil {
		return InstanceInfo{}, false, fmt.Errorf("failed to unmarshal instance info: %w", err)
	}
	return info, true, nil
}
