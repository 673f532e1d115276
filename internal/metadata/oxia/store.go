package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shardorch/shardorch/internal/metadata"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultSessionTimeout = 15 * time.Second
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint (e.g., "localhost:6648").
	ServiceAddress string

	// Namespace is the Oxia namespace to use. All keys are scoped to it.
	Namespace string

	// RequestTimeout is the timeout for individual requests.
	RequestTimeout time.Duration

	// SessionTimeout bounds how long ephemeral keys outlive a silent client.
	// Oxia rejects values below 5s.
	SessionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.ServiceAddress == "" {
		return errors.New("oxia: service address is required")
	}
	if c.Namespace == "" {
		return errors.New("oxia: namespace is required")
	}
	return nil
}

// Store implements MetadataStore using Oxia.
type Store struct {
	client oxiaclient.SyncClient
	config Config

	mu     sync.RWMutex
	closed bool
}

// New creates a new Oxia metadata store.
func New(_ context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress,
		oxiaclient.WithNamespace(cfg.Namespace),
		oxiaclient.WithRequestTimeout(cfg.RequestTimeout),
		oxiaclient.WithSessionTimeout(cfg.SessionTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", mapError(err))
	}

	return &Store{
		client: client,
		config: cfg,
	}, nil
}

// Oxia versions start at 0 while metadata.Version reserves 0 for "absent",
// so every version crossing the boundary is shifted by one.
func oxiaToMetadataVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

func metadataToOxiaVersion(metaVersion metadata.Version) int64 {
	return int64(metaVersion - 1)
}

// mapError translates client errors into metadata sentinels. Transport
// failures become metadata.ErrUnavailable so callers can retry.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, oxiaclient.ErrUnexpectedVersionId):
		return metadata.ErrVersionMismatch
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", metadata.ErrUnavailable, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return fmt.Errorf("%w: %s", metadata.ErrUnavailable, st.Message())
		}
	}
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, oxiaclient.ErrKeyNotFound) {
			return metadata.GetResult{Exists: false}, nil
		}
		return metadata.GetResult{}, fmt.Errorf("oxia: get %s: %w", key, mapError(err))
	}

	return metadata.GetResult{
		Value:   value,
		Version: oxiaToMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

func versionOptions(expectNotExists bool, expected *metadata.Version) []oxiaclient.PutOption {
	switch {
	case expectNotExists, expected != nil && *expected == 0:
		return []oxiaclient.PutOption{oxiaclient.ExpectedRecordNotExists()}
	case expected != nil:
		return []oxiaclient.PutOption{oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*expected))}
	default:
		return nil
	}
}

// Put stores a value with optional version checking for CAS operations.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.PutOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	oxiaOpts := versionOptions(false, metadata.ExtractExpectedVersion(opts))
	_, version, err := s.client.Put(ctx, key, value, oxiaOpts...)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, metadata.ErrVersionMismatch) {
			return 0, mapped
		}
		return 0, fmt.Errorf("oxia: put %s: %w", key, mapped)
	}
	return oxiaToMetadataVersion(version.VersionId), nil
}

// PutEphemeral stores a value bound to this client's session.
func (s *Store) PutEphemeral(ctx context.Context, key string, value []byte, opts ...metadata.EphemeralOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	expectNotExists, expectedVersion := metadata.ExtractEphemeralOptions(opts)
	oxiaOpts := append([]oxiaclient.PutOption{oxiaclient.Ephemeral()},
		versionOptions(expectNotExists, expectedVersion)...)

	_, version, err := s.client.Put(ctx, key, value, oxiaOpts...)
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, metadata.ErrVersionMismatch) {
			return 0, mapped
		}
		return 0, fmt.Errorf("oxia: put ephemeral %s: %w", key, mapped)
	}
	return oxiaToMetadataVersion(version.VersionId), nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.DeleteOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var oxiaOpts []oxiaclient.DeleteOption
	if expected := metadata.ExtractDeleteExpectedVersion(opts); expected != nil {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*expected)))
	}

	err := s.client.Delete(ctx, key, oxiaOpts...)
	switch {
	case err == nil, errors.Is(err, oxiaclient.ErrKeyNotFound):
		return nil
	case errors.Is(err, oxiaclient.ErrUnexpectedVersionId):
		return metadata.ErrVersionMismatch
	default:
		return fmt.Errorf("oxia: delete %s: %w", key, mapError(err))
	}
}

// List returns keys in the range [startKey, endKey) in lexicographic order.
//
// Oxia sorts keys hierarchically by '/' segments, so a prefix ending in '/'
// is scanned up to prefix+"/", which covers its direct children. Instance
// registrations are laid out as direct children for that reason.
func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if endKey == "" {
		if len(startKey) > 0 && startKey[len(startKey)-1] == '/' {
			endKey = startKey + "/"
		} else {
			endKey = prefixEnd(startKey)
		}
	}

	results := s.client.RangeScan(ctx, startKey, endKey)

	var kvs []metadata.KV
	for result := range results {
		if result.Err != nil {
			go drainRangeScan(results)
			return nil, fmt.Errorf("oxia: list %s: %w", startKey, mapError(result.Err))
		}

		kvs = append(kvs, metadata.KV{
			Key:     result.Key,
			Value:   result.Value,
			Version: oxiaToMetadataVersion(result.Version.VersionId),
		})

		if limit > 0 && len(kvs) >= limit {
			go drainRangeScan(results)
			return kvs, nil
		}
	}
	return kvs, nil
}

// Notifications opens a new notification stream. Each call creates an
// independent Oxia subscription.
func (s *Store) Notifications(ctx context.Context) (metadata.NotificationStream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	oxiaNotifications, err := s.client.GetNotifications()
	if err != nil {
		return nil, fmt.Errorf("oxia: subscribe: %w", mapError(err))
	}

	return &notificationStream{
		notifications: oxiaNotifications,
		ctx:           ctx,
	}, nil
}

// Close releases the client. Ephemeral keys owned by its session are
// removed by the server.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// prefixEnd returns the key that is lexicographically greater than all keys
// with the given prefix.
func prefixEnd(prefix string) string {
	if prefix == "" {
		return ""
	}

	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ metadata.MetadataStore = (*Store)(nil)
