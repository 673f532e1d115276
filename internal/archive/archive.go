// Package archive keeps a history of every configuration version applied
// in the cluster in object storage. Each version is written once; instances
// racing to archive the same version are deduplicated by a conditional put.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/shardorch/shardorch/internal/events"
	"github.com/shardorch/shardorch/internal/logging"
	"github.com/shardorch/shardorch/internal/objectstore"
)

const contentType = "application/yaml"

// Archiver writes configuration snapshots to an object store. It is an
// events.Sink and reacts to config_applied and config_persisted events that
// carry a payload.
type Archiver struct {
	store  objectstore.Store
	prefix string
	logger *logging.Logger
}

// Entry is one archived configuration version.
type Entry struct {
	Version      int64
	Key          string
	Size         int64
	LastModified int64
}

// New creates an archiver writing under prefix.
func New(store objectstore.Store, prefix string, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.Global()
	}
	return &Archiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(map[string]any{"component": "archive"}),
	}
}

// Key returns the object key of a version. Versions are zero padded so
// keys sort in version order.
func (a *Archiver) Key(name string, version int64) string {
	return path.Join(a.prefix, name, fmt.Sprintf("%020d.yaml", version))
}

func (a *Archiver) Publish(ctx context.Context, e events.Event) error {
	if e.Type != events.ConfigApplied && e.Type != events.ConfigPersisted {
		return nil
	}
	if len(e.Payload) == 0 || e.Version <= 0 {
		return nil
	}
	return a.Put(ctx, e.ConfigName, e.Version, e.Payload, e.InstanceID)
}

// Put archives one version. Archiving a version that already exists is
// not an error.
func (a *Archiver) Put(ctx context.Context, name string, version int64, data []byte, instanceID string) error {
	key := a.Key(name, version)
	meta := map[string]string{"version": strconv.FormatInt(version, 10)}
	if instanceID != "" {
		meta["instance"] = instanceID
	}

	err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, objectstore.PutOptions{
		Metadata:    meta,
		IfNoneMatch: "*",
	})
	if errors.Is(err, objectstore.ErrPreconditionFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to archive %s version %d: %w", name, version, err)
	}
	a.logger.Debugf("configuration archived", map[string]any{
		"config":  name,
		"version": version,
		"key":     key,
	})
	return nil
}

// List returns the archived versions of name, oldest first.
func (a *Archiver) List(ctx context.Context, name string) ([]Entry, error) {
	objs, err := a.store.List(ctx, path.Join(a.prefix, name)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}
	entries := make([]Entry, 0, len(objs))
	for _, o := range objs {
		base := strings.TrimSuffix(path.Base(o.Key), ".yaml")
		v, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Version: v, Key: o.Key, Size: o.Size, LastModified: o.LastModified})
	}
	return entries, nil
}

// Get returns the archived payload of one version.
func (a *Archiver) Get(ctx context.Context, name string, version int64) ([]byte, error) {
	rc, err := a.store.Get(ctx, a.Key(name, version))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Archiver) Close() error {
	return a.store.Close()
}

var _ events.Sink = (*Archiver)(nil)
