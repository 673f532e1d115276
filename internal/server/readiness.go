package server

import (
	"context"
	"errors"

	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/keys"
	"github.com/shardorch/shardorch/internal/objectstore"
)

// probeKey is never written; reading it only proves the store answers.
const probeKey = keys.Prefix + "/health-check"

// MetadataStoreChecker reports the coordination service reachable when a
// Get succeeds.
type MetadataStoreChecker struct {
	store metadata.MetadataStore
}

func NewMetadataStoreChecker(store metadata.MetadataStore) *MetadataStoreChecker {
	return &MetadataStoreChecker{store: store}
}

func (c *MetadataStoreChecker) Name() string { return "metadata_store" }

func (c *MetadataStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("metadata store not configured")
	}
	_, err := c.store.Get(ctx, probeKey)
	return err
}

// ObjectStoreChecker reports the archive bucket reachable when a List
// succeeds. An empty listing is fine.
type ObjectStoreChecker struct {
	store  objectstore.Store
	prefix string
}

func NewObjectStoreChecker(store objectstore.Store, prefix string) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store, prefix: prefix}
}

func (c *ObjectStoreChecker) Name() string { return "object_store" }

func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	_, err := c.store.List(ctx, c.prefix)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

// FuncChecker wraps a function, for example a coordinator's CheckReady.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
