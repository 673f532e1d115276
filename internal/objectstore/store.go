// Package objectstore defines the object storage the configuration archive
// writes to.
//
//	store, err := s3.New(ctx, s3.Config{Bucket: "shardorch-archive"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/yaml",
//	    objectstore.PutOptions{IfNoneMatch: "*"})
//	if errors.Is(err, objectstore.ErrPreconditionFailed) {
//	    // someone archived it first
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrClosed             = errors.New("object store closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string

	// LastModified is the Unix timestamp (milliseconds) of the last write.
	LastModified int64

	// Metadata contains user-defined key-value metadata.
	Metadata map[string]string
}

// PutOptions configures a Put operation.
type PutOptions struct {
	// Metadata is stored with the object.
	Metadata map[string]string

	// IfNoneMatch set to "*" makes Put fail with ErrPreconditionFailed when
	// the key already exists.
	IfNoneMatch string
}

// Store is the interface for object storage operations. Implementations
// must be safe for concurrent use.
type Store interface {
	// Put stores size bytes read from reader at key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string, opts PutOptions) error

	// Get retrieves an object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head retrieves object metadata without the body.
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, key string) error

	// List returns the objects under prefix in lexicographic key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	Close() error
}
